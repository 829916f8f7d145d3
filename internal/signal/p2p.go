package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/petervdpas/goopcall/internal/util"
)

func init() {
	// Dial failures and backoff errors go to stderr by default.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("pubsub", "warn")
	logging.SetLogLevel("mdns", "warn")
}

// presenceEvent is reserved for hub-internal presence announcements and is
// never delivered to subscribers.
const presenceEvent = "$presence"

// P2POptions configures the libp2p host behind a P2PHub.
type P2POptions struct {
	ListenPort int
	// MdnsTag names the LAN discovery service; empty disables mDNS.
	MdnsTag string
	// Bootstrap peers as multiaddrs ending in /p2p/<peer id>.
	Bootstrap   []string
	PresenceTTL time.Duration
}

// P2PHub runs channels as gossipsub topics on a libp2p host. Peers on the
// LAN are found through mDNS; others through the bootstrap list.
type P2PHub struct {
	host        host.Host
	ps          *pubsub.PubSub
	md          mdns.Service
	presenceTTL time.Duration

	mu     sync.Mutex
	topics map[string]*gossipTopic
}

type gossipTopic struct {
	topic *pubsub.Topic
	refs  int
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	if err := n.h.Connect(ctx, pi); err != nil {
		log.Printf("SIGNAL: mdns connect %s: %v", pi.ID, err)
	}
}

func NewP2PHub(ctx context.Context, opts P2POptions) (*P2PHub, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", opts.ListenPort)),
	)
	if err != nil {
		return nil, err
	}

	// An empty tag turns LAN discovery off.
	var md mdns.Service
	if opts.MdnsTag != "" {
		md = mdns.NewMdnsService(h, opts.MdnsTag, &mdnsNotifee{h: h})
		if err := md.Start(); err != nil {
			_ = h.Close()
			return nil, err
		}
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		if md != nil {
			_ = md.Close()
		}
		_ = h.Close()
		return nil, err
	}

	for _, s := range opts.Bootstrap {
		if err := connectBootstrap(ctx, h, s); err != nil {
			log.Printf("SIGNAL: bootstrap %s: %v", s, err)
		}
	}

	ttl := opts.PresenceTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	log.Printf("SIGNAL: libp2p host %s listening on %v", h.ID(), h.Addrs())
	return &P2PHub{
		host:        h,
		ps:          ps,
		md:          md,
		presenceTTL: ttl,
		topics:      make(map[string]*gossipTopic),
	}, nil
}

func connectBootstrap(ctx context.Context, h host.Host, s string) error {
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return err
	}
	pi, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, util.DefaultConnectTimeout)
	defer cancel()
	return h.Connect(ctx, *pi)
}

// join returns the shared topic handle; pubsub rejects a second Join of the
// same topic.
func (h *P2PHub) join(name string) (*pubsub.Topic, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gt, ok := h.topics[name]; ok {
		gt.refs++
		return gt.topic, nil
	}
	t, err := h.ps.Join(name)
	if err != nil {
		return nil, err
	}
	h.topics[name] = &gossipTopic{topic: t, refs: 1}
	return t, nil
}

func (h *P2PHub) leave(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	gt, ok := h.topics[name]
	if !ok {
		return
	}
	if gt.refs--; gt.refs > 0 {
		return
	}
	delete(h.topics, name)
	if err := gt.topic.Close(); err != nil {
		log.Printf("SIGNAL [%s]: close topic: %v", name, err)
	}
}

func (h *P2PHub) Open(ctx context.Context, name string) (Channel, error) {
	topic, err := h.join(name)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", name, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.leave(name)
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	pctx, cancel := context.WithCancel(context.Background())
	c := &gossipChannel{
		hub:    h,
		name:   name,
		topic:  topic,
		sub:    sub,
		out:    newFanout(),
		seen:   make(map[string]time.Time),
		cancel: cancel,
	}
	go c.pump(pctx)
	go c.announce(pctx, announceInterval(h.presenceTTL))
	return c, nil
}

func (h *P2PHub) Close() error {
	if h.md != nil {
		if err := h.md.Close(); err != nil {
			log.Printf("SIGNAL: mdns close: %v", err)
		}
	}
	return h.host.Close()
}

// announceInterval keeps tracked ids fresh: three announcements per TTL
// survive one lost message.
func announceInterval(ttl time.Duration) time.Duration {
	return ttl / 3
}

type presenceAnnouncement struct {
	IDs []string `json:"ids"`
	// Reply asks receivers to announce themselves back.
	Reply bool `json:"reply"`
}

type gossipChannel struct {
	hub    *P2PHub
	name   string
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	out    *fanout
	cancel context.CancelFunc

	mu      sync.Mutex
	tracked []string
	seen    map[string]time.Time
	closed  bool
}

func (c *gossipChannel) Name() string { return c.name }

func (c *gossipChannel) pump(ctx context.Context) {
	defer c.out.close()
	self := c.hub.host.ID()
	for {
		msg, err := c.sub.Next(ctx)
		if err != nil {
			return
		}
		env, err := decode(c.name, msg.Data)
		if err != nil {
			log.Printf("SIGNAL [%s]: dropping malformed message from %s: %v", c.name, msg.ReceivedFrom, err)
			continue
		}
		if env.Event == presenceEvent {
			c.notePresence(ctx, env, msg.ReceivedFrom == self)
			continue
		}
		c.out.publish(env)
	}
}

func (c *gossipChannel) notePresence(ctx context.Context, env *Envelope, fromSelf bool) {
	var a presenceAnnouncement
	if err := json.Unmarshal(env.Payload, &a); err != nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	for _, id := range a.IDs {
		c.seen[id] = now
	}
	mine := append([]string(nil), c.tracked...)
	c.mu.Unlock()

	if a.Reply && !fromSelf && len(mine) > 0 {
		sctx, cancel := context.WithTimeout(ctx, util.DefaultSendTimeout)
		defer cancel()
		if err := c.Send(sctx, presenceEvent, presenceAnnouncement{IDs: mine}); err != nil {
			log.Printf("SIGNAL [%s]: presence reply: %v", c.name, err)
		}
	}
}

// announce re-publishes the tracked ids until ctx ends so remote peers
// never see them age out.
func (c *gossipChannel) announce(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		mine := append([]string(nil), c.tracked...)
		c.mu.Unlock()
		if len(mine) == 0 {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, util.DefaultSendTimeout)
		err := c.Send(sctx, presenceEvent, presenceAnnouncement{IDs: mine})
		cancel()
		if err != nil && ctx.Err() == nil {
			log.Printf("SIGNAL [%s]: presence announce: %v", c.name, err)
		}
	}
}

func (c *gossipChannel) Send(ctx context.Context, event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	return c.topic.Publish(ctx, data)
}

func (c *gossipChannel) Subscribe() (<-chan *Envelope, func()) {
	return c.out.subscribe()
}

func (c *gossipChannel) Track(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.tracked = append(c.tracked, id)
	c.mu.Unlock()
	return c.Send(ctx, presenceEvent, presenceAnnouncement{IDs: []string{id}, Reply: true})
}

// Presence returns ids tracked locally plus those announced by other peers
// within the presence TTL.
func (c *gossipChannel) Presence(ctx context.Context) ([]string, error) {
	cutoff := time.Now().Add(-c.hub.presenceTTL)
	set := make(map[string]struct{})

	c.mu.Lock()
	for _, id := range c.tracked {
		set[id] = struct{}{}
	}
	for id, at := range c.seen {
		if at.After(cutoff) {
			set[id] = struct{}{}
		} else {
			delete(c.seen, id)
		}
	}
	c.mu.Unlock()

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *gossipChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.sub.Cancel()
	c.cancel()
	c.hub.leave(c.name)
	return nil
}
