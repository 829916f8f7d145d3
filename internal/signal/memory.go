package signal

import (
	"context"
	"sort"
	"sync"
)

// MemoryHub connects channels inside one process. Two hubs never see each
// other; participants that should talk must open channels on the same hub.
type MemoryHub struct {
	mu     sync.Mutex
	topics map[string]*memTopic
	closed bool
}

type memTopic struct {
	mu       sync.Mutex
	members  map[*memChannel]struct{}
	presence map[string]int
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{topics: make(map[string]*memTopic)}
}

func (h *MemoryHub) Open(ctx context.Context, name string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	t, ok := h.topics[name]
	if !ok {
		t = &memTopic{members: make(map[*memChannel]struct{}), presence: make(map[string]int)}
		h.topics[name] = t
	}
	c := &memChannel{name: name, topic: t, out: newFanout()}
	t.mu.Lock()
	t.members[c] = struct{}{}
	t.mu.Unlock()
	return c, nil
}

func (h *MemoryHub) Close() error {
	h.mu.Lock()
	topics := h.topics
	h.topics = make(map[string]*memTopic)
	h.closed = true
	h.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		members := make([]*memChannel, 0, len(t.members))
		for c := range t.members {
			members = append(members, c)
		}
		t.mu.Unlock()
		for _, c := range members {
			c.Close()
		}
	}
	return nil
}

type memChannel struct {
	name  string
	topic *memTopic
	out   *fanout

	mu      sync.Mutex
	tracked []string
	closed  bool
}

func (c *memChannel) Name() string { return c.name }

// Send round-trips the payload through JSON so receivers see exactly what a
// network backend would deliver.
func (c *memChannel) Send(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	env, err := decode(c.name, data)
	if err != nil {
		return err
	}

	c.topic.mu.Lock()
	defer c.topic.mu.Unlock()
	for m := range c.topic.members {
		m.out.publish(env)
	}
	return nil
}

func (c *memChannel) Subscribe() (<-chan *Envelope, func()) {
	return c.out.subscribe()
}

func (c *memChannel) Track(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.tracked = append(c.tracked, id)
	c.mu.Unlock()

	c.topic.mu.Lock()
	c.topic.presence[id]++
	c.topic.mu.Unlock()
	return nil
}

func (c *memChannel) Presence(ctx context.Context) ([]string, error) {
	c.topic.mu.Lock()
	defer c.topic.mu.Unlock()
	ids := make([]string, 0, len(c.topic.presence))
	for id := range c.topic.presence {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *memChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	tracked := c.tracked
	c.tracked = nil
	c.mu.Unlock()

	c.topic.mu.Lock()
	delete(c.topic.members, c)
	for _, id := range tracked {
		if c.topic.presence[id]--; c.topic.presence[id] <= 0 {
			delete(c.topic.presence, id)
		}
	}
	c.topic.mu.Unlock()

	c.out.close()
	return nil
}

func (c *memChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
