// Package signal carries call signaling between two participants over named
// broadcast channels. A channel delivers every message to every subscriber,
// the sender included; filtering self-echo is the receiver's job.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrClosed is returned by operations on a closed channel or hub.
var ErrClosed = errors.New("signal: channel closed")

// Envelope is one received message.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// Channel is a joined broadcast channel.
type Channel interface {
	Name() string
	// Send broadcasts payload, JSON encoded, under event.
	Send(ctx context.Context, event string, payload any) error
	// Subscribe returns messages in arrival order until cancel is called
	// or the channel is closed.
	Subscribe() (<-chan *Envelope, func())
	// Track announces id as present on the channel until Close.
	Track(ctx context.Context, id string) error
	// Presence lists ids currently tracked on the channel.
	Presence(ctx context.Context) ([]string, error)
	Close() error
}

// Hub opens channels by name.
type Hub interface {
	Open(ctx context.Context, name string) (Channel, error)
	Close() error
}

// PairName is the channel two participants share, independent of who asks.
func PairName(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "call:" + a + ":" + b
}

type wireMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(wireMessage{Event: event, Payload: raw})
}

func decode(channel string, data []byte) (*Envelope, error) {
	var m wireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Event == "" {
		return nil, errors.New("missing event")
	}
	return &Envelope{Channel: channel, Event: m.Event, Payload: m.Payload}, nil
}

// subscriberBuffer is deep enough for a full negotiation burst (offer,
// answer and a few dozen candidates) without blocking the publisher.
const subscriberBuffer = 256

// fanout delivers envelopes to every subscriber in publish order.
type fanout struct {
	mu     sync.Mutex
	subs   map[chan *Envelope]struct{}
	closed bool
}

func newFanout() *fanout {
	return &fanout{subs: make(map[chan *Envelope]struct{})}
}

func (f *fanout) subscribe() (<-chan *Envelope, func()) {
	ch := make(chan *Envelope, subscriberBuffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *fanout) publish(env *Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- env:
		default:
			log.Printf("SIGNAL [%s]: subscriber full, dropped %s", env.Channel, env.Event)
		}
	}
}

func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		close(ch)
		delete(f.subs, ch)
	}
}
