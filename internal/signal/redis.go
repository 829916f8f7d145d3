package signal

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions selects the server and how long presence entries live
// without a refresh.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

// RedisHub maps channels onto Redis pub/sub and keeps presence in a set per
// channel.
type RedisHub struct {
	client      *redis.Client
	presenceTTL time.Duration
}

// NewRedisHub connects and pings the server.
func NewRedisHub(ctx context.Context, opts RedisOptions) (*RedisHub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	ttl := opts.PresenceTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	log.Printf("SIGNAL: redis connected at %s", opts.Addr)
	return &RedisHub{client: client, presenceTTL: ttl}, nil
}

func (h *RedisHub) Open(ctx context.Context, name string) (Channel, error) {
	ps := h.client.Subscribe(ctx, name)
	// Wait for the subscription confirmation so nothing published after
	// Open returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	c := &redisChannel{
		hub:  h,
		name: name,
		ps:   ps,
		out:  newFanout(),
		stop: make(chan struct{}),
	}
	go c.pump()
	return c, nil
}

func (h *RedisHub) Close() error {
	return h.client.Close()
}

func presenceKey(name string) string {
	return name + ":presence"
}

type redisChannel struct {
	hub  *RedisHub
	name string
	ps   *redis.PubSub
	out  *fanout

	mu      sync.Mutex
	tracked []string
	closed  bool
	stop    chan struct{}
}

func (c *redisChannel) Name() string { return c.name }

func (c *redisChannel) pump() {
	defer c.out.close()
	msgs := c.ps.Channel()
	for {
		select {
		case <-c.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			env, err := decode(c.name, []byte(msg.Payload))
			if err != nil {
				log.Printf("SIGNAL [%s]: dropping malformed message: %v", c.name, err)
				continue
			}
			c.out.publish(env)
		}
	}
}

func (c *redisChannel) Send(ctx context.Context, event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	return c.hub.client.Publish(ctx, c.name, data).Err()
}

func (c *redisChannel) Subscribe() (<-chan *Envelope, func()) {
	return c.out.subscribe()
}

func (c *redisChannel) Track(ctx context.Context, id string) error {
	key := presenceKey(c.name)
	pipe := c.hub.client.TxPipeline()
	pipe.SAdd(ctx, key, id)
	pipe.Expire(ctx, key, c.hub.presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("track %s on %s: %w", id, c.name, err)
	}
	c.mu.Lock()
	c.tracked = append(c.tracked, id)
	c.mu.Unlock()
	return nil
}

func (c *redisChannel) Presence(ctx context.Context) ([]string, error) {
	return c.hub.client.SMembers(ctx, presenceKey(c.name)).Result()
}

func (c *redisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	tracked := c.tracked
	c.tracked = nil
	c.mu.Unlock()

	if len(tracked) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		members := make([]any, len(tracked))
		for i, id := range tracked {
			members[i] = id
		}
		if err := c.hub.client.SRem(ctx, presenceKey(c.name), members...).Err(); err != nil {
			log.Printf("SIGNAL [%s]: presence cleanup: %v", c.name, err)
		}
		cancel()
	}
	close(c.stop)
	return c.ps.Close()
}
