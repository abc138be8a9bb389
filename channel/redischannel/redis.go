// Package redischannel implements channel.Transport over Redis Streams,
// letting a guest and its host exchange messages across process boundaries.
// Each logical channel uses two streams, one per direction.
package redischannel

import (
	"context"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/embedkit/hostcomm-go/channel"
)

// Config for a Redis-backed channel. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: HOSTCOMM_KEY_PREFIX
	KeyPrefix string `env:"HOSTCOMM_KEY_PREFIX,default=hostcomm:"`
}

// Channel is a Redis Streams transport for one guest/host pair, identified
// by channelID. The guest side uses Post/Subscribe; a host process uses
// Deliver and NextPosted against the same channelID.
type Channel struct {
	client    *redis.Client
	channelID string
	keyPrefix string

	// lastPosted tracks the host-side read cursor for NextPosted.
	lastPosted string
	// guestCursor tracks the guest-side read position across
	// subscriptions, so a remount resumes after the last handled message
	// instead of replaying the stream.
	guestCursor string
}

var _ channel.Transport = (*Channel)(nil)

// New connects to Redis and binds a channel. The connection is verified
// with a ping so misconfiguration surfaces at construction time.
func New(cfg Config, channelID string) (*Channel, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "hostcomm:"
	}
	return &Channel{client: cl, channelID: channelID, keyPrefix: prefix, lastPosted: "0", guestCursor: "0"}, nil
}

// NewFromEnv builds a Channel using envdecode to populate Config.
func NewFromEnv(channelID string) (*Channel, error) {
	var cfg Config
	// Use envdecode; defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(cfg, channelID)
}

// Close closes the Redis client.
func (c *Channel) Close() error { return c.client.Close() }

func (c *Channel) toGuestKey() string { return c.keyPrefix + "to_guest:" + c.channelID }
func (c *Channel) toHostKey() string  { return c.keyPrefix + "to_host:" + c.channelID }

// Post implements channel.Transport.
func (c *Channel) Post(ctx context.Context, data []byte) error {
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.toHostKey(),
		Values: map[string]interface{}{"d": data},
	}).Err()
}

// Subscribe implements channel.Transport. The stream itself retains
// messages, so attachment needs no server-side registration: anything added
// after the current cursor is observed by Serve. The cursor lives on the
// Channel and starts at the head of the stream, so the first subscription
// of a fresh channel sees its full history while a resubscription resumes
// after the last handled message.
func (c *Channel) Subscribe(ctx context.Context) (channel.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &guestSubscription{c: c}, nil
}

type guestSubscription struct {
	c *Channel
}

// Serve implements channel.Subscription.
func (s *guestSubscription) Serve(ctx context.Context, handler channel.HandlerFunc) error {
	c := s.c
	key := c.toGuestKey()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		res, err := c.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, c.guestCursor},
			Count:   1,
			Block:   500 * time.Millisecond,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			continue
		}
		for _, m := range res[0].Messages {
			c.guestCursor = m.ID
			in := channel.Inbound{
				Origin: stringValue(m.Values["o"]),
				Data:   bytesValue(m.Values["d"]),
			}
			if err := handler(ctx, in); err != nil {
				return err
			}
		}
	}
}

// Deliver injects a host-originated message into the guest-bound stream.
func (c *Channel) Deliver(ctx context.Context, origin string, data []byte) error {
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.toGuestKey(),
		Values: map[string]interface{}{"o": origin, "d": data},
	}).Err()
}

// NextPosted blocks until the guest posts a message or ctx is done.
func (c *Channel) NextPosted(ctx context.Context) ([]byte, error) {
	key := c.toHostKey()
	for {
		res, err := c.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, c.lastPosted},
			Count:   1,
			Block:   500 * time.Millisecond,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			continue
		}
		m := res[0].Messages[0]
		c.lastPosted = m.ID
		return bytesValue(m.Values["d"]), nil
	}
}

// Cleanup removes both streams for this channel. Best effort.
func (c *Channel) Cleanup(ctx context.Context) error {
	cc := context.WithoutCancel(ctx)
	_, _ = c.client.Del(cc, c.toGuestKey(), c.toHostKey()).Result()
	return nil
}

// Robust payload decoding: accept string or []byte.
func bytesValue(v interface{}) []byte {
	switch v := v.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}

func stringValue(v interface{}) string {
	return string(bytesValue(v))
}
