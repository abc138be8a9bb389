// Package natschannel implements channel.Transport over NATS subjects so a
// guest and its host can exchange messages through a shared NATS server.
// Each logical channel uses two subjects, one per direction; the sender
// origin travels in a message header.
package natschannel

import (
	"context"
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/nats-io/nats.go"

	"github.com/embedkit/hostcomm-go/channel"
)

// OriginHeader carries the sender origin on guest-bound messages.
const OriginHeader = "Hostcomm-Origin"

// Config for a NATS-backed channel. Defaults can be loaded via envdecode.
type Config struct {
	// NATSURL like "nats://localhost:4222". ENV: NATS_URL
	NATSURL string `env:"NATS_URL,default=nats://localhost:4222"`
	// SubjectPrefix for both directions. ENV: HOSTCOMM_SUBJECT_PREFIX
	SubjectPrefix string `env:"HOSTCOMM_SUBJECT_PREFIX,default=hostcomm"`
}

// Channel is a NATS transport for one guest/host pair identified by
// channelID. The guest side uses Post/Subscribe; a host process uses Deliver
// and NextPosted against the same channelID.
type Channel struct {
	nc        *nats.Conn
	ownsConn  bool
	channelID string
	prefix    string

	postedSub *nats.Subscription
	postedCh  chan *nats.Msg
}

var _ channel.Transport = (*Channel)(nil)

// New wraps an existing NATS connection. The connection is not closed by
// Close; the caller owns it.
func New(nc *nats.Conn, cfg Config, channelID string) (*Channel, error) {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "hostcomm"
	}
	c := &Channel{nc: nc, channelID: channelID, prefix: prefix}

	// Host-side observation of guest posts is subscription based, so attach
	// it up front; posts before the first NextPosted call are not lost.
	c.postedCh = make(chan *nats.Msg, 100)
	sub, err := nc.ChanSubscribe(c.toHostSubject(), c.postedCh)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", c.toHostSubject(), err)
	}
	c.postedSub = sub
	return c, nil
}

// NewFromEnv dials NATS using envdecode to populate Config. The resulting
// connection is owned by the channel and closed by Close.
func NewFromEnv(channelID string) (*Channel, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	u := cfg.NATSURL
	if u == "" {
		u = nats.DefaultURL
	}
	nc, err := nats.Connect(u)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	c, err := New(nc, cfg, channelID)
	if err != nil {
		nc.Close()
		return nil, err
	}
	c.ownsConn = true
	return c, nil
}

// Close releases the channel's subscriptions and, if the connection was
// dialed by NewFromEnv, the connection itself.
func (c *Channel) Close() error {
	if c.postedSub != nil {
		_ = c.postedSub.Unsubscribe()
	}
	if c.ownsConn {
		c.nc.Close()
	}
	return nil
}

func (c *Channel) toGuestSubject() string { return c.prefix + "." + c.channelID + ".guest" }
func (c *Channel) toHostSubject() string  { return c.prefix + "." + c.channelID + ".host" }

// Post implements channel.Transport.
func (c *Channel) Post(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.nc.Publish(c.toHostSubject(), data)
}

// Subscribe implements channel.Transport. The subscription is flushed to
// the server before Subscribe returns, so a message published immediately
// afterwards is observed by Serve.
func (c *Channel) Subscribe(ctx context.Context) (channel.Subscription, error) {
	ch := make(chan *nats.Msg, 100)
	sub, err := c.nc.ChanSubscribe(c.toGuestSubject(), ch)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", c.toGuestSubject(), err)
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	return &guestSubscription{sub: sub, ch: ch}, nil
}

type guestSubscription struct {
	sub *nats.Subscription
	ch  chan *nats.Msg
}

// Serve implements channel.Subscription. Messages are drained from the
// subscription and handled one at a time.
func (s *guestSubscription) Serve(ctx context.Context, handler channel.HandlerFunc) error {
	defer func() { _ = s.sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.ch:
			in := channel.Inbound{
				Origin: msg.Header.Get(OriginHeader),
				Data:   msg.Data,
			}
			if err := handler(ctx, in); err != nil {
				return err
			}
		}
	}
}

// Deliver publishes a host-originated message to the guest-bound subject
// with the origin header set.
func (c *Channel) Deliver(ctx context.Context, origin string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(c.toGuestSubject())
	msg.Header.Set(OriginHeader, origin)
	msg.Data = data
	return c.nc.PublishMsg(msg)
}

// NextPosted blocks until the guest posts a message or ctx is done.
func (c *Channel) NextPosted(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-c.postedCh:
		return msg.Data, nil
	}
}
