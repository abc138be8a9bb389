// Package memorychannel provides an in-memory implementation of
// channel.Transport using Go channels for delivery. It is suitable for
// single-process embedding and for tests, where the test plays the host
// side through Deliver and NextPosted.
package memorychannel

import (
	"context"
	"sync"

	"github.com/embedkit/hostcomm-go/channel"
)

// Channel is an in-memory guest/host message channel. The guest side uses
// the channel.Transport methods; the host side injects messages with
// Deliver and observes guest posts with NextPosted.
type Channel struct {
	mu        sync.Mutex
	listeners map[*listener]struct{}

	postedCh chan []byte
}

type listener struct {
	parent *Channel
	ch     chan channel.Inbound
}

var _ channel.Transport = (*Channel)(nil)

// New creates an unconnected in-memory channel.
func New() *Channel {
	return &Channel{
		listeners: make(map[*listener]struct{}),
		postedCh:  make(chan []byte, 100),
	}
}

// Post implements channel.Transport. Posted messages are buffered for the
// host side; when the buffer is full the oldest message is discarded,
// matching the at-most-once posture of the wire contract.
func (c *Channel) Post(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := append([]byte(nil), data...)
	for {
		select {
		case c.postedCh <- msg:
			return nil
		default:
			select {
			case <-c.postedCh:
			default:
			}
		}
	}
}

// Subscribe implements channel.Transport. The listener is registered
// before Subscribe returns, so a message delivered immediately afterwards
// is observed by Serve.
func (c *Channel) Subscribe(ctx context.Context) (channel.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := &listener{parent: c, ch: make(chan channel.Inbound, 100)}

	c.mu.Lock()
	c.listeners[l] = struct{}{}
	c.mu.Unlock()

	return l, nil
}

// Serve implements channel.Subscription. Inbound messages are handled one
// at a time; the subscription is removed on every return path.
func (l *listener) Serve(ctx context.Context, handler channel.HandlerFunc) error {
	defer func() {
		l.parent.mu.Lock()
		delete(l.parent.listeners, l)
		l.parent.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-l.ch:
			if err := handler(ctx, in); err != nil {
				return err
			}
		}
	}
}

// Deliver injects a host-originated message into the channel, fanning it
// out to every active listener.
func (c *Channel) Deliver(ctx context.Context, origin string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in := channel.Inbound{Origin: origin, Data: append([]byte(nil), data...)}

	c.mu.Lock()
	defer c.mu.Unlock()
	for l := range c.listeners {
		select {
		case l.ch <- in:
		default:
			// Listener buffer full; drop for that listener.
		}
	}
	return nil
}

// NextPosted blocks until the guest posts a message or ctx is done.
func (c *Channel) NextPosted(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-c.postedCh:
		return data, nil
	}
}

// ListenerCount reports the number of attached subscriptions.
func (c *Channel) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}
