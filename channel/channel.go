// Package channel adapts a raw cross-context message transport into the
// guest/host protocol. The Adapter owns the protocol duties the transport
// knows nothing about: tagging outbound messages with the protocol version,
// resolving sender origins, and gating inbound messages on version equality
// and origin trust before they reach the reconciler.
//
// Transports are pluggable. The memorychannel, redischannel and natschannel
// subpackages provide implementations; channeltest holds a conformance
// suite any Transport should pass.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/embedkit/hostcomm-go/internal/logctx"
	"github.com/embedkit/hostcomm-go/origins"
	"github.com/embedkit/hostcomm-go/wire"
)

// Inbound is a raw message received from the embedding host, before any
// validation. Origin is the sender origin string as reported by the
// transport ("null" and other non-URL values are possible).
type Inbound struct {
	Origin string
	Data   []byte
}

// HandlerFunc consumes one inbound message. Returning an error terminates
// the subscription.
type HandlerFunc func(ctx context.Context, msg Inbound) error

// Subscription is a live inbound subscription attached to a transport.
type Subscription interface {
	// Serve delivers inbound host messages to handler one at a time (the
	// handler returns before the next message is dequeued) until ctx is
	// cancelled, returning ctx.Err(), or the handler returns an error.
	// The subscription is released on every return path.
	Serve(ctx context.Context, handler HandlerFunc) error
}

// Transport is the raw cross-context message channel between one guest and
// its host.
type Transport interface {
	// Post sends an encoded envelope to the host. Fire and forget: no
	// acknowledgement, at most once.
	Post(ctx context.Context, data []byte) error

	// Subscribe attaches the inbound subscription. The attachment must be
	// complete when Subscribe returns: any message delivered afterwards is
	// observed by Serve.
	Subscribe(ctx context.Context) (Subscription, error)
}

// ErrNoTransport is returned when an Adapter is used without a transport.
var ErrNoTransport = errors.New("channel: no transport configured")

// ValidHandlerFunc consumes one decoded, validated host message.
type ValidHandlerFunc func(ctx context.Context, msg wire.HostMessage) error

// Adapter wraps a Transport with protocol-level send and receive duties.
// The zero trust policy is origins.None: until a matcher is supplied, every
// inbound message is dropped.
type Adapter struct {
	transport Transport
	trusted   origins.Matcher
	log       *slog.Logger
}

// NewAdapter builds an Adapter over the given transport. trusted is the
// externally owned origin predicate; nil means trust nothing. log may be
// nil for the default logger.
func NewAdapter(transport Transport, trusted origins.Matcher, log *slog.Logger) *Adapter {
	if trusted == nil {
		trusted = origins.None
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{transport: transport, trusted: trusted, log: log}
}

// Send encodes msg, merging the current protocol version tag, and posts it
// to the host. One outbound post per call, fire and forget.
func (a *Adapter) Send(ctx context.Context, msg wire.GuestMessage) error {
	if a.transport == nil {
		return ErrNoTransport
	}
	data, err := wire.EncodeGuestMessage(msg)
	if err != nil {
		return err
	}
	return a.transport.Post(ctx, data)
}

// ResolveOrigin parses rawOrigin as a URL and returns its hostname. Any
// parse failure (including the literal "null" sent by security-restricted
// subframes) falls back to the raw string unchanged. It never fails.
func (a *Adapter) ResolveOrigin(rawOrigin string) string {
	u, err := url.Parse(rawOrigin)
	if err != nil {
		return rawOrigin
	}
	if host := u.Hostname(); host != "" {
		return host
	}
	return rawOrigin
}

// Listener is an attached inbound subscription with the adapter's
// validation gate in front of the handler.
type Listener struct {
	adapter *Adapter
	sub     Subscription
}

// ConnectListener attaches the single inbound subscription for one guest
// lifetime. The attachment is complete when ConnectListener returns; any
// message delivered afterwards reaches Serve.
func (a *Adapter) ConnectListener(ctx context.Context) (*Listener, error) {
	if a.transport == nil {
		return nil, ErrNoTransport
	}
	sub, err := a.transport.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return &Listener{adapter: a, sub: sub}, nil
}

// Serve forwards decoded messages that pass validation to onValid. It
// blocks until ctx is cancelled or onValid returns an error; the transport
// subscription is released on every return path. Messages failing
// validation are dropped without any protocol-visible signal.
func (l *Listener) Serve(ctx context.Context, onValid ValidHandlerFunc) error {
	return l.sub.Serve(ctx, func(ctx context.Context, in Inbound) error {
		msg, ok := l.adapter.validate(ctx, in)
		if !ok {
			return nil
		}
		return onValid(ctx, msg)
	})
}

// validate applies the inbound gate: non-empty resolved origin, exact
// protocol version equality, then the trusted-origin predicate. Rejections
// are silent on the wire; a debug log records the reason.
func (a *Adapter) validate(ctx context.Context, in Inbound) (wire.HostMessage, bool) {
	origin := a.ResolveOrigin(in.Origin)
	if origin == "" {
		a.log.DebugContext(ctx, "dropping message without origin")
		return nil, false
	}

	env, err := wire.ParseEnvelope(in.Data)
	if err != nil {
		a.log.DebugContext(ctx, "dropping unparsable message",
			slog.String("origin", origin))
		return nil, false
	}

	ctx = logctx.WithMessageData(ctx, &logctx.MessageData{
		Type:            string(env.Type),
		Origin:          origin,
		ProtocolVersion: env.ProtocolVersion,
	})

	if env.ProtocolVersion != wire.ProtocolVersion {
		a.log.DebugContext(ctx, "dropping message with mismatched protocol version")
		return nil, false
	}

	if !a.trusted.Matches(origin) {
		a.log.DebugContext(ctx, "dropping message from untrusted origin")
		return nil, false
	}

	msg, err := wire.DecodeHostMessage(in.Data)
	if err != nil {
		a.log.DebugContext(ctx, "dropping undecodable message")
		return nil, false
	}
	return msg, true
}
