package hostcomm

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/embedkit/hostcomm-go/channel"
	"github.com/embedkit/hostcomm-go/internal/logctx"
	"github.com/embedkit/hostcomm-go/origins"
	"github.com/embedkit/hostcomm-go/wire"
)

// Session is the contract the reconciler exposes to the presentation layer.
type Session interface {
	// CurrentState returns a snapshot of the session state at the time of
	// the call.
	CurrentState() State

	// Connect announces to the host that the guest is mounted and ready to
	// receive configuration. Repeated calls simply re-announce readiness.
	Connect(ctx context.Context) error

	// SendMessage emits a guest-originated message to the host.
	SendMessage(ctx context.Context, msg wire.GuestMessage) error

	// OnModalReset clears the forced-modal-close flag after the
	// presentation layer has acted on it, so the signal does not refire.
	OnModalReset()
}

// HashSetter is the ambient navigation-hash sink driven by UPDATE_HASH
// messages.
type HashSetter func(hash string)

var (
	// ErrAlreadyMounted is returned by Mount on a mounted Guest.
	ErrAlreadyMounted = errors.New("hostcomm: guest already mounted")
)

type options struct {
	transport channel.Transport
	trusted   origins.Matcher
	setHash   HashSetter
	log       *slog.Logger
}

// Option configures a Guest.
type Option func(*options)

// WithTransport sets the raw message channel to the host.
func WithTransport(t channel.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithTrustedOrigins sets the externally owned trusted-origin predicate.
// Without one, every inbound message is dropped.
func WithTrustedOrigins(m origins.Matcher) Option {
	return func(o *options) { o.trusted = m }
}

// WithHashSetter sets the sink for UPDATE_HASH messages. Without one,
// UPDATE_HASH is accepted and discarded.
func WithHashSetter(fn HashSetter) Option {
	return func(o *options) { o.setHash = fn }
}

// WithLogger sets the base logger. Records emitted while handling a
// message carry guest and message attribute groups.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// Guest owns the session state for one mounted component and reconciles it
// from validated host messages. Each Guest is independent: its state is
// never shared, and it holds at most one transport subscription, released
// on Unmount.
type Guest struct {
	id      string
	adapter *channel.Adapter
	setHash HashSetter
	log     *slog.Logger

	// onApplied, when set, runs after every applied state change. It is
	// installed by the decorator before Mount and not synchronized.
	onApplied func(ctx context.Context)

	mu    sync.Mutex
	state State

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Session = (*Guest)(nil)

// NewGuest builds an unmounted Guest.
func NewGuest(opts ...Option) *Guest {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	log := slog.New(logctx.Handler{Handler: o.log.Handler()})

	return &Guest{
		id:      uuid.NewString(),
		adapter: channel.NewAdapter(o.transport, o.trusted, log),
		setHash: o.setHash,
		log:     log,
	}
}

// ID returns the guest's session identifier.
func (g *Guest) ID() string { return g.id }

// Mount acquires the inbound subscription for this guest's lifetime.
// Messages are applied until Unmount. Mounting a mounted guest fails; a
// Guest may be remounted after Unmount without leaking listeners.
func (g *Guest) Mount(ctx context.Context) error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()
	if g.cancel != nil {
		return ErrAlreadyMounted
	}

	ctx = logctx.WithGuestData(ctx, &logctx.GuestData{GuestID: g.id})
	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	// Attach synchronously: a message delivered the instant Mount returns
	// must be observed.
	listener, err := g.adapter.ConnectListener(listenCtx)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	g.cancel = cancel
	g.done = done

	go func() {
		defer close(done)
		err := listener.Serve(listenCtx, g.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			g.log.LogAttrs(listenCtx, slog.LevelWarn, "guest listener stopped",
				slog.String("err", err.Error()))
		}
	}()

	g.log.DebugContext(ctx, "guest mounted")
	return nil
}

// Unmount releases the inbound subscription. Already-applied state is kept;
// only future messages stop being processed. Unmount is idempotent.
func (g *Guest) Unmount() {
	g.lifeMu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// CurrentState implements Session.
func (g *Guest) CurrentState() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.clone()
}

// Connect implements Session.
func (g *Guest) Connect(ctx context.Context) error {
	return g.SendMessage(ctx, wire.GuestReady{})
}

// SendMessage implements Session.
func (g *Guest) SendMessage(ctx context.Context, msg wire.GuestMessage) error {
	ctx = logctx.WithGuestData(ctx, &logctx.GuestData{GuestID: g.id})
	return g.adapter.Send(ctx, msg)
}

// OnModalReset implements Session.
func (g *Guest) OnModalReset() {
	g.mu.Lock()
	g.state.ForcedModalClose = false
	g.mu.Unlock()
}

// handle applies one validated host message. Exactly one transition row
// fires per message; unrecognized messages are accepted no-ops. Messages
// are handled serially by the transport, so transitions never overlap.
func (g *Guest) handle(ctx context.Context, msg wire.HostMessage) error {
	changed := false

	g.mu.Lock()
	switch m := msg.(type) {
	case wire.CloseModal:
		g.state.ForcedModalClose = true
		changed = true
	case wire.SetIsOwner:
		g.state.IsOwner = m.IsOwner
		changed = true
	case wire.SetMenuItems:
		// Full replace, not merge.
		g.state.MenuItems = append([]wire.MenuItem(nil), m.Items...)
		changed = true
	case wire.SetMetadata:
		g.state.ShareMetadata = m.Metadata.Clone()
		changed = true
	case wire.SetSidebarChevronDownshift:
		g.state.SidebarChevronDownshift = m.Downshift
		changed = true
	case wire.SetToolbarItems:
		g.state.ToolbarItems = append([]wire.ToolbarItem(nil), m.Items...)
		changed = true
	case wire.UpdateFromQueryParams:
		g.state.QueryParams = m.QueryParams
		changed = true
	case wire.UpdateHash:
		// Side effect only; no state field changes.
	case wire.Unrecognized:
		// Accepted but inert.
	}
	g.mu.Unlock()

	if m, ok := msg.(wire.UpdateHash); ok && g.setHash != nil {
		g.setHash(m.Hash)
	}

	if changed && g.onApplied != nil {
		g.onApplied(ctx)
	}
	return nil
}
