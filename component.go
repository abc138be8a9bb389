package hostcomm

import (
	"context"
	"log/slog"
	"sync"
)

// Renderer is an arbitrary presentation component that consumes the
// reconciled session state. Render is invoked once on mount and again
// after every applied state change, always after the previous invocation
// has returned.
type Renderer interface {
	Render(ctx context.Context, sess Session) error
}

// RendererFunc adapts a plain function to the Renderer interface.
type RendererFunc func(ctx context.Context, sess Session) error

func (f RendererFunc) Render(ctx context.Context, sess Session) error { return f(ctx, sess) }

// Metadata is the static capability surface a renderer may expose for
// introspection by consumers.
type Metadata struct {
	Name         string
	Description  string
	Capabilities []string
}

func (m Metadata) clone() Metadata {
	out := m
	if m.Capabilities != nil {
		out.Capabilities = append([]string(nil), m.Capabilities...)
	}
	return out
}

// MetadataProvider is implemented by renderers carrying static metadata.
type MetadataProvider interface {
	RendererMetadata() Metadata
}

// Decorated wraps a Renderer with a Guest bound to it. It re-renders the
// inner component on every state change and forwards the inner renderer's
// static metadata, so the decoration is transparent to consumers that
// introspect either surface.
type Decorated struct {
	inner Renderer
	guest *Guest
	log   *slog.Logger

	// renderMu serializes every Render of the inner component, so a render
	// triggered by an applied message never overlaps the mount render.
	renderMu sync.Mutex

	meta    Metadata
	hasMeta bool
}

var _ Renderer = (*Decorated)(nil)
var _ MetadataProvider = (*Decorated)(nil)

// WithHostCommunication decorates inner with the host-communication
// protocol. The returned component owns a Guest configured by opts; mount
// it with Mount and release it with Unmount. If inner implements
// MetadataProvider its metadata is copied onto the decorator at decoration
// time.
func WithHostCommunication(inner Renderer, opts ...Option) *Decorated {
	guest := NewGuest(opts...)
	d := &Decorated{inner: inner, guest: guest, log: guest.log}

	if mp, ok := inner.(MetadataProvider); ok {
		// Explicit copy of the static surface rather than aliasing it.
		d.meta = mp.RendererMetadata().clone()
		d.hasMeta = true
	}

	guest.onApplied = d.render
	return d
}

// render invokes the inner renderer under renderMu.
func (d *Decorated) render(ctx context.Context) {
	d.renderMu.Lock()
	defer d.renderMu.Unlock()
	if err := d.inner.Render(ctx, d.guest); err != nil {
		d.log.LogAttrs(ctx, slog.LevelWarn, "render failed",
			slog.String("err", err.Error()))
	}
}

// Mount renders the inner component once with the default state, then starts
// the guest's inbound subscription. Rendering before the subscription
// attaches keeps the mount render strictly first; every later render runs
// serially on the listener goroutine under the same lock.
func (d *Decorated) Mount(ctx context.Context) error {
	d.render(ctx)
	return d.guest.Mount(ctx)
}

// Unmount releases the guest's subscription. Idempotent.
func (d *Decorated) Unmount() { d.guest.Unmount() }

// Session returns the protocol contract injected into the inner renderer.
func (d *Decorated) Session() Session { return d.guest }

// Render implements Renderer by forwarding to the inner component with the
// decorator's own session, keeping the decorated component usable anywhere
// a Renderer is.
func (d *Decorated) Render(ctx context.Context, _ Session) error {
	return d.inner.Render(ctx, d.guest)
}

// RendererMetadata implements MetadataProvider with the copied inner
// metadata. Renderers without metadata yield the zero value.
func (d *Decorated) RendererMetadata() Metadata {
	if !d.hasMeta {
		return Metadata{}
	}
	return d.meta.clone()
}
