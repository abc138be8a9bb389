// Package hostcomm implements the guest side of a bidirectional, versioned
// messaging protocol between an embedded application ("guest") and the page
// embedding it ("host"). The host pushes UI configuration (menu and
// toolbar items, ownership flags, sidebar layout hints, query-parameter
// and navigation-hash updates, forced-modal-close signals) and the guest
// announces readiness and other guest-originated events back.
//
// Layers & Roles
//
//	channel.Transport -> raw cross-context message channel (memory, Redis, NATS)
//	channel.Adapter   -> version tagging, origin resolution, inbound trust gate
//	Guest             -> session-state reconciler; applies validated messages
//	Renderer          -> presentation layer, re-rendered on every state change
//
// A Guest owns exactly one mutable State per mounted lifetime. Inbound
// messages are validated (exact protocol-version equality, trusted-origin
// predicate) and then applied one at a time. Anything failing validation
// is dropped silently: the channel is shared with an environment the guest
// does not control, so noise is ignored rather than raised.
//
// WithHostCommunication decorates an arbitrary Renderer, injecting the
// Session contract (current state plus the Connect, SendMessage and
// OnModalReset actions) and preserving the renderer's static metadata so
// the decoration is transparent to introspecting consumers.
package hostcomm
