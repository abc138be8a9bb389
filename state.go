package hostcomm

import (
	"github.com/embedkit/hostcomm-go/wire"
)

// State is the host-driven configuration record a mounted guest observes.
// Every field has a well-defined zero default, so the state is valid before
// any message arrives. State values returned by the reconciler are deep
// snapshots; mutating one never affects the reconciler's copy.
type State struct {
	// ForcedModalClose is set when the host demands any open modal be
	// closed. The presentation layer acknowledges it via OnModalReset.
	ForcedModalClose bool

	// IsOwner reports whether the viewing user owns the embedded app.
	IsOwner bool

	// MenuItems are the host-injected menu entries, in host order.
	MenuItems []wire.MenuItem

	// ToolbarItems are the host-injected toolbar actions, in host order.
	ToolbarItems []wire.ToolbarItem

	// QueryParams is the host page's query string, opaque to this layer.
	QueryParams string

	// SidebarChevronDownshift offsets the sidebar collapse chevron (px).
	SidebarChevronDownshift int

	// ShareMetadata is the host's opaque sharing/embedding record.
	ShareMetadata wire.ShareMetadata
}

// clone returns a deep copy so snapshots never alias reconciler-owned
// slices or maps.
func (s State) clone() State {
	out := s
	if s.MenuItems != nil {
		out.MenuItems = append([]wire.MenuItem(nil), s.MenuItems...)
	}
	if s.ToolbarItems != nil {
		out.ToolbarItems = append([]wire.ToolbarItem(nil), s.ToolbarItems...)
	}
	out.ShareMetadata = s.ShareMetadata.Clone()
	return out
}
