package wire

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the guest/host protocol version this package speaks.
// Inbound messages carrying any other version are dropped before decoding.
const ProtocolVersion = 1

// MessageType discriminates messages inside an envelope.
type MessageType string

// Host-to-guest message type tags.
const (
	TypeCloseModal                 MessageType = "CLOSE_MODAL"
	TypeSetIsOwner                 MessageType = "SET_IS_OWNER"
	TypeSetMenuItems               MessageType = "SET_MENU_ITEMS"
	TypeSetMetadata                MessageType = "SET_METADATA"
	TypeSetSidebarChevronDownshift MessageType = "SET_SIDEBAR_CHEVRON_DOWNSHIFT"
	TypeSetToolbarItems            MessageType = "SET_TOOLBAR_ITEMS"
	TypeUpdateFromQueryParams      MessageType = "UPDATE_FROM_QUERY_PARAMS"
	TypeUpdateHash                 MessageType = "UPDATE_HASH"
)

// Guest-to-host message type tags.
const (
	TypeGuestReady MessageType = "GUEST_READY"
)

// Envelope is the version/type header present on every message. It is
// decoded leniently: a payload missing either field yields the zero value
// for that field rather than an error, so header inspection is always safe
// before any trust decision has been made.
type Envelope struct {
	ProtocolVersion int         `json:"protocolVersion"`
	Type            MessageType `json:"type"`
}

// ParseEnvelope extracts the envelope header from raw message bytes. The
// only error condition is data that is not a JSON object at all; absent or
// null header fields decode to zero values.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	return env, nil
}

// MenuItem describes one entry in the host-controlled main menu.
type MenuItem struct {
	// Key identifies the item in guest-to-host click notifications.
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	// Type distinguishes regular "text" entries from "separator" rows.
	Type string `json:"type,omitempty"`
}

// ToolbarItem describes one host-injected toolbar action.
type ToolbarItem struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// ShareMetadata is the opaque metadata record a host attaches to the guest
// (sharing/embedding details). The guest stores and surfaces it without
// interpreting individual fields.
type ShareMetadata map[string]any

// Clone returns a deep copy of the record. Nested objects and arrays that
// came out of JSON decoding (map[string]any, []any) are copied recursively,
// so mutating the clone never reaches the original.
func (m ShareMetadata) Clone() ShareMetadata {
	if m == nil {
		return nil
	}
	out := make(ShareMetadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// HostMessage is the closed union of messages a host may push to the guest.
// Exactly one concrete variant exists per known type tag, plus Unrecognized
// for foreign tags. The interface is sealed so the reconciler's switch over
// variants stays exhaustive.
type HostMessage interface {
	// MessageType returns the wire tag the variant decodes from.
	MessageType() MessageType
}

// CloseModal instructs the guest to force-close any open modal dialog.
type CloseModal struct{}

// SetIsOwner tells the guest whether the viewing user owns the embedded app.
type SetIsOwner struct {
	IsOwner bool `json:"isOwner"`
}

// SetMenuItems replaces the full set of host-injected menu items.
type SetMenuItems struct {
	Items []MenuItem `json:"items"`
}

// SetMetadata replaces the guest's share metadata record.
type SetMetadata struct {
	Metadata ShareMetadata `json:"metadata"`
}

// SetSidebarChevronDownshift adjusts the vertical offset (in pixels) of the
// sidebar collapse chevron so it clears host chrome.
type SetSidebarChevronDownshift struct {
	Downshift int `json:"sidebarChevronDownshift"`
}

// SetToolbarItems replaces the full set of host-injected toolbar items.
type SetToolbarItems struct {
	Items []ToolbarItem `json:"items"`
}

// UpdateFromQueryParams delivers the host page's query string so the guest
// can reconcile widget state embedded in it.
type UpdateFromQueryParams struct {
	QueryParams string `json:"queryParams"`
}

// UpdateHash asks the guest to update its ambient navigation hash. It is a
// pure side effect and touches no session-state field.
type UpdateHash struct {
	Hash string `json:"hash"`
}

// Unrecognized captures a validated message whose type tag is unknown to
// this guest. It is accepted but produces no state change.
type Unrecognized struct {
	Type MessageType
}

func (CloseModal) MessageType() MessageType                 { return TypeCloseModal }
func (SetIsOwner) MessageType() MessageType                 { return TypeSetIsOwner }
func (SetMenuItems) MessageType() MessageType               { return TypeSetMenuItems }
func (SetMetadata) MessageType() MessageType                { return TypeSetMetadata }
func (SetSidebarChevronDownshift) MessageType() MessageType { return TypeSetSidebarChevronDownshift }
func (SetToolbarItems) MessageType() MessageType            { return TypeSetToolbarItems }
func (UpdateFromQueryParams) MessageType() MessageType      { return TypeUpdateFromQueryParams }
func (UpdateHash) MessageType() MessageType                 { return TypeUpdateHash }
func (m Unrecognized) MessageType() MessageType             { return m.Type }

// DecodeHostMessage decodes raw bytes into the HostMessage union. The
// caller is expected to have already checked the envelope's protocol
// version; this function only dispatches on the type tag. Foreign tags
// (including an absent tag) decode to Unrecognized. The only error is
// malformed JSON.
func DecodeHostMessage(data []byte) (HostMessage, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeCloseModal:
		return CloseModal{}, nil
	case TypeSetIsOwner:
		var m SetIsOwner
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	case TypeSetMenuItems:
		var m SetMenuItems
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	case TypeSetMetadata:
		var m SetMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	case TypeSetSidebarChevronDownshift:
		var m SetSidebarChevronDownshift
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	case TypeSetToolbarItems:
		var m SetToolbarItems
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	case TypeUpdateFromQueryParams:
		var m UpdateFromQueryParams
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	case TypeUpdateHash:
		var m UpdateHash
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	default:
		return Unrecognized{Type: env.Type}, nil
	}
}

// GuestMessage is an outbound message the guest sends to its host.
type GuestMessage interface {
	// GuestMessageType returns the wire tag emitted for the message.
	GuestMessageType() MessageType
}

// GuestReady announces to the host that the guest is mounted and ready to
// receive configuration.
type GuestReady struct{}

func (GuestReady) GuestMessageType() MessageType { return TypeGuestReady }

// GuestEvent carries an arbitrary guest-defined outbound message. Fields
// are merged into the envelope; the reserved "protocolVersion" and "type"
// keys are always overwritten by the envelope values.
type GuestEvent struct {
	Type   MessageType
	Fields map[string]any
}

func (m GuestEvent) GuestMessageType() MessageType { return m.Type }

// EncodeGuestMessage serializes an outbound message, merging the current
// protocol version tag into the payload.
func EncodeGuestMessage(m GuestMessage) ([]byte, error) {
	body := map[string]any{}
	if ev, ok := m.(GuestEvent); ok {
		for k, v := range ev.Fields {
			body[k] = v
		}
	}
	body["protocolVersion"] = ProtocolVersion
	body["type"] = m.GuestMessageType()

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.GuestMessageType(), err)
	}
	return data, nil
}
