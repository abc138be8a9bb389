// Package wire contains the protocol data types and constants exchanged
// between an embedded guest application and its embedding host page. The
// package mirrors the JSON wire format directly (exported structs with json
// tags, string constants for message type tags) so that transports and the
// reconciler never juggle raw maps.
//
// Every message travels inside a versioned envelope:
//
//	{ "protocolVersion": 1, "type": "SET_MENU_ITEMS", ... }
//
// The version tag is an exact-equality gate. A guest compiled against
// ProtocolVersion N drops any message tagged with a different version; no
// backward or forward compatibility is attempted.
//
// Inbound (host to guest) messages decode into the closed HostMessage union
// via DecodeHostMessage. Type tags the guest does not know decode into the
// explicit Unrecognized variant rather than being dropped at the decode
// layer, so the reconciler can treat them as accepted no-ops.
//
// Outbound (guest to host) messages implement GuestMessage and are encoded
// with EncodeGuestMessage, which merges the current protocol version into
// the payload.
package wire
