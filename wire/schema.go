package wire

import (
	"github.com/invopop/jsonschema"
)

// HostMessageSchemas reflects a JSON Schema for the payload of every known
// host-to-guest message type. Hosts can use these to validate messages
// before posting them; the guest never validates against them (a message
// that fails to decode is simply dropped).
//
// Schemas are inlined (no $ref indirection) so each entry is self-contained.
func HostMessageSchemas() map[MessageType]*jsonschema.Schema {
	return map[MessageType]*jsonschema.Schema{
		TypeCloseModal:                 reflectPayload[CloseModal](),
		TypeSetIsOwner:                 reflectPayload[SetIsOwner](),
		TypeSetMenuItems:               reflectPayload[SetMenuItems](),
		TypeSetMetadata:                reflectPayload[SetMetadata](),
		TypeSetSidebarChevronDownshift: reflectPayload[SetSidebarChevronDownshift](),
		TypeSetToolbarItems:            reflectPayload[SetToolbarItems](),
		TypeUpdateFromQueryParams:      reflectPayload[UpdateFromQueryParams](),
		TypeUpdateHash:                 reflectPayload[UpdateHash](),
	}
}

func reflectPayload[M HostMessage]() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
		// Hosts may carry extra fields the guest ignores.
		AllowAdditionalProperties: true,
	}
	return r.Reflect(new(M))
}
