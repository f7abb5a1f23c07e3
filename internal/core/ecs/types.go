package ecs

// EntityID identifies an entity within a registry.
type EntityID uint64

// ComponentKind enumerates the closed set of component types. Component
// storage, system predicates and the wire codec all key off this enum rather
// than open-ended reflection.
type ComponentKind uint8

const (
	KindTransform ComponentKind = iota
	KindPhysics
	KindRender
	KindNetwork

	kindCount
)

func (k ComponentKind) String() string {
	switch k {
	case KindTransform:
		return "transform"
	case KindPhysics:
		return "physics"
	case KindRender:
		return "render"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Patch is a partial component serialization. Deserialization applies only
// the keys present in the patch, leaving other fields unchanged.
type Patch map[string]any

// Component is a plain data record tagged with its kind.
type Component interface {
	Kind() ComponentKind

	// Validate rejects NaN/Inf and out-of-range fields. A component attached
	// to an entity is always in a valid state.
	Validate() error

	Clone() Component

	// Serialize produces a full patch of the component's fields.
	Serialize() Patch

	// Deserialize merges the given patch into the component. Keys absent from
	// the patch leave the corresponding fields untouched.
	Deserialize(Patch) error
}

// Role identifies which side of the simulation this process plays.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Authority decides whose simulation of an entity is ground truth.
type Authority uint8

const (
	AuthorityServer Authority = iota
	AuthorityClient
)

func (a Authority) String() string {
	if a == AuthorityServer {
		return "server"
	}
	return "client"
}
