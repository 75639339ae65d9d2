package operation

import "encoding/json"

type identityKind uint8

const (
	kindLocal identityKind = iota + 1
	kindDurable
)

// Identity names an operation either by its local submission key or by the
// id of its durable activity log record. Resolution from one to the other goes
// through the correlation store; the zero Identity names nothing.
type Identity struct {
	kind  identityKind
	value string
}

// Local returns an identity backed by an ephemeral local id.
func Local(id string) Identity {
	return Identity{kind: kindLocal, value: id}
}

// Durable returns an identity backed by a persisted record id.
func Durable(id string) Identity {
	return Identity{kind: kindDurable, value: id}
}

// IsDurable reports whether the identity has been resolved to a record id.
func (i Identity) IsDurable() bool { return i.kind == kindDurable }

// IsLocal reports whether the identity is still the local submission key.
func (i Identity) IsLocal() bool { return i.kind == kindLocal }

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool { return i.kind == 0 }

// String returns the raw id value, whichever kind it is.
func (i Identity) String() string { return i.value }

// MarshalJSON encodes the identity as its raw id string.
func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.value)
}
