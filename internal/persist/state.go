package persist

// PersistenceState is where an operation stands in its persistence lifecycle.
type PersistenceState int

const (
	// StateUnseen means no create call has been issued, or the last one failed.
	StateUnseen PersistenceState = iota
	// StateCreating means a create call is in flight.
	StateCreating
	// StateCreated means a durable record exists and the terminal update is due.
	StateCreated
	// StateUpdating means the terminal update is in flight.
	StateUpdating
	// StateSettled means the terminal update landed.
	StateSettled
)

func (s PersistenceState) String() string {
	switch s {
	case StateUnseen:
		return "unseen"
	case StateCreating:
		return "creating"
	case StateCreated:
		return "created"
	case StateUpdating:
		return "updating"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// refState guards the follow-up update that carries a diagnostics reference.
type refState int

const (
	refNone refState = iota
	refUpdating
	refSent
)
