package relay

import "fmt"

// State is the per-request lifecycle position.
//
//	received → acknowledged → fetching → delivered
//	                                   ↘ failed
type State int

const (
	StateReceived State = iota
	StateAcknowledged
	StateFetching
	StateDelivered
	StateFailed
)

var stateNames = map[State]string{
	StateReceived:     "received",
	StateAcknowledged: "acknowledged",
	StateFetching:     "fetching",
	StateDelivered:    "delivered",
	StateFailed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// CanTransition reports whether to directly follows s.
func (s State) CanTransition(to State) bool {
	switch s {
	case StateReceived:
		return to == StateAcknowledged
	case StateAcknowledged:
		return to == StateFetching
	case StateFetching:
		return to == StateDelivered || to == StateFailed
	default:
		return false
	}
}
