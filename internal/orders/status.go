package orders

import "fmt"

var chain = []Status{
	StatusPendingPayment,
	StatusPaid,
	StatusProduction,
	StatusShipping,
	StatusCompleted,
}

// Rank is the position of s in the lifecycle chain, -1 for cancelled or
// unknown statuses.
func (s Status) Rank() int {
	for i, c := range chain {
		if c == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusCancelled || s.Rank() >= 0
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether from -> to moves the order forward.
// Forward jumps along the chain are allowed (a delivered event may arrive
// before the label event); cancelled is reachable from any non-terminal state.
func CanTransition(from, to Status) bool {
	if from == to || from.Terminal() || !from.Valid() || !to.Valid() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return to.Rank() > from.Rank()
}

// InvalidTransitionError is returned when a caller asks for a backward move.
type InvalidTransitionError struct {
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
