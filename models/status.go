// models/status.go
package models

// Status is the lifecycle state of a match. Transitions never skip a
// state and never reverse; Settled and Cancelled are terminal.
type Status string

const (
	StatusPending          Status = "pending"
	StatusAwaitingDeposits Status = "awaiting_deposits"
	StatusActive           Status = "active"
	StatusResolved         Status = "resolved"
	StatusSettled          Status = "settled"
	StatusCancelled        Status = "cancelled"
)

// transitions is the full set of legal status moves.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusAwaitingDeposits: true, // opponent joins
		StatusCancelled:        true, // explicit leave or sweep
	},
	StatusAwaitingDeposits: {
		StatusActive:    true, // both deposits confirmed
		StatusCancelled: true,
	},
	StatusActive: {
		StatusResolved: true, // both choices submitted
	},
	StatusResolved: {
		StatusSettled: true, // payout confirmed by ledger
	},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Terminal reports whether no further mutation is permitted.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}
