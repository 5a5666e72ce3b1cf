package models

import "time"

// StateOp is the mutation type recorded in state history.
type StateOp string

const (
	StateInsert StateOp = "INSERT"
	StateUpdate StateOp = "UPDATE"
	StateDelete StateOp = "DELETE"
	StateClear  StateOp = "CLEAR"
)

// StateEntry is the current value of one checkpoint key.
type StateEntry struct {
	Key       string
	Value     string // serialized JSON
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StateHistoryEntry is one row of the append-only mutation history.
type StateHistoryEntry struct {
	ID        int64
	Key       string
	Value     string
	Op        StateOp
	Timestamp time.Time
}
