package app

import "time"

// Operation tracks one CLI invocation. Its ID tags every log line of the run.
type Operation struct {
	ID      string
	Command string
	Started time.Time
	Status  string // "running", "success" or "error"
}

// NewOperation creates an operation for command started at now.
func NewOperation(command string, now time.Time) *Operation {
	return &Operation{
		ID:      now.UTC().Format("20060102T150405Z"),
		Command: command,
		Started: now,
		Status:  "running",
	}
}

// Finish records the outcome of the operation.
func (op *Operation) Finish(err error) {
	if err != nil {
		op.Status = "error"
		return
	}
	op.Status = "success"
}

// Finished reports whether Finish has been called.
func (op *Operation) Finished() bool {
	return op.Status != "running"
}
