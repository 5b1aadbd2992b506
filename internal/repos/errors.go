package repos

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an insert collides with an existing
	// non-terminal row for the same report.
	ErrConflict = errors.New("report already has an active job")
	// ErrTerminal is returned when a write is rejected because the job row
	// already reached a terminal status. Cancellation wins every race this way.
	ErrTerminal = errors.New("job is in a terminal status")
)
