package reconcile

import "errors"

var (
	// ErrInvalidTask is returned when a task has an unknown kind or no owner.
	ErrInvalidTask = errors.New("invalid reconcile task")
	// ErrTaskNotFound is returned when a task id does not exist.
	ErrTaskNotFound = errors.New("reconcile task not found")
	// ErrPassIncomplete is returned by a worker pass that left tasks unresolved after an error.
	ErrPassIncomplete = errors.New("reconcile pass incomplete")
)
