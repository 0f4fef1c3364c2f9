package scheduler

import "github.com/cockroachdb/errors"

var (
	ErrDuplicateTask = errors.New("duplicate task name")
	ErrUnknownTask   = errors.New("unknown task")
	ErrNotStarted    = errors.New("registry not started")
)

// DuplicateTaskError is returned by Register when name is already taken.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return "task " + e.Name + " already registered"
}

func (e *DuplicateTaskError) Is(target error) bool { return target == ErrDuplicateTask }
