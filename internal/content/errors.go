package content

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrPreconditionFailed is matched by every *PreconditionError.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("invalid automation config")
)

// PreconditionError rejects an illegal state transition. The entity is left untouched.
type PreconditionError struct {
	Entity string // "post" | "download"
	ID     string
	From   string
	To     string
	Reason string
}

func (e *PreconditionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %s -> %s rejected: %s", e.Entity, e.ID, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s -> %s rejected", e.Entity, e.ID, e.From, e.To)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPreconditionFailed }

// ConfigError reports malformed per-account automation settings.
type ConfigError struct {
	AccountID string
	Field     string
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("account %s: %s: %s", e.AccountID, e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// IsPrecondition reports whether err is (or wraps) a precondition violation.
func IsPrecondition(err error) bool { return errors.Is(err, ErrPreconditionFailed) }
