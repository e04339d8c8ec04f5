package engine

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a run is requested for a pair that already
// has one in flight. Busy calls append nothing to history.
var ErrBusy = errors.New("engine: pair run already in progress")

// ErrPairNotFound is returned when a run targets an unknown pair id.
var ErrPairNotFound = errors.New("engine: sync pair not found")

// ErrConflictNotFound is returned when a resolution targets an unknown
// conflict id.
var ErrConflictNotFound = errors.New("engine: conflict not found")

// IntegrityError terminates a run. It marks a code path that would
// create or delete an A entry or archive an unmanaged B page; no write
// is attempted after detection.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "integrity violation: " + e.Reason
}

// IsIntegrity reports whether err is (or wraps) an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// ConfigError marks a per-record mapping problem (unknown field id,
// missing B property). It is recorded in run details and never aborts
// the run.
type ConfigError struct {
	PairID int64
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mapping configuration error for pair %d: %s", e.PairID, e.Detail)
}
