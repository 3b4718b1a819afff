package pgstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spatialq/aoiquery/internal/core/model"
)

// TableNotFoundError reports a reference to a relation the database does
// not have.
type TableNotFoundError struct {
	Table model.TableRef
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %s not found", e.Table)
}

// ConnectionError wraps a transport or database failure. No partial result
// accompanies it.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryTimeoutError reports a statement that hit its deadline. Callers may
// retry via the client path, but only on explicit request.
type QueryTimeoutError struct {
	Op      string
	Elapsed time.Duration
	Err     error
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("database %s timed out after %s", e.Op, e.Elapsed.Round(time.Millisecond))
}

func (e *QueryTimeoutError) Unwrap() error { return e.Err }

// classify folds driver errors into the service taxonomy: deadline hits
// become QueryTimeoutError, everything else ConnectionError.
func classify(op string, err error, elapsed time.Duration) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &QueryTimeoutError{Op: op, Elapsed: elapsed, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &QueryTimeoutError{Op: op, Elapsed: elapsed, Err: err}
	}
	return &ConnectionError{Op: op, Err: err}
}
