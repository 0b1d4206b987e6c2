package convosync

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned by a Notifier whose capability is absent or refused.
	ErrPermissionDenied = errors.New("notification permission denied")

	// ErrStaleResult marks a load whose result was discarded because the
	// selection or mount changed while it was in flight.
	ErrStaleResult = errors.New("stale result discarded")

	// ErrSendInProgress is returned when Send is called while a send is pending.
	ErrSendInProgress = errors.New("send already in progress")

	// ErrNotMounted is returned by Engine operations that need a mounted engine.
	ErrNotMounted = errors.New("engine not mounted")
)

// FetchError wraps any failure reaching or decoding a gateway response.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func fetchError(op string, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Op: op, Err: err}
}

// ValidationError reports a draft that cannot be sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsFetchError reports whether err is, or wraps, a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
