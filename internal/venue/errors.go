package venue

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned by GetOrder when the venue has no record of
// the id, after falling back to historical lookup.
var ErrOrderNotFound = errors.New("order not found on venue")

// Kind classifies a venue failure for retry purposes.
type Kind int

const (
	// KindTransient covers timeouts, 5xx and rate limits: retryable.
	KindTransient Kind = iota
	// KindPermanent covers rejected parameters and insufficient funds:
	// never retried.
	KindPermanent
)

// Error wraps a venue failure with its retry classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Kind == KindPermanent {
		kind = "permanent"
	}
	return fmt.Sprintf("venue %s (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable venue error.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable venue error.
func Permanent(op string, err error) error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors are
// treated as transient so that plain network failures get their bounded
// retries.
func IsTransient(err error) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind == KindTransient
	}
	return true
}
