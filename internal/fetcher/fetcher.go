// Package fetcher resolves ASINs to product data from the upstream source.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/asinscrape/internal/domain"
)

// Fetcher performs one ASIN lookup.
type Fetcher interface {
	Fetch(ctx context.Context, asin string) (*domain.Product, error)
}

// Kind classifies a fetch failure.
type Kind string

const (
	// KindNotFound means the ASIN does not exist upstream.
	KindNotFound Kind = "not_found"
	// KindRateLimited means the upstream throttled or bot-blocked the request.
	KindRateLimited Kind = "rate_limited"
	// KindAuthFailure means credentials or upstream configuration are invalid.
	// This is systemic: it aborts the job rather than being retried per item.
	KindAuthFailure Kind = "auth_failure"
	// KindNetwork means the request failed at the transport level.
	KindNetwork Kind = "network"
	// KindParse means the response arrived but product data could not be extracted.
	KindParse Kind = "parse"
)

// Error is a typed fetch failure.
type Error struct {
	Kind      Kind
	Retryable bool
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsSystemic reports whether this failure should abort the whole job instead
// of being retried per item.
func (e *Error) IsSystemic() bool {
	return e.Kind == KindAuthFailure
}

// newError builds a typed fetch error with retryability derived from the kind.
func newError(kind Kind, message string, cause error) *Error {
	retryable := kind == KindRateLimited || kind == KindNetwork
	return &Error{Kind: kind, Retryable: retryable, Message: message, Cause: cause}
}

// AsError extracts a typed fetch error, if any.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
