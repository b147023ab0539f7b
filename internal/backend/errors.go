package backend

import (
	"context"
	"errors"
	"fmt"
)

// TransferError classifies a failed transfer. Retryable failures (timeouts,
// rate limits, expired auth) re-enter the retry loop; the rest are terminal
// until an operator intervenes.
type TransferError struct {
	Backend   string
	Retryable bool
	Err       error
}

func (e *TransferError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s transfer failed (%s): %v", e.Backend, kind, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err should re-enter the retry loop.
// Unclassified errors are treated as retryable, erring toward another
// attempt rather than a premature terminal failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te *TransferError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return true
}

// retryableStatus classifies HTTP status codes shared by both backends:
// auth expiry, request timeout, rate limiting and server errors are
// transient; other client errors (quota, invalid file) are not.
func retryableStatus(code int) bool {
	switch {
	case code == 401, code == 408, code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
