package completion

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError carries the HTTP-like status of a failed upstream call so
// the retry policy can tell transient faults from permanent ones.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion: status %d", e.Status)
	}
	return fmt.Sprintf("completion: status %d: %s", e.Status, e.Message)
}

// IsRetryable implements the retry predicate for completion calls:
// network-level failures (no status metadata), 5xx, and upstream 429
// throttling are retryable; any other 4xx is permanent.
func IsRetryable(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		// No response metadata at all.
		return true
	}
	if se.Status == http.StatusTooManyRequests {
		return true
	}
	return se.Status >= 500
}
