package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrAssetFetch            = errors.New("reference asset unreachable")
)

// QuotaExceededError is returned by the dispatcher when the spending gate
// denies admission. No job is created; the caller learns the remaining quota.
type QuotaExceededError struct {
	Remaining int
	Reason    string
}

func (e *QuotaExceededError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("quota exceeded: %s", e.Reason)
	}
	return "quota exceeded"
}
