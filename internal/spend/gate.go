// Package spend implements the admission-control gate limiting how much paid
// generation work may start per day.
package spend

import "context"

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	Reason    string
}

// Gate is queried before any paid provider call. RecordUsage must be invoked
// exactly once per successful provider submission.
type Gate interface {
	CanStart(ctx context.Context) (Decision, error)
	RecordUsage(ctx context.Context) error
}
