package services

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MonthStart returns the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// UsageMeter counts each visitor against its account at most once per
// calendar month.
type UsageMeter struct {
	store UsageStore
	now   func() time.Time
}

func NewUsageMeter(store UsageStore, now func() time.Time) *UsageMeter {
	if now == nil {
		now = time.Now
	}
	return &UsageMeter{store: store, now: now}
}

// Record claims the visitor for the current month and, only if the claim
// won, bumps the account counter. counted reports whether this call was the
// one that counted the visitor.
//
// The claim is a compare-and-swap on the visitor row: concurrent callers for
// the same visitor race on it and exactly one wins.
func (m *UsageMeter) Record(ctx context.Context, accountID, visitorID uuid.UUID) (counted bool, err error) {
	now := m.now()
	monthStart := MonthStart(now)

	claimed, err := m.store.ClaimVisitorForMonth(ctx, visitorID, now, monthStart)
	if err != nil {
		return false, storeError("claim visitor", err)
	}
	if !claimed {
		return false, nil
	}

	if err := m.store.IncrementAccountUsage(ctx, accountID, monthStart); err != nil {
		return false, storeError("increment usage", err)
	}
	return true, nil
}
