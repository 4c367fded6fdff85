// Package history keeps an audit trail of download attempts. Recording is
// best effort: callers log failures and carry on.
package history

import (
	"context"
	"time"
)

// Outcome classifies a finished download request.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeRejected Outcome = "rejected"
)

// Entry is one download attempt.
type Entry struct {
	RequestID string
	Identity  string
	URL       string
	Title     string
	Outcome   Outcome
	Error     string
	Duration  time.Duration
	At        time.Time
}

// Ledger stores download entries and reads back the newest ones.
type Ledger interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, identity string, limit int) ([]Entry, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func normalize(entry Entry) Entry {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeFailure
	}
	return entry
}
