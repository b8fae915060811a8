package core

import (
	"context"
	"errors"
	"time"

	"codealert/internal/storage"
)

// Observation is one scraped code string plus its classification.
type Observation struct {
	Text    string
	Limited bool
}

// Batch is the set of codes seen in one scrape of the source page.
type Batch []Observation

// Delta carries everything delivery needs for one subscriber in one cycle:
// the ordered undelivered codes plus the resolved destination and mention.
// It is transient; nothing here is persisted.
type Delta struct {
	Subscriber  int64
	Codes       []storage.Code
	Destination int64
	Mention     int64 // 0 when unset
}

// Catalog is the code-catalog surface the engine needs.
type Catalog interface {
	Upsert(ctx context.Context, text string, kind storage.Kind) (uint64, bool, error)
	InvalidateMissing(ctx context.Context, present []string) error
	InvalidateOlderThan(ctx context.Context, kind storage.Kind, cutoff time.Time) (int64, error)
	CodesAfter(ctx context.Context, cursor uint64, validOnly bool) ([]storage.Code, error)
}

// Registry is the subscriber-registry surface the engine needs.
type Registry interface {
	ListEnabled(ctx context.Context) ([]storage.Subscriber, error)
	Get(ctx context.Context, id int64) (storage.Subscriber, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	AdvanceCursor(ctx context.Context, id int64, code uint64) error
}

// Oracle answers whether external references are still resolvable.
//
// A returned error means the external system could not be consulted at all;
// the engine then skips the subscriber for the cycle instead of wrongly
// disabling it.
type Oracle interface {
	DestinationUsable(ctx context.Context, ref int64) (bool, error)
	MentionUsable(ctx context.Context, group, ref int64) (bool, error)
	FallbackDestination(ctx context.Context, group int64) (int64, error)
}

// Delivery sends one formatted notification for a delta and reports the result.
type Delivery interface {
	Deliver(ctx context.Context, d Delta) error
}

// Alerter sends a one-off advisory message. Best-effort; the engine logs
// failures and moves on.
type Alerter interface {
	Alert(ctx context.Context, destination int64, text string) error
}

// ExpiryPolicy is the optional age-based invalidation layered on top of
// absence-based invalidation. Zero value disables it.
type ExpiryPolicy struct {
	Enabled  bool
	Ordinary time.Duration
	Limited  time.Duration
}

// ErrOracleUnavailable marks an external-state check that could not complete.
var ErrOracleUnavailable = errors.New("external state unavailable")
