package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an operation references an unknown subscriber.
var ErrNotFound = errors.New("subscriber not found")

// Config configures the SQLite database.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Kind classifies a code.
//
// Time-limited ("limited") codes are typically livestream/version codes that
// the provider retires quickly; ordinary codes stay up for weeks. The kind
// only matters to the optional age-based expiry policy; absence-based
// invalidation treats both the same.
type Kind string

const (
	KindOrdinary Kind = "ordinary"
	KindLimited  Kind = "limited"
)

// Code is one catalog row.
//
// ID is assigned on first insertion, never reused or reassigned. Valid only
// ever transitions true -> false; a code string that reappears after being
// invalidated stays invalid.
type Code struct {
	ID      uint64
	Text    string
	Valid   bool
	Kind    Kind
	AddedAt time.Time
}

// Subscriber is one registry row.
//
// ID is the external group chat id. Destination and Mention are references
// into the external system; 0 means unset (stored as NULL). Cursor is the
// highest code ID already delivered to this subscriber and is monotonically
// non-decreasing.
type Subscriber struct {
	ID          int64
	Enabled     bool
	Destination int64
	Mention     int64
	Cursor      uint64
}
