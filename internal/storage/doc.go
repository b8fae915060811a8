// Package storage persists the code catalog and the subscriber registry.
//
// Two tables back the whole system:
//   - codes:       every code ever observed, with a monotonic id and a
//     validity flag that only ever flips true -> false
//   - subscribers: per-group alert configuration and delivery cursor
//
// Both live in one SQLite database file.
package storage
