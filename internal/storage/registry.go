package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	logx "codealert/pkg/logx"
)

// Registry is the durable store of per-group alert configuration.
//
// Configuration commands mutate it at any time, including mid-cycle; the
// reconciliation loop always re-reads a subscriber right before using it.
type Registry struct {
	db  *sql.DB
	log logx.Logger
}

// EnsureExists inserts a default row (enabled, cursor 0, no destination or
// mention) only if id is absent. Re-joining a known group never resets its
// configuration.
func (r *Registry) EnsureExists(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO subscribers(id) VALUES(?) ON CONFLICT(id) DO NOTHING`, id)
	if err != nil {
		return false, fmt.Errorf("storage: ensure subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: ensure subscriber: %w", err)
	}
	if n > 0 {
		r.log.Info("new subscriber group registered", logx.Int64("subscriber", id))
	}
	return n > 0, nil
}

// Get returns the current row for id.
func (r *Registry) Get(ctx context.Context, id int64) (Subscriber, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, enabled, destination, mention, cursor FROM subscribers WHERE id = ?`, id)
	return scanSubscriber(row)
}

// ListEnabled returns every enabled subscriber.
func (r *Registry) ListEnabled(ctx context.Context) ([]Subscriber, error) {
	return r.list(ctx, `SELECT id, enabled, destination, mention, cursor FROM subscribers WHERE enabled = 1`)
}

// All returns every subscriber regardless of enabled state.
func (r *Registry) All(ctx context.Context) ([]Subscriber, error) {
	return r.list(ctx, `SELECT id, enabled, destination, mention, cursor FROM subscribers`)
}

func (r *Registry) list(ctx context.Context, q string) ([]Subscriber, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: query subscribers: %w", err)
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: query subscribers: %w", err)
	}
	return out, nil
}

// SetEnabled flips the enabled flag.
func (r *Registry) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	return r.update(ctx, id, `UPDATE subscribers SET enabled = ? WHERE id = ?`, boolInt(enabled))
}

// SetDestination sets (or clears, with 0) the alert destination reference.
func (r *Registry) SetDestination(ctx context.Context, id int64, dest int64) error {
	return r.update(ctx, id, `UPDATE subscribers SET destination = ? WHERE id = ?`, nullRef(dest))
}

// SetMention sets (or clears, with 0) the mention reference.
func (r *Registry) SetMention(ctx context.Context, id int64, mention int64) error {
	return r.update(ctx, id, `UPDATE subscribers SET mention = ? WHERE id = ?`, nullRef(mention))
}

// AdvanceCursor moves the cursor forward to code. It is a no-op (not an
// error) when code is not greater than the current cursor, so confirmed
// deliveries can be re-applied safely. Unknown ids return ErrNotFound.
func (r *Registry) AdvanceCursor(ctx context.Context, id int64, code uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscribers SET cursor = ? WHERE id = ? AND cursor < ?`, code, id, code)
	if err != nil {
		return fmt.Errorf("storage: advance cursor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: advance cursor: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing moved: either the cursor is already at or past code (fine),
	// or the subscriber does not exist.
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

func (r *Registry) update(ctx context.Context, id int64, q string, v any) error {
	res, err := r.db.ExecContext(ctx, q, v, id)
	if err != nil {
		return fmt.Errorf("storage: update subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update subscriber: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscriber %d: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (Subscriber, error) {
	var (
		s       Subscriber
		enabled int64
		dest    sql.NullInt64
		mention sql.NullInt64
	)
	err := row.Scan(&s.ID, &enabled, &dest, &mention, &s.Cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscriber{}, ErrNotFound
	}
	if err != nil {
		return Subscriber{}, fmt.Errorf("storage: decode subscriber row: %w", err)
	}
	s.Enabled = enabled != 0
	if dest.Valid {
		s.Destination = dest.Int64
	}
	if mention.Valid {
		s.Mention = mention.Int64
	}
	return s, nil
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func nullRef(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
