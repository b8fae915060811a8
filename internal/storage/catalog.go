package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "codealert/pkg/logx"
)

// Catalog is the durable store of every code ever observed.
type Catalog struct {
	db  *sql.DB
	log logx.Logger
}

// Upsert inserts text with a fresh id and valid=1 if it was never seen.
// A known text is a no-op: existing validity is untouched even if the code
// was previously invalidated. The second return reports whether a new row
// was created.
func (c *Catalog) Upsert(ctx context.Context, text string, kind Kind) (uint64, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false, errors.New("storage: empty code text")
	}
	if kind == "" {
		kind = KindOrdinary
	}

	var id uint64
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO codes(text, valid, kind, added_at) VALUES(?, 1, ?, ?)
		 ON CONFLICT(text) DO NOTHING
		 RETURNING id`,
		text, string(kind), time.Now().UTC().Format(time.RFC3339Nano),
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("storage: upsert code: %w", err)
	}

	// Conflict: the text exists. Expected, not exceptional.
	err = c.db.QueryRowContext(ctx, `SELECT id FROM codes WHERE text = ?`, text).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("storage: lookup code: %w", err)
	}
	return id, false, nil
}

// InvalidateMissing flips valid to 0 on every code whose text is absent from
// present. This is the only way a code stops being valid: validity tracks
// presence in the most recent observation, not a timer.
//
// An empty present set is refused. Validity never recovers, so a caller bug
// or scrape glitch reaching this with nothing observed would wipe the whole
// catalog irrecoverably.
func (c *Catalog) InvalidateMissing(ctx context.Context, present []string) error {
	if len(present) == 0 {
		return errors.New("storage: refusing empty invalidation set")
	}

	args := make([]any, 0, len(present))
	for _, t := range present {
		args = append(args, t)
	}
	q := `UPDATE codes SET valid = 0 WHERE valid = 1 AND text NOT IN (?` +
		strings.Repeat(",?", len(present)-1) + `)`
	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("storage: invalidate codes: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		c.log.Info("codes invalidated by absence", logx.Int64("count", n))
	}
	return nil
}

// InvalidateOlderThan flips valid to 0 on codes of the given kind first seen
// before cutoff. Used only by the optional age-based expiry policy.
func (c *Catalog) InvalidateOlderThan(ctx context.Context, kind Kind, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE codes SET valid = 0 WHERE valid = 1 AND kind = ? AND added_at < ?`,
		string(kind), cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: expire codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: expire codes: %w", err)
	}
	return n, nil
}

// CodesAfter returns all codes with id strictly greater than cursor, ordered
// by id ascending, filtered to valid codes when validOnly is set.
func (c *Catalog) CodesAfter(ctx context.Context, cursor uint64, validOnly bool) ([]Code, error) {
	q := `SELECT id, text, valid, kind, added_at FROM codes WHERE id > ?`
	if validOnly {
		q += ` AND valid = 1`
	}
	q += ` ORDER BY id ASC`

	rows, err := c.db.QueryContext(ctx, q, cursor)
	if err != nil {
		return nil, fmt.Errorf("storage: query codes: %w", err)
	}
	defer rows.Close()

	var out []Code
	for rows.Next() {
		code, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: query codes: %w", err)
	}
	return out, nil
}

func scanCode(rows *sql.Rows) (Code, error) {
	var (
		c     Code
		valid int64
		kind  string
		added string
	)
	if err := rows.Scan(&c.ID, &c.Text, &valid, &kind, &added); err != nil {
		return Code{}, fmt.Errorf("storage: decode code row: %w", err)
	}
	c.Valid = valid != 0
	c.Kind = Kind(kind)
	if t, err := time.Parse(time.RFC3339Nano, added); err == nil {
		c.AddedAt = t
	}
	return c, nil
}

// HighestID returns the maximum id among codes, or 0 ("no advancement") for
// an empty sequence.
func HighestID(codes []Code) uint64 {
	var hi uint64
	for _, c := range codes {
		if c.ID > hi {
			hi = c.ID
		}
	}
	return hi
}
