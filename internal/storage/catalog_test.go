package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "codealert/pkg/logx"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustUpsert(t *testing.T, c *Catalog, text string, kind Kind) (uint64, bool) {
	t.Helper()
	id, created, err := c.Upsert(context.Background(), text, kind)
	if err != nil {
		t.Fatalf("Upsert(%q): %v", text, err)
	}
	return id, created
}

func TestUpsertAssignsMonotonicIDs(t *testing.T) {
	t.Parallel()
	c := testDB(t).Catalog()

	id1, created := mustUpsert(t, c, "ABC123", KindOrdinary)
	if !created || id1 != 1 {
		t.Fatalf("first upsert = (%d, %v), want (1, true)", id1, created)
	}
	id2, created := mustUpsert(t, c, "XYZ789", KindLimited)
	if !created || id2 != 2 {
		t.Fatalf("second upsert = (%d, %v), want (2, true)", id2, created)
	}

	// Known text: no new row, no error, same id.
	again, created := mustUpsert(t, c, "ABC123", KindOrdinary)
	if created || again != id1 {
		t.Fatalf("duplicate upsert = (%d, %v), want (%d, false)", again, created, id1)
	}
}

func TestInvalidateMissing(t *testing.T) {
	t.Parallel()
	c := testDB(t).Catalog()
	ctx := context.Background()

	mustUpsert(t, c, "ABC123", KindOrdinary)
	mustUpsert(t, c, "XYZ789", KindOrdinary)

	// Second observation no longer advertises XYZ789.
	if err := c.InvalidateMissing(ctx, []string{"ABC123"}); err != nil {
		t.Fatalf("InvalidateMissing: %v", err)
	}

	valid, err := c.CodesAfter(ctx, 0, true)
	if err != nil {
		t.Fatalf("CodesAfter: %v", err)
	}
	if len(valid) != 1 || valid[0].Text != "ABC123" || valid[0].ID != 1 {
		t.Fatalf("valid codes = %+v, want only ABC123 (id 1)", valid)
	}

	// History is kept: the invalidated row still exists.
	all, err := c.CodesAfter(ctx, 0, false)
	if err != nil {
		t.Fatalf("CodesAfter(all): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all codes = %d rows, want 2", len(all))
	}
}

func TestInvalidateMissingRejectsEmptySet(t *testing.T) {
	t.Parallel()
	c := testDB(t).Catalog()
	ctx := context.Background()

	mustUpsert(t, c, "ABC123", KindOrdinary)

	if err := c.InvalidateMissing(ctx, nil); err == nil {
		t.Fatal("expected error for empty invalidation set, got nil")
	}

	// The catalog is untouched.
	valid, err := c.CodesAfter(ctx, 0, true)
	if err != nil {
		t.Fatalf("CodesAfter: %v", err)
	}
	if len(valid) != 1 || valid[0].Text != "ABC123" {
		t.Fatalf("valid codes = %+v, want only ABC123", valid)
	}
}

func TestReappearingCodeStaysInvalid(t *testing.T) {
	t.Parallel()
	c := testDB(t).Catalog()
	ctx := context.Background()

	mustUpsert(t, c, "OLDCODE", KindOrdinary)
	if err := c.InvalidateMissing(ctx, []string{"OTHER"}); err != nil {
		t.Fatalf("InvalidateMissing: %v", err)
	}

	// The string shows up again: no-op, validity untouched.
	id, created := mustUpsert(t, c, "OLDCODE", KindOrdinary)
	if created {
		t.Fatalf("reappearing code created a new row (id %d)", id)
	}
	valid, err := c.CodesAfter(ctx, 0, true)
	if err != nil {
		t.Fatalf("CodesAfter: %v", err)
	}
	for _, code := range valid {
		if code.Text == "OLDCODE" {
			t.Fatal("invalidated code became valid again")
		}
	}
}

func TestIngestIdempotent(t *testing.T) {
	t.Parallel()
	c := testDB(t).Catalog()
	ctx := context.Background()

	batch := []string{"AAA", "BBB", "CCC"}
	for i := 0; i < 2; i++ {
		for _, text := range batch {
			mustUpsert(t, c, text, KindOrdinary)
		}
		if err := c.InvalidateMissing(ctx, batch); err != nil {
			t.Fatalf("InvalidateMissing: %v", err)
		}
	}

	codes, err := c.CodesAfter(ctx, 0, false)
	if err != nil {
		t.Fatalf("CodesAfter: %v", err)
	}
	if len(codes) != 3 {
		t.Fatalf("got %d rows after double ingest, want 3", len(codes))
	}
	// No identifier gaps from skipped conflicts.
	for i, code := range codes {
		if code.ID != uint64(i+1) {
			t.Fatalf("code %d has id %d, want %d", i, code.ID, i+1)
		}
		if !code.Valid {
			t.Fatalf("code %q unexpectedly invalid", code.Text)
		}
	}
}

func TestCodesAfterCursor(t *testing.T) {
	t.Parallel()
	c := testDB(t).Catalog()
	ctx := context.Background()

	for _, text := range []string{"A", "B", "C", "D"} {
		mustUpsert(t, c, text, KindOrdinary)
	}
	if err := c.InvalidateMissing(ctx, []string{"A", "B", "D"}); err != nil {
		t.Fatalf("InvalidateMissing: %v", err)
	}

	got, err := c.CodesAfter(ctx, 1, true)
	if err != nil {
		t.Fatalf("CodesAfter: %v", err)
	}
	// id 1 excluded by cursor, id 3 ("C") excluded by validity.
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 4 {
		t.Fatalf("CodesAfter(1) = %+v, want ids [2 4]", got)
	}

	empty, err := c.CodesAfter(ctx, 4, true)
	if err != nil {
		t.Fatalf("CodesAfter: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("CodesAfter(4) = %+v, want empty", empty)
	}
}

func TestInvalidateOlderThan(t *testing.T) {
	t.Parallel()
	c := testDB(t).Catalog()
	ctx := context.Background()

	mustUpsert(t, c, "LIMITED1", KindLimited)
	mustUpsert(t, c, "ORDINARY1", KindOrdinary)

	// Cutoff in the future: every limited code is "older".
	n, err := c.InvalidateOlderThan(ctx, KindLimited, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("InvalidateOlderThan: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d codes, want 1", n)
	}

	valid, err := c.CodesAfter(ctx, 0, true)
	if err != nil {
		t.Fatalf("CodesAfter: %v", err)
	}
	if len(valid) != 1 || valid[0].Text != "ORDINARY1" {
		t.Fatalf("valid codes = %+v, want only ORDINARY1", valid)
	}
}

func TestHighestID(t *testing.T) {
	t.Parallel()
	if got := HighestID(nil); got != 0 {
		t.Fatalf("HighestID(nil) = %d, want 0", got)
	}
	codes := []Code{{ID: 3}, {ID: 7}, {ID: 5}}
	if got := HighestID(codes); got != 7 {
		t.Fatalf("HighestID = %d, want 7", got)
	}
}
