// Package core implements the ingestion and per-subscriber reconciliation
// engine.
//
// One cycle per scraped batch: ingest (upsert new codes, invalidate absent
// ones), then for every enabled subscriber validate its destination/mention
// against the external system, compute the delta of undelivered valid codes,
// hand it to delivery, and advance the cursor only on confirmed delivery.
//
// The engine holds no long-lived subscriber state: every cycle re-reads
// configuration fresh, so enable/disable and destination changes issued by
// commands take effect on the next cycle at the latest.
package core
