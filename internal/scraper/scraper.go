// Package scraper produces code batches from the source page on a schedule.
//
// It is the producer side of the bounded batch channel: one batch per tick,
// published in FIFO order to the single reconciliation consumer. Fetch and
// parse failures are transient; they are logged and retried on the next
// tick, and never result in an empty batch being published.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"codealert/internal/core"
	logx "codealert/pkg/logx"
)

const userAgent = "codealert/1.0"

type Config struct {
	URL       string
	Schedule  ParsedSpec
	Selectors Selectors
	Timeout   time.Duration // per-fetch HTTP timeout
}

// Service scrapes the source page and publishes batches.
type Service struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	mu sync.Mutex // guards cfg.Schedule
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("scraper: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log.With(logx.String("comp", "scraper")),
	}, nil
}

// SetSchedule swaps the schedule at runtime (config reload).
// It takes effect after the current wait elapses.
func (s *Service) SetSchedule(spec ParsedSpec) {
	s.mu.Lock()
	s.cfg.Schedule = spec
	s.mu.Unlock()
}

func (s *Service) schedule() ParsedSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Schedule
}

// Run scrapes immediately, then on every schedule tick, publishing each
// non-empty batch to out. The publish blocks until the consumer drains the
// channel or ctx is cancelled, so batches are never dropped or reordered.
func (s *Service) Run(ctx context.Context, out chan<- core.Batch) {
	s.log.Info("scraper started", logx.String("url", s.cfg.URL))
	for {
		s.scrapeOnce(ctx, out)

		next := s.schedule().Next(time.Now())
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			s.log.Info("scraper stopped")
			return
		case <-t.C:
		}
	}
}

func (s *Service) scrapeOnce(ctx context.Context, out chan<- core.Batch) {
	start := time.Now()
	batch, err := s.fetch(ctx)
	if err != nil {
		s.log.Warn("scrape failed; retrying next tick", logx.Err(err))
		return
	}
	if len(batch) == 0 {
		s.log.Warn("page yielded no codes; batch withheld")
		return
	}

	select {
	case <-ctx.Done():
		return
	case out <- batch:
		s.log.Info("batch published",
			logx.Int("codes", len(batch)),
			logx.Duration("took", time.Since(start)))
	}
}

func (s *Service) fetch(ctx context.Context) (core.Batch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}

	return ParseCodes(resp.Body, s.cfg.Selectors)
}
