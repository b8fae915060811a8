package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"codealert/internal/config"
	"codealert/internal/core"
	"codealert/internal/scraper"
	"codealert/internal/storage"
	kit "codealert/internal/transport"
	"codealert/internal/transport/telegram"
	logx "codealert/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	mgr.SetLogger(log)

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	db, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout}, log)
	if err != nil {
		return err
	}
	defer db.Close()

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log)
	if err != nil {
		return err
	}

	gateway := telegram.NewGateway(adapter, cfg.Delivery.RedeemURL, log)

	expiry, err := expiryPolicy(cfg.Expiry)
	if err != nil {
		return err
	}
	engine := core.NewEngine(db.Catalog(), db.Registry(), gateway, gateway, gateway, expiry, log)

	schedule, err := scraper.ParseSchedule(scheduleOrDefault(cfg.Scraper.Schedule))
	if err != nil {
		return err
	}
	fetchTimeout, err := config.ParseDurationOrDefault("scraper.timeout", cfg.Scraper.Timeout, 30*time.Second)
	if err != nil {
		return err
	}
	scr, err := scraper.New(scraper.Config{
		URL:      cfg.Scraper.URL,
		Schedule: schedule,
		Selectors: scraper.Selectors{
			Container:     cfg.Scraper.Container,
			LimitedMarker: cfg.Scraper.LimitedMarker,
		},
		Timeout: fetchTimeout,
	}, log)
	if err != nil {
		return err
	}

	router := telegram.NewRouter(adapter, db.Registry(), db.Catalog(), cfg.Telegram.OwnerUserIDs, log)

	// Runtime reload: logging level and scraper schedule only. Everything
	// else (token, storage path) needs a restart.
	mgr.OnReload(func(next *config.Config) {
		logSvc.Apply(logx.Config{
			Level:   next.Logging.Level,
			Console: next.Logging.Console,
			File: logx.FileConfig{
				Enabled: next.Logging.File.Enabled,
				Path:    next.Logging.File.Path,
			},
		})
		if spec, err := scraper.ParseSchedule(scheduleOrDefault(next.Scraper.Schedule)); err == nil {
			scr.SetSchedule(spec)
		} else {
			log.Warn("reload kept previous scraper schedule", logx.Err(err))
		}
	})

	capacity := cfg.Scraper.ChannelCapacity
	if capacity <= 0 {
		capacity = 32
	}
	batches := make(chan core.Batch, capacity)
	updates := make(chan kit.Update, 64)

	if err := adapter.Start(ctx, updates); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		scr.Run(ctx, batches)
	}()
	go func() {
		defer wg.Done()
		engine.Run(ctx, batches)
	}()
	go func() {
		defer wg.Done()
		router.Run(ctx, updates)
	}()
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch unavailable", logx.Err(err))
		}
	}()

	notifyReady(ctx, log)
	log.Info("codealert started", logx.String("config", cfgPath))

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// The engine finishes any in-flight cycle before returning.
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = adapter.Stop(stopCtx)

	log.Info("codealert stopped")
	return nil
}

func notifyReady(ctx context.Context, log logx.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if !sent {
		return
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func expiryPolicy(cfg *config.ExpiryConfig) (core.ExpiryPolicy, error) {
	if cfg == nil || !cfg.Enabled {
		return core.ExpiryPolicy{}, nil
	}
	ordinary, err := config.ParseDurationField("expiry.ordinary", cfg.Ordinary)
	if err != nil {
		return core.ExpiryPolicy{}, err
	}
	limited, err := config.ParseDurationField("expiry.limited", cfg.Limited)
	if err != nil {
		return core.ExpiryPolicy{}, err
	}
	return core.ExpiryPolicy{Enabled: true, Ordinary: ordinary, Limited: limited}, nil
}

func scheduleOrDefault(s string) string {
	if s == "" {
		return "1h"
	}
	return s
}
