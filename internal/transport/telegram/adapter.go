// Package telegram adapts the Telegram Bot API (telebot) to the transport
// surface the rest of the repo uses, and implements the external-state,
// delivery and alerting collaborators on top of it.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "codealert/internal/transport"
	logx "codealert/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	RatePerSec  int // outbound send rate limit
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter

	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// stopOnce guards the telebot stop: both the ctx watcher in Start and
	// Stop race to it, and a second bot.Stop() blocks forever.
	stopOnce sync.Once
	stopFn   func()

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged on Stop to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "telegram")),
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	a.stopFn = b.Stop
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnAddedToGroup, func(c tele.Context) error {
		ch := c.Chat()
		if ch == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateJoin,
			Join: &kit.Join{ChatID: ch.ID, Title: ch.Title},
		})
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.runMu.Unlock()

	// Telebot's Start() blocks until Stop() is called.
	go func() {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}()

	// Stop telebot when the context is cancelled.
	go func() {
		<-ctx.Done()
		a.stopPolling()
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n))
	}

	// telebot Stop is expected to be fast; run it async just in case.
	done := make(chan struct{})
	go func() {
		a.stopPolling()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("telegram stop timed out")
	case <-time.After(2 * time.Second):
		a.log.Warn("telegram stop timed out")
	}
	return nil
}

func (a *Adapter) stopPolling() {
	a.stopOnce.Do(func() {
		if a.stopFn != nil {
			a.stopFn()
		}
	})
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}

	var opts []any
	if opt != nil {
		so := &tele.SendOptions{
			DisableWebPagePreview: opt.DisablePreview,
			ParseMode:             opt.ParseMode,
		}
		opts = append(opts, so)
	}
	msg, err := a.bot.Send(tele.ChatID(to.ChatID), text, opts...)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

// ResolveChat distinguishes "the chat is gone" (false, nil) from "Telegram
// could not be asked" (false, err). Only API-level rejections count as gone.
func (a *Adapter) ResolveChat(ctx context.Context, chatID int64) (bool, error) {
	_, err := a.bot.ChatByID(chatID)
	if err == nil {
		return true, nil
	}
	if isAPIError(err) {
		return false, nil
	}
	return false, err
}

func (a *Adapter) ResolveMember(ctx context.Context, chatID, userID int64) (bool, error) {
	member, err := a.bot.ChatMemberOf(tele.ChatID(chatID), &tele.User{ID: userID})
	if err != nil {
		if isAPIError(err) {
			return false, nil
		}
		return false, err
	}
	switch member.Role {
	case tele.Left, tele.Kicked:
		return false, nil
	default:
		return true, nil
	}
}

func isAPIError(err error) bool {
	var terr *tele.Error
	return errors.As(err, &terr)
}
