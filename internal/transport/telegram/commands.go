package telegram

import (
	"context"
	"strconv"
	"strings"

	"codealert/internal/storage"
	kit "codealert/internal/transport"
	logx "codealert/pkg/logx"
)

// RegistryPort is the configuration surface commands mutate. Mutations are
// safe at any time; the reconciliation cycle re-reads fresh state.
type RegistryPort interface {
	EnsureExists(ctx context.Context, id int64) (bool, error)
	Get(ctx context.Context, id int64) (storage.Subscriber, error)
	All(ctx context.Context) ([]storage.Subscriber, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	SetDestination(ctx context.Context, id int64, dest int64) error
	SetMention(ctx context.Context, id int64, mention int64) error
}

// CatalogPort is the read-only catalog surface used by /codes.
type CatalogPort interface {
	CodesAfter(ctx context.Context, cursor uint64, validOnly bool) ([]storage.Code, error)
}

// Router dispatches group commands to the registry and catalog.
type Router struct {
	adapter  kit.Adapter
	registry RegistryPort
	catalog  CatalogPort
	owners   []int64
	log      logx.Logger
}

func NewRouter(adapter kit.Adapter, registry RegistryPort, catalog CatalogPort, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		adapter:  adapter,
		registry: registry,
		catalog:  catalog,
		owners:   owners,
		log:      log.With(logx.String("comp", "router")),
	}
}

// Run consumes transport updates until ctx is cancelled or in closes.
func (r *Router) Run(ctx context.Context, in <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-in:
			if !ok {
				return
			}
			r.handle(ctx, up)
		}
	}
}

func (r *Router) handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateJoin:
		if up.Join == nil {
			return
		}
		if _, err := r.registry.EnsureExists(ctx, up.Join.ChatID); err != nil {
			r.log.Error("join registration failed", logx.Int64("chat", up.Join.ChatID), logx.Err(err))
		}
	case kit.UpdateMessage:
		if up.Message == nil {
			return
		}
		r.handleMessage(ctx, up.Message)
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	cmd, args := splitCommand(m.Text)
	if cmd == "" {
		return
	}
	r.log.Debug("command received",
		logx.String("cmd", cmd),
		logx.Int64("chat", m.ChatID),
		logx.String("from", m.FromUsername))

	var reply string
	switch cmd {
	case "enable":
		reply = r.setEnabled(ctx, m, true)
	case "disable":
		reply = r.setEnabled(ctx, m, false)
	case "setchannel":
		reply = r.setChannel(ctx, m, args)
	case "setmention":
		reply = r.setMention(ctx, m, args)
	case "codes":
		reply = r.listCodes(ctx)
	case "announce":
		reply = r.announce(ctx, m, args)
	case "help", "start":
		reply = helpText
	default:
		return
	}
	if reply == "" {
		return
	}
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, reply, nil); err != nil {
		r.log.Warn("command reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}

func (r *Router) setEnabled(ctx context.Context, m *kit.Message, enabled bool) string {
	if !m.IsGroup {
		return "Run this command inside a group."
	}
	if _, err := r.registry.EnsureExists(ctx, m.ChatID); err != nil {
		r.log.Error("ensure subscriber failed", logx.Int64("chat", m.ChatID), logx.Err(err))
		return "Internal error, try again later."
	}
	if err := r.registry.SetEnabled(ctx, m.ChatID, enabled); err != nil {
		r.log.Error("set enabled failed", logx.Int64("chat", m.ChatID), logx.Err(err))
		return "Internal error, try again later."
	}
	if enabled {
		return "Alerts enabled."
	}
	return "Alerts disabled."
}

func (r *Router) setChannel(ctx context.Context, m *kit.Message, args []string) string {
	if !m.IsGroup {
		return "Run this command inside a group."
	}
	if _, err := r.registry.EnsureExists(ctx, m.ChatID); err != nil {
		r.log.Error("ensure subscriber failed", logx.Int64("chat", m.ChatID), logx.Err(err))
		return "Internal error, try again later."
	}

	// Default: alerts go to the chat the command ran in.
	dest := m.ChatID
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "off":
			dest = 0
		default:
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return "Usage: /setchannel [chat id|off]"
			}
			dest = id
		}
	}

	if dest != 0 {
		ok, err := r.adapter.ResolveChat(ctx, dest)
		if err != nil {
			return "Could not verify that chat right now, try again later."
		}
		if !ok {
			return "That chat is not reachable by the bot."
		}
	}

	if err := r.registry.SetDestination(ctx, m.ChatID, dest); err != nil {
		r.log.Error("set destination failed", logx.Int64("chat", m.ChatID), logx.Err(err))
		return "Internal error, try again later."
	}
	if dest == 0 {
		return "Alert channel removed."
	}
	return "Alert channel set."
}

func (r *Router) setMention(ctx context.Context, m *kit.Message, args []string) string {
	if !m.IsGroup {
		return "Run this command inside a group."
	}
	if _, err := r.registry.EnsureExists(ctx, m.ChatID); err != nil {
		r.log.Error("ensure subscriber failed", logx.Int64("chat", m.ChatID), logx.Err(err))
		return "Internal error, try again later."
	}

	// Default: mention the invoking user on every alert.
	mention := m.FromID
	if len(args) > 0 && strings.EqualFold(args[0], "off") {
		mention = 0
	}
	if err := r.registry.SetMention(ctx, m.ChatID, mention); err != nil {
		r.log.Error("set mention failed", logx.Int64("chat", m.ChatID), logx.Err(err))
		return "Internal error, try again later."
	}
	if mention == 0 {
		return "Mention removed."
	}
	return "You will be mentioned on new codes."
}

func (r *Router) listCodes(ctx context.Context) string {
	codes, err := r.catalog.CodesAfter(ctx, 0, true)
	if err != nil {
		r.log.Error("codes query failed", logx.Err(err))
		return "Internal error, try again later."
	}
	if len(codes) == 0 {
		return "No codes are currently active."
	}
	var b strings.Builder
	b.WriteString("Currently active codes:")
	for _, c := range codes {
		b.WriteString("\n» ")
		b.WriteString(c.Text)
	}
	return b.String()
}

func (r *Router) announce(ctx context.Context, m *kit.Message, args []string) string {
	if !r.isOwner(m.FromID) {
		r.log.Warn("announce denied", logx.Int64("from", m.FromID))
		return "Announcements can only be sent by the operator."
	}
	if len(args) == 0 {
		return "Usage: /announce <message>"
	}
	text := strings.Join(args, " ")

	subs, err := r.registry.All(ctx)
	if err != nil {
		r.log.Error("announce subscriber query failed", logx.Err(err))
		return "Failed to send announcement."
	}
	failed := 0
	for _, s := range subs {
		to := s.Destination
		if to == 0 {
			to = s.ID
		}
		if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: to}, text, nil); err != nil {
			failed++
			r.log.Warn("announce send failed", logx.Int64("subscriber", s.ID), logx.Err(err))
		}
	}
	if failed > 0 {
		return "Announcement sent with " + strconv.Itoa(failed) + " failure(s)."
	}
	return "Done!"
}

func (r *Router) isOwner(id int64) bool {
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// splitCommand parses "/cmd@BotName arg1 arg2" into ("cmd", ["arg1","arg2"]).
// Non-command text returns an empty command.
func splitCommand(text string) (string, []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil
	}
	cmd := fields[0]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:]
}

const helpText = `Commands:
/enable - enable code alerts for this group
/disable - disable code alerts
/setchannel [chat id|off] - where alerts go (default: this chat)
/setmention [off] - mention you on new codes
/codes - list currently active codes
/announce <msg> - operator broadcast`
