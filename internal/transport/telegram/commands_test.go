package telegram

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"codealert/internal/storage"
	kit "codealert/internal/transport"
	logx "codealert/pkg/logx"
)

// fakeAdapter records outbound sends and resolves chats from a map.
type fakeAdapter struct {
	sent  []sentMessage
	chats map[int64]bool
}

type sentMessage struct {
	to   int64
	text string
	opt  *kit.SendOptions
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.sent = append(f.sent, sentMessage{to: to.ChatID, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) ResolveChat(_ context.Context, chatID int64) (bool, error) {
	return f.chats[chatID], nil
}

func (f *fakeAdapter) ResolveMember(_ context.Context, chatID, userID int64) (bool, error) {
	return false, nil
}

func (f *fakeAdapter) lastText(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return f.sent[len(f.sent)-1].text
}

func newRouterFixture(t *testing.T) (*Router, *fakeAdapter, *storage.Registry, *storage.Catalog) {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	fa := &fakeAdapter{chats: map[int64]bool{}}
	r := NewRouter(fa, db.Registry(), db.Catalog(), []int64{999}, logx.Nop())
	return r, fa, db.Registry(), db.Catalog()
}

func groupMessage(chatID, fromID int64, text string) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ChatID:  chatID,
			FromID:  fromID,
			Text:    text,
			IsGroup: true,
		},
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		cmd  string
		args []string
	}{
		{in: "/enable", cmd: "enable"},
		{in: "/Enable", cmd: "enable"},
		{in: "/setchannel@CodeAlertBot -100123 extra", cmd: "setchannel", args: []string{"-100123", "extra"}},
		{in: "  /codes  ", cmd: "codes"},
		{in: "/announce hello world", cmd: "announce", args: []string{"hello", "world"}},
		{in: "plain text", cmd: ""},
		{in: "/", cmd: ""},
		{in: "", cmd: ""},
	}
	for _, tc := range tests {
		cmd, args := splitCommand(tc.in)
		if cmd != tc.cmd {
			t.Errorf("splitCommand(%q) cmd = %q, want %q", tc.in, cmd, tc.cmd)
		}
		if len(args) != len(tc.args) || (len(tc.args) > 0 && !reflect.DeepEqual(args, tc.args)) {
			t.Errorf("splitCommand(%q) args = %v, want %v", tc.in, args, tc.args)
		}
	}
}

func TestJoinRegistersSubscriber(t *testing.T) {
	t.Parallel()
	r, _, reg, _ := newRouterFixture(t)
	ctx := context.Background()

	r.handle(ctx, kit.Update{Kind: kit.UpdateJoin, Join: &kit.Join{ChatID: -100, Title: "test group"}})

	sub, err := reg.Get(ctx, -100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sub.Enabled || sub.Cursor != 0 {
		t.Fatalf("joined subscriber = %+v", sub)
	}
}

func TestEnableDisable(t *testing.T) {
	t.Parallel()
	r, fa, reg, _ := newRouterFixture(t)
	ctx := context.Background()

	r.handle(ctx, groupMessage(-100, 1, "/disable"))
	sub, err := reg.Get(ctx, -100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub.Enabled {
		t.Fatal("still enabled after /disable")
	}
	if got := fa.lastText(t); got != "Alerts disabled." {
		t.Fatalf("reply = %q", got)
	}

	r.handle(ctx, groupMessage(-100, 1, "/enable"))
	sub, _ = reg.Get(ctx, -100)
	if !sub.Enabled {
		t.Fatal("still disabled after /enable")
	}
}

func TestCommandsRequireGroup(t *testing.T) {
	t.Parallel()
	r, fa, reg, _ := newRouterFixture(t)
	ctx := context.Background()

	up := groupMessage(55, 55, "/enable")
	up.Message.IsGroup = false
	r.handle(ctx, up)

	if _, err := reg.Get(ctx, 55); err == nil {
		t.Fatal("private chat was registered as a subscriber")
	}
	if got := fa.lastText(t); !strings.Contains(got, "group") {
		t.Fatalf("reply = %q, want group hint", got)
	}
}

func TestSetChannel(t *testing.T) {
	t.Parallel()
	r, fa, reg, _ := newRouterFixture(t)
	ctx := context.Background()
	fa.chats[-100] = true
	fa.chats[-200] = true

	// No argument: route alerts to the invoking chat.
	r.handle(ctx, groupMessage(-100, 1, "/setchannel"))
	sub, err := reg.Get(ctx, -100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub.Destination != -100 {
		t.Fatalf("destination = %d, want -100", sub.Destination)
	}

	// Explicit chat id, verified against the platform.
	r.handle(ctx, groupMessage(-100, 1, "/setchannel -200"))
	sub, _ = reg.Get(ctx, -100)
	if sub.Destination != -200 {
		t.Fatalf("destination = %d, want -200", sub.Destination)
	}

	// Unreachable chat is rejected, destination unchanged.
	r.handle(ctx, groupMessage(-100, 1, "/setchannel -300"))
	sub, _ = reg.Get(ctx, -100)
	if sub.Destination != -200 {
		t.Fatalf("destination = %d after rejected change, want -200", sub.Destination)
	}
	if got := fa.lastText(t); !strings.Contains(got, "not reachable") {
		t.Fatalf("reply = %q", got)
	}

	// "off" clears the destination.
	r.handle(ctx, groupMessage(-100, 1, "/setchannel off"))
	sub, _ = reg.Get(ctx, -100)
	if sub.Destination != 0 {
		t.Fatalf("destination = %d after off, want 0", sub.Destination)
	}

	// Garbage argument.
	r.handle(ctx, groupMessage(-100, 1, "/setchannel everywhere"))
	if got := fa.lastText(t); !strings.Contains(got, "Usage") {
		t.Fatalf("reply = %q, want usage hint", got)
	}
}

func TestSetMention(t *testing.T) {
	t.Parallel()
	r, _, reg, _ := newRouterFixture(t)
	ctx := context.Background()

	r.handle(ctx, groupMessage(-100, 42, "/setmention"))
	sub, err := reg.Get(ctx, -100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub.Mention != 42 {
		t.Fatalf("mention = %d, want invoking user 42", sub.Mention)
	}

	r.handle(ctx, groupMessage(-100, 42, "/setmention off"))
	sub, _ = reg.Get(ctx, -100)
	if sub.Mention != 0 {
		t.Fatalf("mention = %d after off, want 0", sub.Mention)
	}
}

func TestListCodes(t *testing.T) {
	t.Parallel()
	r, fa, _, cat := newRouterFixture(t)
	ctx := context.Background()

	r.handle(ctx, groupMessage(-100, 1, "/codes"))
	if got := fa.lastText(t); !strings.Contains(got, "No codes") {
		t.Fatalf("reply = %q", got)
	}

	for _, text := range []string{"ABC123", "XYZ789"} {
		if _, _, err := cat.Upsert(ctx, text, storage.KindOrdinary); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if err := cat.InvalidateMissing(ctx, []string{"ABC123"}); err != nil {
		t.Fatalf("InvalidateMissing: %v", err)
	}

	r.handle(ctx, groupMessage(-100, 1, "/codes"))
	got := fa.lastText(t)
	if !strings.Contains(got, "ABC123") {
		t.Fatalf("reply %q missing active code", got)
	}
	if strings.Contains(got, "XYZ789") {
		t.Fatalf("reply %q lists an invalidated code", got)
	}
}

func TestAnnounce(t *testing.T) {
	t.Parallel()
	r, fa, reg, _ := newRouterFixture(t)
	ctx := context.Background()

	// Two subscribers, one with a dedicated alert channel.
	for _, id := range []int64{-100, -200} {
		if _, err := reg.EnsureExists(ctx, id); err != nil {
			t.Fatalf("EnsureExists: %v", err)
		}
	}
	if err := reg.SetDestination(ctx, -200, -250); err != nil {
		t.Fatalf("SetDestination: %v", err)
	}

	r.handle(ctx, groupMessage(-100, 7, "/announce maintenance tonight"))
	if got := fa.lastText(t); !strings.Contains(got, "operator") {
		t.Fatalf("non-owner got reply %q", got)
	}

	fa.sent = nil
	r.handle(ctx, groupMessage(-100, 999, "/announce maintenance tonight"))

	targets := map[int64]bool{}
	for _, s := range fa.sent {
		if s.text == "maintenance tonight" {
			targets[s.to] = true
		}
	}
	if !targets[-100] || !targets[-250] {
		t.Fatalf("broadcast targets = %v, want -100 and -250", targets)
	}
}

func TestHelp(t *testing.T) {
	t.Parallel()
	r, fa, _, _ := newRouterFixture(t)

	r.handle(context.Background(), groupMessage(-100, 1, "/help"))
	got := fa.lastText(t)
	for _, cmd := range []string{"/enable", "/disable", "/setchannel", "/setmention", "/codes"} {
		if !strings.Contains(got, cmd) {
			t.Fatalf("help %q missing %s", got, cmd)
		}
	}
}

func TestNonCommandTextIgnored(t *testing.T) {
	t.Parallel()
	r, fa, _, _ := newRouterFixture(t)

	r.handle(context.Background(), groupMessage(-100, 1, "just chatting"))
	if len(fa.sent) != 0 {
		t.Fatalf("bot replied to plain text: %+v", fa.sent)
	}
}
