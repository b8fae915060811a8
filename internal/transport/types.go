package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateJoin    UpdateKind = "join"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Join    *Join
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// Join signals that the bot became a member of a group chat.
type Join struct {
	ChatID int64
	Title  string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)

	// ResolveChat reports whether the chat still exists and is reachable.
	// The error return means the platform could not be consulted at all.
	ResolveChat(ctx context.Context, chatID int64) (bool, error)
	// ResolveMember reports whether the user is still a member of the chat.
	ResolveMember(ctx context.Context, chatID, userID int64) (bool, error)
}
