package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
	SentAt       time.Time
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyTo is the message id to reply to (0 sends a standalone message).
	ReplyTo int
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Role is a chat member's standing in a group.
type Role string

const (
	RoleCreator    Role = "creator"
	RoleAdmin      Role = "administrator"
	RoleMember     Role = "member"
	RoleRestricted Role = "restricted"
	RoleLeft       Role = "left"
	RoleKicked     Role = "kicked"
)

// Privileged reports whether the role may broadcast-mention and change
// chat settings.
func (r Role) Privileged() bool { return r == RoleCreator || r == RoleAdmin }

type ChatInfo struct {
	ID    int64
	Type  string
	Title string
}

// Directory looks up chats and memberships on the platform.
//
// Errors wrap ErrChatNotFound, ErrChatUnavailable or ErrForbidden when the
// platform answer maps onto one of them.
type Directory interface {
	Chat(ctx context.Context, chatID int64) (ChatInfo, error)
	MemberRole(ctx context.Context, chatID, userID int64) (Role, error)
	// BotCanPost reports whether the bot itself may send messages in chat.
	BotCanPost(ctx context.Context, chat ChatInfo) (bool, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is optionally implemented by adapters that support a
// platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
