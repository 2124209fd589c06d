package transport

import "errors"

var (
	// ErrChatNotFound means the chat no longer exists for the bot: deleted,
	// or the bot was removed from it.
	ErrChatNotFound = errors.New("transport: chat not found")
	// ErrChatUnavailable is a temporary failure to reach the chat
	// (network, platform outage, flood wait).
	ErrChatUnavailable = errors.New("transport: chat unavailable")
	// ErrThreadNotFound means the forum topic was deleted.
	ErrThreadNotFound = errors.New("transport: thread not found")
	// ErrForbidden means the bot may not post in the chat or topic.
	ErrForbidden = errors.New("transport: forbidden")
	// ErrReplyNotFound means the message to reply to is gone.
	ErrReplyNotFound = errors.New("transport: reply target not found")
)
