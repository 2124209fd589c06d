package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	kit "remindbot/internal/transport"
)

// Bot API descriptions mapped onto the transport sentinels. Matching is on
// lowercased text because telebot only exposes a subset as typed errors.
var errorPatterns = []struct {
	sentinel error
	needles  []string
}{
	{kit.ErrReplyNotFound, []string{
		"replied message not found",
		"message to be replied not found",
		"message to reply not found",
	}},
	{kit.ErrThreadNotFound, []string{
		"message thread not found",
		"topic_deleted",
		"topic_closed",
	}},
	{kit.ErrChatNotFound, []string{
		"chat not found",
		"bot was kicked",
		"bot is not a member",
		"group chat was deleted",
		"group chat was upgraded",
		"bot was blocked",
		"user is deactivated",
	}},
	{kit.ErrForbidden, []string{
		"not enough rights",
		"have no rights",
		"chat_write_forbidden",
		"need administrator rights",
	}},
	{kit.ErrChatUnavailable, []string{
		"too many requests",
		"retry after",
		"internal server error",
		"bad gateway",
		"gateway timeout",
		"service unavailable",
	}},
}

// classify wraps err with the matching transport sentinel so callers can use
// errors.Is. Context errors and unknown errors are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		for _, n := range p.needles {
			if strings.Contains(msg, n) {
				return fmt.Errorf("%w: %w", p.sentinel, err)
			}
		}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return fmt.Errorf("%w: %w", kit.ErrChatUnavailable, err)
	}
	return err
}
