package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	kit "remindbot/internal/transport"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "chat missing", err: errors.New("telegram: Bad Request: chat not found (400)"), want: kit.ErrChatNotFound},
		{name: "kicked", err: errors.New("telegram: Forbidden: bot was kicked from the supergroup chat (403)"), want: kit.ErrChatNotFound},
		{name: "topic gone", err: errors.New("telegram: Bad Request: message thread not found (400)"), want: kit.ErrThreadNotFound},
		{name: "reply gone", err: errors.New("telegram: Bad Request: message to be replied not found (400)"), want: kit.ErrReplyNotFound},
		{name: "no rights", err: errors.New("telegram: Bad Request: not enough rights to send text messages to the chat (400)"), want: kit.ErrForbidden},
		{name: "flood", err: errors.New("telegram: Too Many Requests: retry after 7 (429)"), want: kit.ErrChatUnavailable},
		{name: "5xx", err: errors.New("telegram: Bad Gateway (502)"), want: kit.ErrChatUnavailable},
		{name: "network", err: fmt.Errorf("post: %w", timeoutErr{}), want: kit.ErrChatUnavailable},
	}
	for _, tt := range tests {
		got := classify(tt.err)
		if !errors.Is(got, tt.want) {
			t.Fatalf("%s: classify = %v, want %v", tt.name, got, tt.want)
		}
		if !errors.Is(got, tt.err) {
			t.Fatalf("%s: original error lost", tt.name)
		}
	}
}

func TestClassifyPassthrough(t *testing.T) {
	t.Parallel()
	if classify(nil) != nil {
		t.Fatal("classify(nil) != nil")
	}
	if got := classify(context.Canceled); got != context.Canceled {
		t.Fatalf("context error rewrapped: %v", got)
	}
	odd := errors.New("telegram: Bad Request: message text is empty (400)")
	if got := classify(odd); got != odd {
		t.Fatalf("unknown error rewrapped: %v", got)
	}
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text = %q", got)
	}

	lines := strings.Repeat("abcdefghi\n", 5) // 50 runes
	got := splitTelegramText(lines, 25, "")
	for _, c := range got {
		if utf8.RuneCountInString(c) > 25 {
			t.Fatalf("chunk too long: %q", c)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk keeps edge newline: %q", c)
		}
	}
	if joined := strings.Join(got, "\n"); joined != strings.TrimRight(lines, "\n") {
		t.Fatalf("chunks lose text: %q", joined)
	}

	html := strings.Repeat("x", 8) + "<b>bold</b>"
	got = splitTelegramText(html, 10, "HTML")
	if got[0] != strings.Repeat("x", 8) {
		t.Fatalf("first HTML chunk = %q, want tag kept whole", got[0])
	}
}

func TestCanPost(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		role    kit.Role
		channel bool
		canSend bool
		canPost bool
		want    bool
	}{
		{name: "creator", role: kit.RoleCreator, channel: true, want: true},
		{name: "group admin", role: kit.RoleAdmin, want: true},
		{name: "channel admin without post right", role: kit.RoleAdmin, channel: true},
		{name: "channel admin with post right", role: kit.RoleAdmin, channel: true, canPost: true, want: true},
		{name: "member", role: kit.RoleMember, want: true},
		{name: "channel member", role: kit.RoleMember, channel: true},
		{name: "restricted muted", role: kit.RoleRestricted},
		{name: "restricted may send", role: kit.RoleRestricted, canSend: true, want: true},
		{name: "left", role: kit.RoleLeft, canSend: true},
		{name: "kicked", role: kit.RoleKicked},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := canPost(tc.role, tc.channel, tc.canSend, tc.canPost); got != tc.want {
				t.Fatalf("canPost = %v, want %v", got, tc.want)
			}
		})
	}
}
