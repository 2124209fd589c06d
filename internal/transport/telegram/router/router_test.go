package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu   sync.Mutex
	out  []sent
	note chan struct{}
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{note: make(chan struct{}, 64)} }

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }
func (a *fakeAdapter) Username() string                               { return "remindbot" }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.out = append(a.out, sent{to: to, text: text, opt: opt})
	a.mu.Unlock()
	a.note <- struct{}{}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: 1}, nil
}

func (a *fakeAdapter) wait(t *testing.T) sent {
	t.Helper()
	select {
	case <-a.note:
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out[len(a.out)-1]
}

type fakePrefixes struct {
	mu    sync.Mutex
	m     map[int64]string
	calls int
}

func (p *fakePrefixes) Prefix(_ context.Context, chatID int64) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	v, ok := p.m[chatID]
	return v, ok, nil
}

func (p *fakePrefixes) set(chatID int64, v string) {
	p.mu.Lock()
	p.m[chatID] = v
	p.mu.Unlock()
}

func noop(context.Context, *Request) error { return nil }

func newTestManager(prefixes *fakePrefixes, owners ...int64) (*CommandManager, *fakeAdapter) {
	ad := newFakeAdapter()
	m := NewCommandManager(logx.Nop(), ad, nil, prefixes, owners)
	m.SetRegistry([]Command{
		{Route: "remind", Aliases: []string{"reminder", "remindme"}, Handle: noop},
		{Route: "remind list", Handle: noop},
		{Route: "remind cancel", Aliases: []string{"delete"}, Handle: noop},
		{Route: "reminders", Hidden: true, Handle: noop},
	})
	return m, ad
}

func TestMatch(t *testing.T) {
	t.Parallel()
	prefixes := &fakePrefixes{m: map[int64]string{7: "!"}}
	m, _ := newTestManager(prefixes)

	tests := []struct {
		name      string
		chat      int64
		text      string
		ok, known bool
		route     string
		args      []string
		tail      string
	}{
		{name: "plain", chat: 1, text: "/remind 2h stretch  legs", ok: true, known: true, route: "remind", args: []string{"2h", "stretch", "legs"}, tail: "2h stretch  legs"},
		{name: "root alias", chat: 1, text: "/remindme list 2", ok: true, known: true, route: "remind list", args: []string{"2"}, tail: "2"},
		{name: "sub alias", chat: 1, text: "/remind delete 4 5", ok: true, known: true, route: "remind cancel", args: []string{"4", "5"}, tail: "4 5"},
		{name: "menu shortcut", chat: 1, text: "/remind_list", ok: true, known: true, route: "remind list"},
		{name: "case insensitive", chat: 1, text: "/Remind LIST", ok: true, known: true, route: "remind list"},
		{name: "our mention", chat: 1, text: "/remind@RemindBot 5m x", ok: true, known: true, route: "remind", tail: "5m x", args: []string{"5m", "x"}},
		{name: "other bot", chat: 1, text: "/remind@otherbot 5m", ok: false},
		{name: "custom prefix", chat: 7, text: "!remind 1d", ok: true, known: true, route: "remind", args: []string{"1d"}, tail: "1d"},
		{name: "slash still works", chat: 7, text: "/reminders", ok: true, known: true, route: "reminders"},
		{name: "custom prefix elsewhere", chat: 1, text: "!remind 1d", ok: false},
		{name: "chatter", chat: 1, text: "hello there", ok: false},
		{name: "bare prefix", chat: 1, text: "/ remind", ok: false},
		{name: "unknown", chat: 1, text: "/nope", ok: true, known: false},
	}
	for _, tt := range tests {
		cmd, req, known, ok := m.match(context.Background(), &kit.Message{ChatID: tt.chat, Text: tt.text})
		if ok != tt.ok || known != tt.known {
			t.Fatalf("%s: ok=%v known=%v, want %v %v", tt.name, ok, known, tt.ok, tt.known)
		}
		if !ok || !known {
			continue
		}
		if cmd.Route != tt.route {
			t.Fatalf("%s: route = %q, want %q", tt.name, cmd.Route, tt.route)
		}
		if strings.Join(req.Args, "|") != strings.Join(tt.args, "|") {
			t.Fatalf("%s: args = %q, want %q", tt.name, req.Args, tt.args)
		}
		if req.Tail != tt.tail {
			t.Fatalf("%s: tail = %q, want %q", tt.name, req.Tail, tt.tail)
		}
	}
}

func TestPrefixCacheInvalidate(t *testing.T) {
	t.Parallel()
	prefixes := &fakePrefixes{m: map[int64]string{}}
	m, _ := newTestManager(prefixes)
	ctx := context.Background()

	if got := m.PrefixFor(ctx, 3); got != DefaultPrefix {
		t.Fatalf("PrefixFor = %q, want default", got)
	}
	prefixes.set(3, "?")
	if got := m.PrefixFor(ctx, 3); got != DefaultPrefix {
		t.Fatalf("cached PrefixFor = %q, want default", got)
	}
	m.InvalidatePrefix(3)
	if got := m.PrefixFor(ctx, 3); got != "?" {
		t.Fatalf("PrefixFor after invalidate = %q, want ?", got)
	}
	if prefixes.calls != 2 {
		t.Fatalf("store lookups = %d, want 2", prefixes.calls)
	}
}

func TestDispatchLoop(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	m := NewCommandManager(logx.Nop(), ad, nil, nil, []int64{42})
	m.SetRegistry([]Command{
		{Route: "ping", Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "pong "+req.Tail, nil)
		}},
		{Route: "boom", Handle: func(context.Context, *Request) error { return errors.New("db down") }},
		{Route: "panic", Handle: func(context.Context, *Request) error { panic("oops") }},
		{Route: "secret", Access: AccessOwnerOnly, Handle: noop},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(ctx, updates) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	send := func(text string, from int64) {
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 9, ChatID: 5, ThreadID: 2, FromID: from, Text: text, IsGroup: true}}
	}

	send("/ping a  b", 1)
	got := ad.wait(t)
	if got.text != "pong a  b" || got.to.ThreadID != 2 || got.opt.ReplyTo != 9 {
		t.Fatalf("ping reply = %+v", got)
	}

	send("/boom", 1)
	if got := ad.wait(t); !strings.HasPrefix(got.text, "Something went wrong") {
		t.Fatalf("error reply = %q", got.text)
	}

	send("/panic", 1)
	if got := ad.wait(t); !strings.HasPrefix(got.text, "Something went wrong") {
		t.Fatalf("panic reply = %q", got.text)
	}

	send("/secret", 1)
	if got := ad.wait(t); got.text != "unauthorized" {
		t.Fatalf("owner-only reply = %q", got.text)
	}

	send("/help", 42)
	got = ad.wait(t)
	if !strings.Contains(got.text, "<code>/ping</code>") || !strings.Contains(got.text, "🔒 <code>/secret</code>") {
		t.Fatalf("help = %q", got.text)
	}
}

func TestCutFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"remind 2h  do  it ", 1, "2h  do  it"},
		{"remind list", 2, ""},
		{"  remind\tcancel 1", 2, "1"},
		{"remind", 0, "remind"},
	}
	for _, tt := range tests {
		if got := cutFields(tt.in, tt.n); got != tt.want {
			t.Fatalf("cutFields(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"remind list", "remind_list"},
		{"Speed-Test", "speed_test"},
		{"__x__", "x"},
		{"2fa", "cmd_2fa"},
		{"!!!", ""},
		{strings.Repeat("a", 40), strings.Repeat("a", 32)},
	}
	for _, tt := range tests {
		if got := sanitizeTelegramCommand(tt.in); got != tt.want {
			t.Fatalf("sanitizeTelegramCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMenuSkipsHidden(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(&fakePrefixes{m: map[int64]string{}})
	m.mu.RLock()
	root := m.root
	m.mu.RUnlock()
	menu := buildTelegramMenuCommands(root, []Command{{Route: "remind list"}, {Route: "remind cancel"}})
	var names []string
	for _, c := range menu {
		names = append(names, c.Command)
	}
	if got := strings.Join(names, ","); got != "help,remind,remind_cancel,remind_list" {
		t.Fatalf("menu = %s", got)
	}
}
