package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/config"
	"remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// DefaultPrefix is always accepted, even in chats with a custom prefix.
const DefaultPrefix = "/"

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "remind" or
	// "remind cancel".
	Route string
	// Aliases name the last route token differently, e.g. "delete" for
	// "remind cancel" also accepts "remind delete".
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden commands work but stay out of help and the menu.
	Hidden bool

	PluginName string
	Timeout    time.Duration
	Handle     HandlerFunc
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched route tokens
	Command string
	// Args are the whitespace-separated words after the route; Tail is the
	// same text unsplit.
	Args []string
	Tail string
	// Prefix is what the chat should type before commands.
	Prefix string
	ReqID  string

	Adapter kit.Adapter
	Config  *config.Config
	Logger  logx.Logger
	Owners  []int64
}

// IsOwner reports whether the sender is a configured bot owner.
func (r *Request) IsOwner() bool { return slices.Contains(r.Owners, r.FromID) }

// Reply answers the triggering message in its chat and topic.
func (r *Request) Reply(ctx context.Context, text string, opt *SendOpt) error {
	so := &kit.SendOptions{DisablePreview: true}
	if opt != nil {
		so.ParseMode = opt.ParseMode
	}
	if r.Message != nil {
		so.ReplyTo = r.Message.ID
	}
	_, err := r.Adapter.SendText(ctx, r.Chat, text, so)
	return err
}

// SendOpt tweaks Reply.
type SendOpt struct {
	ParseMode string
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// ConfigSource is satisfied by *config.ConfigManager.
type ConfigSource interface {
	Get() *config.Config
}

// PrefixSource looks up a chat's custom prefix.
type PrefixSource interface {
	Prefix(ctx context.Context, chatID int64) (string, bool, error)
}

type CommandManager struct {
	mu        sync.RWMutex
	root      *cmdNode
	shortcuts map[string]*cmdNode // menu-style names like "remind_list"
	owners    []int64

	log      logx.Logger
	adapter  kit.Adapter
	cfg      ConfigSource
	prefixes *prefixCache

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
	appSup  *supervisor.Supervisor

	jobs    chan func()
	workers int
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, cfg ConfigSource, prefixes PrefixSource, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		root:      newRoot(),
		shortcuts: map[string]*cmdNode{},
		owners:    append([]int64(nil), owners...),
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		cfg:       cfg,
		prefixes:  newPrefixCache(prefixes, 5*time.Minute),
		jobs:      make(chan func(), 256),
		workers:   max(2, runtime.NumCPU()),
	}
}

// SetAppSupervisor hosts background work (menu updates) under sup.
func (m *CommandManager) SetAppSupervisor(sup *supervisor.Supervisor) {
	m.runMu.Lock()
	m.appSup = sup
	m.runMu.Unlock()
}

// SetOwners updates the owner list. Safe during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.owners...)
}

// InvalidatePrefix drops the cached prefix of chatID after it changed.
func (m *CommandManager) InvalidatePrefix(chatID int64) { m.prefixes.invalidate(chatID) }

// PrefixFor returns the prefix chatID uses, DefaultPrefix when none is set.
func (m *CommandManager) PrefixFor(ctx context.Context, chatID int64) string {
	if p, ok := m.prefixes.get(ctx, chatID, m.log); ok {
		return p
	}
	return DefaultPrefix
}

// SetRegistry replaces the command set. A help command is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Description: "show available commands",
		Usage:       "help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args, req.Prefix), &SendOpt{ParseMode: "HTML"})
		},
	})

	root := newRoot()
	type pending struct {
		parent *cmdNode
		node   *cmdNode
		names  []string
	}
	var aliases []pending
	var leaves []Command
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		node := root.add(route, c)
		leaves = append(leaves, c)
		if len(c.Aliases) > 0 {
			parent := root
			if len(route) > 1 {
				parent = root.walk(route[:len(route)-1])
			}
			aliases = append(aliases, pending{parent: parent, node: node, names: c.Aliases})
		}
	}
	// aliases go in after every route so they never shadow a real command
	for _, a := range aliases {
		for _, name := range a.names {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" || strings.ContainsAny(name, " \t") {
				continue
			}
			a.parent.alias(name, a.node)
		}
	}

	shortcuts := map[string]*cmdNode{}
	for _, c := range leaves {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		if name, ok := telegramCommandNameFromRoute(route); ok {
			if _, taken := root.children[name]; !taken {
				shortcuts[name] = root.walk(route)
			}
		}
	}

	m.mu.Lock()
	m.root = root
	m.shortcuts = shortcuts
	m.mu.Unlock()

	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildTelegramMenuCommands(root, leaves)
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
	}
	m.runMu.Lock()
	appSup := m.appSup
	m.runMu.Unlock()
	if appSup != nil {
		appSup.Go0("telegram.menu.update", run)
	} else {
		go run(context.Background())
	}
}

func (n *cmdNode) walk(path []string) *cmdNode {
	cur := n
	for _, tok := range path {
		next, ok := cur.children[tok]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// DispatchLoop routes updates to a bounded worker pool until ctx is done or
// updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log),
		supervisor.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.sup = sup
	m.running = true
	m.runMu.Unlock()

	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return m.work(c, idx)
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
		)
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				m.routeMessage(ctx, up.Message)
			}
		}
	}
}

func (m *CommandManager) work(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-m.jobs:
			if job == nil {
				continue
			}
			// middleware already recovers; keep the worker alive regardless
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (m *CommandManager) tryEnqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// match resolves the command in text for chatID. ok is false when the text
// is not addressed to the bot.
func (m *CommandManager) match(ctx context.Context, msg *kit.Message) (cmd Command, req *Request, known, ok bool) {
	text := strings.TrimSpace(msg.Text)
	custom, hasCustom := m.prefixes.get(ctx, msg.ChatID, m.log)
	display := DefaultPrefix
	if hasCustom {
		display = custom
	}

	var body string
	switch {
	case strings.HasPrefix(text, DefaultPrefix):
		body = text[len(DefaultPrefix):]
	case hasCustom && strings.HasPrefix(text, custom):
		body = text[len(custom):]
	default:
		return Command{}, nil, false, false
	}

	fields := strings.Fields(body)
	if len(fields) == 0 || strings.HasPrefix(body, " ") {
		return Command{}, nil, false, false
	}
	word := strings.ToLower(fields[0])
	if at := strings.IndexByte(word, '@'); at >= 0 {
		if target := word[at+1:]; !m.addressedToUs(target) {
			return Command{}, nil, false, false
		}
		word = word[:at]
	}

	m.mu.RLock()
	root := m.root
	shortcuts := m.shortcuts
	m.mu.RUnlock()

	req = &Request{Message: msg, Prefix: display}
	cur, found := root.child(word)
	if !found {
		cur, found = shortcuts[word]
	}
	if !found {
		return Command{}, req, false, true
	}

	consumed := 1
	path := []string{cur.name}
	if cur.cmd != nil {
		path = splitRoute(cur.cmd.Route)
	}
	for consumed < len(fields) {
		next, ok := cur.child(strings.ToLower(fields[consumed]))
		if !ok {
			break
		}
		cur = next
		path = append(path, next.name)
		consumed++
	}
	req.Path = path
	req.Args = fields[consumed:]
	req.Tail = cutFields(body, consumed)
	if cur.cmd == nil {
		return Command{}, req, true, true
	}
	return *cur.cmd, req, true, true
}

func (m *CommandManager) addressedToUs(target string) bool {
	u, ok := m.adapter.(interface{ Username() string })
	if !ok || u.Username() == "" {
		return true
	}
	return strings.EqualFold(target, u.Username())
}

func (m *CommandManager) routeMessage(ctx context.Context, msg *kit.Message) {
	cmd, req, known, ok := m.match(ctx, msg)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if !known {
		// groups often host several bots; only answer unknown commands in DMs
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(ctx, chat, "Unknown command. Try "+req.Prefix+"help", nil)
		}
		return
	}
	if cmd.Handle == nil {
		_, _ = m.adapter.SendText(ctx, chat, m.helpText(req.Path, req.Prefix), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return
	}

	owners := m.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && !slices.Contains(owners, msg.FromID) {
		_, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	req.Chat = chat
	req.FromID = msg.FromID
	req.Command = cmd.Route
	req.ReqID = uuid.NewString()
	req.Adapter = m.adapter
	req.Owners = owners
	if m.cfg != nil {
		req.Config = m.cfg.Get()
	}
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int("thread_id", msg.ThreadID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Route),
	)

	final := Chain(
		cmd.Handle,
		MWErrorReply(),
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}

// cutFields drops the first n whitespace-separated words of s and returns
// the rest with surrounding space trimmed.
func cutFields(s string, n int) string {
	s = strings.TrimLeft(s, " \t\r\n")
	for ; n > 0 && s != ""; n-- {
		i := strings.IndexAny(s, " \t\r\n")
		if i < 0 {
			return ""
		}
		s = strings.TrimLeft(s[i:], " \t\r\n")
	}
	return strings.TrimSpace(s)
}
