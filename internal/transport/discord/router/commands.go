package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessModerator
)

type Command struct {
	// Route is a space-separated command path, e.g.:
	//   "ping"
	//   "modpings schedule start"
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	// NeedsReady gates the command until the app has finished its startup
	// reconciliation. Rejected invocations get a "still starting" notice.
	NeedsReady bool

	PluginName string
	Timeout    time.Duration // optional per-command override
	Handle     HandlerFunc
}

type Request struct {
	Update    kit.Update
	Chat      kit.ChatTarget
	GuildID   string
	FromID    string
	FromName  string
	FromRoles []string
	Path      []string // matched command path tokens
	Command   string
	Args      []string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter  kit.Adapter
	Config   *Config
	Logger   logx.Logger
	Services *Services
}

// MessageRef points at the invoking message.
func (r *Request) MessageRef() kit.MessageRef {
	if r.Update.Message == nil {
		return kit.MessageRef{}
	}
	return kit.MessageRef{ChannelID: r.Update.Message.ChannelID, MessageID: r.Update.Message.ID}
}

// IsModerator reports whether the author holds any configured moderation role.
func (r *Request) IsModerator() bool {
	if r.Config == nil {
		return false
	}
	return hasAnyRole(r.FromRoles, r.Config.Discord.ModerationRoleIDs)
}

type Manager struct {
	mu sync.RWMutex

	root  *cmdNode
	alias map[string]*cmdNode // alias -> leaf node

	log     logx.Logger
	adapter kit.Adapter
	cfgm    *ConfigManager
	serv    *Services

	ready atomic.Bool

	runMu   sync.Mutex
	running bool
	sup     *Supervisor

	jobs chan func()

	// Reaction waiters keyed by message ID, for reaction-gated flows.
	waitMu  sync.Mutex
	waiters map[string][]chan<- kit.Reaction
}

func NewManager(log logx.Logger, adapter kit.Adapter, cfgm *ConfigManager, serv *Services) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		log:     log,
		adapter: adapter,
		cfgm:    cfgm,
		serv:    serv,
		jobs:    make(chan func(), 256),
		waiters: map[string][]chan<- kit.Reaction{},
	}
}

// SetReady opens the gate for NeedsReady commands. Called by the app once
// startup reconciliation has completed.
func (m *Manager) SetReady() { m.ready.Store(true) }

// Supervisor returns the manager's internal supervisor (nil if not running).
func (m *Manager) Supervisor() *Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *Manager) setSupervisor(sup *Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *Manager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// WaitReaction registers a channel to receive reactions added to msgID.
// The returned func unregisters it; always call it when done.
func (m *Manager) WaitReaction(msgID string, ch chan<- kit.Reaction) (cancel func()) {
	m.waitMu.Lock()
	m.waiters[msgID] = append(m.waiters[msgID], ch)
	m.waitMu.Unlock()
	return func() {
		m.waitMu.Lock()
		defer m.waitMu.Unlock()
		list := m.waiters[msgID]
		n := 0
		for _, c := range list {
			if c != ch {
				list[n] = c
				n++
			}
		}
		if n == 0 {
			delete(m.waiters, msgID)
		} else {
			m.waiters[msgID] = list[:n]
		}
	}
}

func (m *Manager) SetRegistry(cmds []Command) {
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show command help",
		Usage:       "help [cmd] [sub...]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			text := m.helpText(req.Args, m.prefix())
			_, _ = req.Adapter.SendText(ctx, req.Chat, text, nil)
			return nil
		},
	}
	cmds = append(cmds, helper)

	root := newRoot()
	alias := map[string]*cmdNode{}

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		cc := c // copy
		root.add(route, cc)
		leaf := root.find(route)
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()
}

func (m *Manager) prefix() string {
	if cfg := m.cfgm.Get(); cfg != nil && strings.TrimSpace(cfg.Discord.CommandPrefix) != "" {
		return strings.TrimSpace(cfg.Discord.CommandPrefix)
	}
	return "!"
}

func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := NewSupervisor(ctx,
		WithLogger(m.log.With(logx.String("comp", "discord.router"))),
		WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)

	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			// Mark as not running before closing so enqueue can degrade gracefully.
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		name := "command.worker." + strconv.Itoa(idx)
		sup.GoRestart(name, func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					// Middleware already recovers; keep workers alive regardless.
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
		},
			WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			WithPublishFirstError(true),
			WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("command dispatcher stopped (updates channel closed)")
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *Manager) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateReaction:
		m.routeReaction(up)
	}
}

func (m *Manager) routeReaction(up kit.Update) {
	if up.Reaction == nil {
		return
	}
	re := *up.Reaction
	m.waitMu.Lock()
	list := append([]chan<- kit.Reaction(nil), m.waiters[re.MessageID]...)
	m.waitMu.Unlock()
	for _, ch := range list {
		select {
		case ch <- re:
		default:
		}
	}
}

func (m *Manager) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil || up.Message.IsBot {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	prefix := m.prefix()
	if !strings.HasPrefix(text, prefix) {
		return
	}

	parts := tokenizeCommandLine(strings.TrimPrefix(text, prefix))
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(parts[0])
	args := []string{}
	if len(parts) > 1 {
		args = parts[1:]
	}

	// snapshot registry
	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	// Resolve the first word to a tree node. An alias stands in for its
	// target's route, so subcommand traversal below still applies to it.
	cur, ok := rootNode.child(word)
	path := []string{word}
	if !ok {
		leaf, found := aliasMap[word]
		if !found || leaf == nil || leaf.cmd == nil {
			// Not a registered command; stay quiet so ordinary "!"-prefixed
			// chat doesn't trigger noise.
			return
		}
		cur = leaf
		path = splitRoute(leaf.cmd.Route)
	}
	for len(args) > 0 {
		nxt := strings.ToLower(args[0])
		if strings.HasPrefix(nxt, "-") { // flags start, stop subcommand traversal
			break
		}
		child, ok := cur.child(nxt)
		if !ok {
			break
		}
		cur = child
		path = append(path, nxt)
		args = args[1:]
	}

	// Container node without handler: show help for that path.
	if cur.cmd == nil {
		txt := m.helpText(path, prefix)
		_, _ = m.adapter.SendText(root, kit.ChatTarget{ChannelID: msg.ChannelID}, txt, nil)
		return
	}

	cmd := *cur.cmd
	pos, flags, bools := parseFlags(args)
	m.enqueueCommand(root, up, cmd, path, pos, args, flags, bools)
}

func (m *Manager) enqueueCommand(root context.Context, up kit.Update, cmd Command, path []string, args []string, raw []string, flags map[string]string, bools map[string]bool) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChannelID: msg.ChannelID}
	cfg := m.cfgm.Get()

	if cmd.Access == AccessModerator {
		if cfg == nil || !hasAnyRole(msg.FromRoles, cfg.Discord.ModerationRoleIDs) {
			_, _ = m.adapter.SendText(root, chat, "you don't have permission to use that command", nil)
			return
		}
	}
	if cmd.NeedsReady && !m.ready.Load() {
		_, _ = m.adapter.SendText(root, chat, "still starting up, try again in a moment", nil)
		return
	}

	rid := newReqID()
	reqLog := m.log.With(
		logx.String("rid", rid),
		logx.String("channel_id", msg.ChannelID),
		logx.String("from_id", msg.FromID),
		logx.String("cmd", cmd.Route),
	)

	req := &Request{
		Update:    up,
		Chat:      chat,
		GuildID:   msg.GuildID,
		FromID:    msg.FromID,
		FromName:  msg.FromName,
		FromRoles: append([]string(nil), msg.FromRoles...),
		Path:      path,
		Command:   cmd.Route,
		Args:      args,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   m.adapter,
		Config:    cfg,
		Logger:    reqLog,
		Services:  m.serv,
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, req.Chat, "busy, try again", nil)
	}
}

func hasAnyRole(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
