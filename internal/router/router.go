// Package router dispatches incoming chat commands to registered
// handlers through a bounded worker pool.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "weiborelay/internal/runtime/supervisor"
	kit "weiborelay/internal/transport"
	logx "weiborelay/pkg/logx"
	"weiborelay/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string // without the leading slash
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// CommandMenuUpdater is implemented by adapters that can publish the
// command list to the chat client's autocomplete menu.
type CommandMenuUpdater interface {
	SetCommands(ctx context.Context, cmds []kit.BotCommand) error
}

type Router struct {
	mu       sync.RWMutex
	commands map[string]Command
	owners   []int64

	log     logx.Logger
	adapter kit.Adapter

	defaultTimeout time.Duration

	jobs  chan func()
	reqID uint64
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		commands:       map[string]Command{},
		owners:         append([]int64(nil), owners...),
		log:            log,
		adapter:        adapter,
		defaultTimeout: 30 * time.Second,
		jobs:           make(chan func(), 256),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = append([]int64(nil), owners...)
	r.mu.Unlock()
}

// Register installs the command set, replacing any previous
// registration. A /help command is always injected.
func (r *Router) Register(cmds []Command) {
	m := map[string]Command{}
	for _, c := range cmds {
		name := strings.TrimSpace(strings.TrimPrefix(c.Name, "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		m[name] = c
	}
	if _, ok := m["help"]; !ok {
		m["help"] = Command{
			Name:        "help",
			Description: "show available commands",
			Usage:       "/help",
			Handle: func(ctx context.Context, req *Request) error {
				_, err := req.Adapter.SendText(ctx, req.Chat, r.helpText(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
				return err
			},
		}
	}

	r.mu.Lock()
	r.commands = m
	r.mu.Unlock()

	// Best-effort menu autocomplete sync.
	if up, ok := r.adapter.(CommandMenuUpdater); ok {
		menu := r.menuCommands()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.SetCommands(ctx, menu); err != nil {
				r.log.Debug("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (r *Router) menuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]kit.BotCommand, 0, len(names))
	for _, name := range names {
		c := r.commands[name]
		if c.Access == AccessOwnerOnly {
			continue
		}
		out = append(out, kit.BotCommand{Command: name, Description: c.Description})
	}
	return out
}

func (r *Router) helpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := []tgui.H{tgui.B("Commands")}
	for _, name := range names {
		c := r.commands[name]
		line := tgui.Code("/" + name)
		if c.Description != "" {
			line = tgui.JoinH(" — ", line, tgui.Esc(c.Description))
		}
		parts = append(parts, line)
	}
	return tgui.JoinH("\n", parts...).String()
}

// DispatchLoop consumes updates until ctx is canceled or the channel
// closes. Handlers run on a bounded worker pool so one slow command
// never blocks the intake.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "router"))),
		rtsup.WithCancelOnError(false),
	)

	r.log.Info("command dispatcher started", logx.Int("workers", workers))

	var closeOnce sync.Once
	closeJobs := func() { closeOnce.Do(func() { close(r.jobs) }) }

	for i := 0; i < workers; i++ {
		idx := i
		sup.Go0("command.worker."+strconv.Itoa(idx), func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					if job == nil {
						continue
					}
					// Middleware already recovers; this keeps the worker
					// alive if a job panics outside the chain.
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		})
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.routeMessage(ctx, up)
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	// Group chats address commands as /cmd@botname.
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	r.mu.RLock()
	cmd, ok := r.commands[word]
	owners := append([]int64(nil), r.owners...)
	r.mu.RUnlock()

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if !ok {
		_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help.", nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = r.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	rid := strconv.FormatUint(atomic.AddUint64(&r.reqID, 1), 36)
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)

	job := func() {
		if err := final(ctx, req); err != nil {
			req.Logger.Debug("handler returned error", logx.Err(err))
		}
	}
	select {
	case r.jobs <- job:
	default:
		r.log.Warn("command dropped (queue full)", logx.String("cmd", cmd.Name), logx.Int64("chat_id", msg.ChatID))
		_, _ = r.adapter.SendText(ctx, chat, "Busy right now, please retry shortly.", nil)
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
