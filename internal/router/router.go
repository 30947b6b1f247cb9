// Package router translates user commands into store calls. It is a thin
// layer: all state lives in the store, all transport in the adapter.
package router

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"signalbot/internal/store"
	"signalbot/internal/transport"
	"signalbot/pkg/logx"
)

const commandTimeout = 10 * time.Second

type handlerFunc func(ctx context.Context, msg *transport.Message, args []string) (string, error)

type command struct {
	name        string
	description string
	handle      handlerFunc
}

type Router struct {
	store   *store.Store
	adapter transport.Adapter
	log     logx.Logger

	commands []command
	byName   map[string]handlerFunc
}

func New(st *store.Store, adapter transport.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{store: st, adapter: adapter, log: log}
	r.commands = []command{
		{"start", "Register and show a welcome message", r.handleStart},
		{"help", "Show available commands", r.handleHelp},
		{"subscribe", "Subscribe to trading signals", r.handleSubscribe},
		{"unsubscribe", "Stop receiving signals", r.handleUnsubscribe},
		{"status", "Show subscription status", r.handleStatus},
	}
	r.byName = make(map[string]handlerFunc, len(r.commands))
	for _, c := range r.commands {
		r.byName[c.name] = c.handle
	}
	return r
}

// BotCommands returns the menu entries for adapters that publish them.
func (r *Router) BotCommands() []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, transport.BotCommand{Command: c.name, Description: c.description})
	}
	return out
}

// Run consumes inbound updates until ctx is done. Commands run serially;
// they are cheap store calls and ordering per chat matters more than
// throughput here.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-updates:
			if up.Message == nil {
				continue
			}
			r.handleMessage(ctx, up.Message)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *transport.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return // plain text; this bot only reacts to commands
	}

	log := r.log.With(
		logx.String("command", name),
		logx.Int64("from", msg.FromID))

	handle, known := r.byName[name]
	if !known {
		r.reply(ctx, msg, msgUnknownCommand)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	start := time.Now()
	reply, err := func() (reply string, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic in command handler",
					logx.Any("panic", rec),
					logx.String("stack", string(debug.Stack())))
				reply, err = msgError, nil
			}
		}()
		return handle(cctx, msg, args)
	}()
	if err != nil {
		// Store-unavailable and friends: log detail, acknowledge generically.
		log.Error("command failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		reply = msgError
	} else {
		log.Debug("command handled", logx.Duration("took", time.Since(start)))
	}
	if reply != "" {
		r.reply(ctx, msg, reply)
	}
}

func (r *Router) reply(ctx context.Context, msg *transport.Message, text string) {
	sctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if _, err := r.adapter.SendText(sctx, transport.ChatTarget{ChatID: msg.ChatID}, text, nil); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}

// parseCommand splits "/subscribe crypto" into ("subscribe", ["crypto"]).
// The "@botname" suffix Telegram appends in groups is stripped.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name = strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}
