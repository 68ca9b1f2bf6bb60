package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/tgrelay/internal/command"
	"github.com/mattjoyce/tgrelay/internal/event"
	"github.com/mattjoyce/tgrelay/internal/inline"
	"github.com/mattjoyce/tgrelay/internal/log"
	"github.com/mattjoyce/tgrelay/internal/reply"
	"github.com/mattjoyce/tgrelay/internal/runner"
)

// sendTimeout bounds one background Bot API call.
const sendTimeout = 30 * time.Second

// Event types published to the hub.
const (
	EventDropped   = "dispatch.dropped"
	EventMatched   = "dispatch.matched"
	EventFailed    = "dispatch.failed"
	EventReplySent = "reply.sent"
	EventReplyFail = "reply.failed"
)

// Dispatcher processes the update stream of one bot.
type Dispatcher struct {
	bot      string
	commands []command.Command
	runner   Executor
	sender   Sender
	events   Publisher
	logger   *slog.Logger

	sends sync.WaitGroup
}

// New creates a Dispatcher for bot. A nil Publisher discards events.
func New(bot string, commands []command.Command, r Executor, s Sender, pub Publisher) *Dispatcher {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Dispatcher{
		bot:      bot,
		commands: commands,
		runner:   r,
		sender:   s,
		events:   pub,
		logger:   log.WithComponent("dispatch").With("bot", bot),
	}
}

// Name returns the bot name.
func (d *Dispatcher) Name() string { return d.bot }

// Run consumes updates in order until the channel closes or ctx is done,
// then waits for in-flight replies.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan event.Event) error {
	d.logger.Info("dispatch loop started", "commands", len(d.commands))
	defer d.logger.Info("dispatch loop stopped")
	defer d.sends.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-updates:
			if !ok {
				return nil
			}
			// Errors are logged and published by Handle; the loop continues.
			_ = d.Handle(ctx, ev)
		}
	}
}

// Wait blocks until all background replies have finished.
func (d *Dispatcher) Wait() { d.sends.Wait() }

// Handle processes one update synchronously. The reply, if any, is sent in
// the background. Unmatched updates return nil.
func (d *Dispatcher) Handle(ctx context.Context, ev event.Event) (err error) {
	if ev == nil {
		return d.fail(d.logger, nil, "", "unsupported event", errors.New("nil event"))
	}
	logger := d.logger.With("update_id", ev.UpdateID(), "sender_id", ev.SenderID(), "trace_id", uuid.NewString())

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
			logger.Error("recovered from panic", "panic", r, "stack", string(debug.Stack()))
			d.publish(EventFailed, ev, "", err)
		}
	}()

	switch ev := ev.(type) {
	case *event.Message:
		return d.handleMessage(ctx, logger, ev)
	case *event.InlineQuery:
		return d.handleInline(ctx, logger, ev)
	default:
		return d.fail(logger, ev, "", "unsupported event", fmt.Errorf("unsupported event %T", ev))
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, logger *slog.Logger, msg *event.Message) error {
	chatID := msg.ChatID
	cmd, caps, ok := command.Match(d.commands, command.ModeMessage, msg.Sender, &chatID, msg.Body)
	if !ok {
		logger.Debug("no command matched message", "chat_id", chatID)
		d.publish(EventDropped, msg, "", nil)
		return nil
	}
	logger = logger.With("command", cmd.Name)
	logger.Debug("command matched", "chat_id", chatID)
	d.publish(EventMatched, msg, cmd.Name, nil)

	out, err := d.runner.Run(ctx, specFor(cmd, command.Expand(cmd.Args, caps, nil)), input(cmd, msg))
	if err != nil {
		return d.fail(logger, msg, cmd.Name, "command failed", err)
	}

	payload, err := reply.Build(cmd.Output, chatID, out)
	if err != nil {
		return d.fail(logger, msg, cmd.Name, "failed to build reply", err)
	}
	d.send(ctx, logger, msg, cmd.Name, payload)
	return nil
}

func (d *Dispatcher) handleInline(ctx context.Context, logger *slog.Logger, q *event.InlineQuery) error {
	cmd, caps, ok := command.Match(d.commands, command.ModeInline, q.Sender, nil, q.Query)
	if !ok {
		logger.Debug("no command matched inline query")
		d.publish(EventDropped, q, "", nil)
		return nil
	}
	logger = logger.With("command", cmd.Name)
	start := inline.ParseOffset(q.Offset)
	logger.Debug("command matched", "offset", start)
	d.publish(EventMatched, q, cmd.Name, nil)

	in := input(cmd, q)
	ans, err := inline.Paginate(ctx, start, func(ctx context.Context, offset int) (string, error) {
		return d.runner.Run(ctx, specFor(cmd, command.Expand(cmd.Args, caps, &offset)), in)
	})
	if err != nil {
		return d.fail(logger, q, cmd.Name, "inline query failed", err)
	}

	payload, err := reply.BuildAnswer(cmd.Output, q.QueryID, ans)
	if err != nil {
		return d.fail(logger, q, cmd.Name, "failed to build answer", err)
	}
	logger.Debug("answer built", "results", len(ans.Entries), "next_offset", ans.NextOffset)
	d.send(ctx, logger, q, cmd.Name, payload)
	return nil
}

// send delivers payload in the background. Its outcome never reaches the loop.
func (d *Dispatcher) send(ctx context.Context, logger *slog.Logger, ev event.Event, cmdName string, payload reply.Payload) {
	d.sends.Add(1)
	go func() {
		defer d.sends.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()

		if err := d.sender.Send(sendCtx, payload.Method, payload.Body); err != nil {
			logger.Error("failed to send reply", "method", payload.Method, "error", err)
			d.publish(EventReplyFail, ev, cmdName, err)
			return
		}
		logger.Debug("reply sent", "method", payload.Method)
		d.publish(EventReplySent, ev, cmdName, nil)
	}()
}

func (d *Dispatcher) fail(logger *slog.Logger, ev event.Event, cmdName, msg string, err error) error {
	level := slog.LevelWarn
	if errors.Is(err, context.Canceled) {
		level = slog.LevelDebug
	}
	logger.Log(context.Background(), level, msg, "error", err)
	d.publish(EventFailed, ev, cmdName, err)
	return err
}

func (d *Dispatcher) publish(eventType string, ev event.Event, cmdName string, err error) {
	data := map[string]any{"bot": d.bot}
	if ev != nil {
		data["update_id"] = ev.UpdateID()
		data["sender_id"] = ev.SenderID()
	}
	if cmdName != "" {
		data["command"] = cmdName
	}
	if err != nil {
		data["error"] = err.Error()
	}
	d.events.Publish(eventType, data)
}

func specFor(cmd command.Command, args []string) runner.Spec {
	return runner.Spec{
		Name:       cmd.Name,
		Executable: cmd.Executable,
		Args:       args,
		Dir:        cmd.Dir,
		Env:        cmd.Env,
		Timeout:    cmd.Timeout,
		StrictExit: cmd.StrictExit,
	}
}

func input(cmd command.Command, ev event.Event) []byte {
	if cmd.Input == command.InputJSON {
		return ev.Raw()
	}
	return []byte(ev.Text())
}
