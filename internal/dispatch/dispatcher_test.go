package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tgrelay/internal/acl"
	"github.com/mattjoyce/tgrelay/internal/command"
	"github.com/mattjoyce/tgrelay/internal/dispatch/mocks"
	"github.com/mattjoyce/tgrelay/internal/event"
	"github.com/mattjoyce/tgrelay/internal/log"
	"github.com/mattjoyce/tgrelay/internal/runner"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newCommand(name, pattern, executable string, args ...string) command.Command {
	return command.Command{
		Name:       name,
		Pattern:    regexp.MustCompile(pattern),
		Executable: executable,
		Args:       args,
		Output:     command.OutputText,
	}
}

func realRunner() *runner.Runner {
	return runner.New(log.WithComponent("runner"))
}

func TestHandle_MessageRoundTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	rec := &recorder{}

	script := writeScript(t, "echo.sh", `printf '%s' "$1"`)
	d := New("main", []command.Command{newCommand("echo", `^/echo (.*)$`, script, "${1}")}, realRunner(), sender, rec)

	sender.EXPECT().
		Send(gomock.Any(), "sendMessage", map[string]any{"chat_id": int64(7), "text": "hello world"}).
		Return(nil)

	err := d.Handle(context.Background(), &event.Message{Update: 1, Sender: 100, ChatID: 7, Body: "/echo hello world"})
	require.NoError(t, err)
	d.Wait()

	assert.Equal(t, []string{EventMatched, EventReplySent}, rec.types())
}

func TestHandle_NoMatchIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)
	rec := &recorder{}

	d := New("main", []command.Command{newCommand("echo", `^/echo`, "/bin/true")}, exec, sender, rec)

	err := d.Handle(context.Background(), &event.Message{Update: 1, Sender: 100, ChatID: 7, Body: "hello"})
	require.NoError(t, err)
	d.Wait()
	assert.Equal(t, []string{EventDropped}, rec.types())
}

func TestHandle_AccessDenied(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)

	cmd := newCommand("secret", `^/secret$`, "/bin/true")
	cmd.Policy = acl.Policy{Allow: acl.NewList(1)}
	d := New("main", []command.Command{cmd}, exec, sender, nil)

	require.NoError(t, d.Handle(context.Background(), &event.Message{Sender: 2, ChatID: 2, Body: "/secret"}))
	d.Wait()
}

func TestHandle_RunnerErrorSendsNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)
	rec := &recorder{}

	d := New("main", []command.Command{newCommand("boom", `^/boom$`, "/bin/boom")}, exec, sender, rec)
	exec.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).Return("", runner.ErrSpawn)

	err := d.Handle(context.Background(), &event.Message{Update: 3, ChatID: 1, Body: "/boom"})
	assert.ErrorIs(t, err, runner.ErrSpawn)
	d.Wait()
	assert.Equal(t, []string{EventMatched, EventFailed}, rec.types())
}

func TestHandle_InvalidJSONOutputSendsNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)

	cmd := newCommand("j", `^/j$`, "/bin/j")
	cmd.Output = command.OutputJSON
	d := New("main", []command.Command{cmd}, exec, sender, nil)
	exec.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).Return("not json", nil)

	assert.Error(t, d.Handle(context.Background(), &event.Message{ChatID: 1, Body: "/j"}))
	d.Wait()
}

func TestHandle_JSONInputWritesRawUpdate(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)

	raw := json.RawMessage(`{"message":{"text":"/raw"}}`)
	cmd := newCommand("raw", `^/raw$`, "/bin/raw", "fixed")
	cmd.Input = command.InputJSON
	cmd.Timeout = time.Second
	d := New("main", []command.Command{cmd}, exec, sender, nil)

	exec.EXPECT().
		Run(gomock.Any(), runner.Spec{Name: "raw", Executable: "/bin/raw", Args: []string{"fixed"}, Timeout: time.Second}, []byte(raw)).
		Return("ok", nil)
	sender.EXPECT().Send(gomock.Any(), "sendMessage", gomock.Any()).Return(nil)

	require.NoError(t, d.Handle(context.Background(), &event.Message{ChatID: 1, Body: "/raw", Payload: raw}))
	d.Wait()
}

func TestHandle_InlinePagination(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)

	cmd := newCommand("search", `^(?P<term>\w+)$`, "/bin/search", "${term}", "${offset}")
	cmd.Mode = command.ModeInline
	d := New("main", []command.Command{cmd}, exec, sender, nil)

	var offsets []string
	exec.EXPECT().Run(gomock.Any(), gomock.Any(), []byte("cats")).
		DoAndReturn(func(_ context.Context, spec runner.Spec, _ []byte) (string, error) {
			require.Equal(t, "cats", spec.Args[0])
			offsets = append(offsets, spec.Args[1])
			if spec.Args[1] == "23" {
				return "", nil
			}
			return "result " + spec.Args[1], nil
		}).Times(9)

	sender.EXPECT().Send(gomock.Any(), "answerInlineQuery", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, body map[string]any) error {
			assert.Equal(t, "qid", body["inline_query_id"])
			assert.Equal(t, "28", body["next_offset"])
			assert.Len(t, body["results"], 8)
			return nil
		})

	err := d.Handle(context.Background(), &event.InlineQuery{QueryID: "qid", Query: "cats", Offset: "20"})
	require.NoError(t, err)
	d.Wait()
	assert.Equal(t, []string{"20", "21", "22", "23", "24", "25", "26", "27", "28"}, offsets)
}

func TestHandle_InlineFailureAbortsAnswer(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)

	cmd := newCommand("search", `.*`, "/bin/search", "${offset}")
	cmd.Mode = command.ModeInline
	d := New("main", []command.Command{cmd}, exec, sender, nil)

	gomock.InOrder(
		exec.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).Return("a", nil).Times(2),
		exec.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).Return("", runner.ErrIO),
	)

	assert.ErrorIs(t, d.Handle(context.Background(), &event.InlineQuery{QueryID: "q", Query: "x"}), runner.ErrIO)
	d.Wait()
}

func TestHandle_MessageCommandIgnoresInline(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)

	d := New("main", []command.Command{newCommand("echo", `.*`, "/bin/echo")}, exec, sender, nil)
	require.NoError(t, d.Handle(context.Background(), &event.InlineQuery{QueryID: "q", Query: "x"}))
	d.Wait()
}

func TestHandle_PanicRecovered(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)
	rec := &recorder{}

	d := New("main", []command.Command{newCommand("p", `^/p$`, "/bin/p")}, exec, sender, rec)
	exec.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, runner.Spec, []byte) (string, error) { panic("kaboom") })

	err := d.Handle(context.Background(), &event.Message{ChatID: 1, Body: "/p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Contains(t, rec.types(), EventFailed)
}

// otherEvent is an Event kind the dispatcher has no handler for.
type otherEvent struct{ event.Event }

func TestHandle_UnsupportedEventIsReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)
	rec := &recorder{}

	d := New("main", []command.Command{newCommand("any", `.*`, "/bin/any")}, exec, sender, rec)

	err := d.Handle(context.Background(), otherEvent{&event.Message{Update: 5, Body: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported event")

	err = d.Handle(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil event")

	assert.Equal(t, []string{EventFailed, EventFailed}, rec.types())
}

func TestRun_SequentialOrdering(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)

	logFile := filepath.Join(t.TempDir(), "order.log")
	slow := writeScript(t, "slow.sh", fmt.Sprintf("sleep 0.3\necho A >> %s\necho a\n", logFile))
	fast := writeScript(t, "fast.sh", fmt.Sprintf("echo B >> %s\necho b\n", logFile))

	d := New("main", []command.Command{
		newCommand("slow", `^slow$`, slow),
		newCommand("fast", `^fast$`, fast),
	}, realRunner(), sender, nil)

	updates := make(chan event.Event, 2)
	updates <- &event.Message{Update: 1, ChatID: 1, Body: "slow"}
	updates <- &event.Message{Update: 2, ChatID: 1, Body: "fast"}
	close(updates)

	require.NoError(t, d.Run(context.Background(), updates))

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "A\nB\n", string(data))
}

func TestRun_SendFailureDoesNotStopLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)
	rec := &recorder{}

	exec.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).Return("out", nil).Times(2)
	sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("network down")).Times(2)

	d := New("main", []command.Command{newCommand("any", `.*`, "/bin/any")}, exec, sender, rec)

	updates := make(chan event.Event, 2)
	updates <- &event.Message{Update: 1, ChatID: 1, Body: "one"}
	updates <- &event.Message{Update: 2, ChatID: 1, Body: "two"}
	close(updates)

	require.NoError(t, d.Run(context.Background(), updates))
	assert.Contains(t, rec.types(), EventReplyFail)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := New("main", nil, mocks.NewMockExecutor(ctrl), mocks.NewMockSender(ctrl), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, make(chan event.Event)) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_InFlightSendSurvivesCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	sender := mocks.NewMockSender(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	var sendErr error
	exec.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).Return("out", nil)
	sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(sendCtx context.Context, _ string, _ map[string]any) error {
			cancel()
			time.Sleep(20 * time.Millisecond)
			sendErr = sendCtx.Err()
			return sendErr
		})

	d := New("main", []command.Command{newCommand("any", `.*`, "/bin/any")}, exec, sender, nil)
	updates := make(chan event.Event, 1)
	updates <- &event.Message{ChatID: 1, Body: "x"}

	require.NoError(t, d.Run(ctx, updates))
	assert.NoError(t, sendErr, "reply context is detached from the loop context")
}
