package dispatch

import (
	"context"

	"github.com/mattjoyce/tgrelay/internal/runner"
)

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/mattjoyce/tgrelay/internal/dispatch Sender,Executor

// Sender delivers one Bot API request.
type Sender interface {
	Send(ctx context.Context, method string, body map[string]any) error
}

// Executor runs one command process and returns its stdout.
type Executor interface {
	Run(ctx context.Context, spec runner.Spec, input []byte) (string, error)
}

// Publisher receives observability events.
type Publisher interface {
	Publish(eventType string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}
