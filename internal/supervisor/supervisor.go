// Package supervisor runs the independent units of a relay until they all stop.
package supervisor

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/tgrelay/internal/log"
)

// Unit is one long-running part of the relay, typically one bot.
type Unit interface {
	Name() string
	Run(ctx context.Context) error
}

// Func adapts a function to a Unit.
type Func struct {
	UnitName string
	Fn       func(ctx context.Context) error
}

func (f Func) Name() string                  { return f.UnitName }
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// Essential marks a unit the relay cannot run without. When it fails, the
// remaining units are cancelled.
func Essential(u Unit) Unit { return essential{u} }

type essential struct{ Unit }

// Run starts every unit and waits for all of them to return.
// A failing unit does not stop its siblings unless it is Essential. The
// first non-cancellation error is returned once every unit has finished.
func Run(ctx context.Context, units ...Unit) error {
	logger := log.WithComponent("supervisor")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	for _, u := range units {
		u := u
		_, critical := u.(essential)
		g.Go(func() error {
			logger.Info("unit started", "unit", u.Name())
			err := u.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("unit failed", "unit", u.Name(), "error", err, "essential", critical)
				if critical {
					cancel()
				}
				return fmt.Errorf("%s: %w", u.Name(), err)
			}
			logger.Info("unit stopped", "unit", u.Name())
			return nil
		})
	}
	return g.Wait()
}
