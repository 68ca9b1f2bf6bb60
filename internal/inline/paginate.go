// Package inline implements the bounded pagination loop behind inline queries.
//
// One inline query invokes the command once per offset, starting at the
// query's cursor, and collects the outputs into one answer:
//
//	Continue(iteration, collected) -> Break(collected)
//
// The loop breaks when iteration reaches BatchSize-1 without invoking again,
// so an answer is built from at most BatchSize-1 invocations. Blank outputs
// (empty or whitespace only) are dropped and the next cursor advances by the number of surviving entries.
package inline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// BatchSize bounds the invocations per answer (see package doc for the exact count).
const BatchSize = 10

// Invoker runs the command for one offset and returns its output.
type Invoker func(ctx context.Context, offset int) (string, error)

// Answer is the aggregated result of one pagination run.
type Answer struct {
	// Entries holds the non-blank outputs in invocation order.
	Entries []string
	// NextOffset is the cursor for the client's next request.
	NextOffset int
}

// state is the loop's Continue/Break state.
type state struct {
	iteration int
	collected []string
	done      bool
}

func (s state) next(ctx context.Context, start int, invoke Invoker) (state, error) {
	if s.iteration >= BatchSize-1 {
		s.done = true
		return s, nil
	}
	out, err := invoke(ctx, start+s.iteration)
	if err != nil {
		return s, fmt.Errorf("offset %d: %w", start+s.iteration, err)
	}
	s.collected = append(s.collected, out)
	s.iteration++
	return s, nil
}

// Paginate invokes sequentially from offset start and builds an Answer.
// Any invocation error aborts the whole run; no partial answer is returned.
func Paginate(ctx context.Context, start int, invoke Invoker) (Answer, error) {
	s := state{collected: make([]string, 0, BatchSize-1)}
	for !s.done {
		if err := ctx.Err(); err != nil {
			return Answer{}, err
		}
		var err error
		if s, err = s.next(ctx, start, invoke); err != nil {
			return Answer{}, err
		}
	}

	entries := make([]string, 0, len(s.collected))
	for _, out := range s.collected {
		if strings.TrimSpace(out) != "" {
			entries = append(entries, out)
		}
	}
	return Answer{Entries: entries, NextOffset: start + len(entries)}, nil
}

// ParseOffset parses the client's cursor. Empty, malformed or negative values start at 0.
func ParseOffset(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
