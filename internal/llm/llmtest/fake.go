// Package llmtest provides a scripted language model gateway for tests.
package llmtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/videa/internal/domain"
	"github.com/ashureev/videa/internal/llm"
)

// Reply is one scripted gateway answer.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Fake answers Generate calls from a queue of replies, or from Handler when set.
// An empty queue yields an unavailable error.
type Fake struct {
	mu        sync.Mutex
	replies   []Reply
	calls     []llm.Request
	healthErr error
	Handler   func(ctx context.Context, req llm.Request) (string, error)
}

// New creates a fake with the given replies queued.
func New(replies ...Reply) *Fake {
	return &Fake{replies: replies}
}

// Push queues more replies.
func (f *Fake) Push(replies ...Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replies...)
}

// Calls returns a copy of every request seen so far.
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls...)
}

var errExhausted = errors.New("no scripted reply left")

func (f *Fake) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	handler := f.Handler
	var next Reply
	if handler == nil {
		if len(f.replies) == 0 {
			f.mu.Unlock()
			return "", wrap(errExhausted)
		}
		next = f.replies[0]
		f.replies = f.replies[1:]
	}
	f.mu.Unlock()

	if handler != nil {
		out, err := handler(ctx, req)
		if err != nil {
			return "", wrap(err)
		}
		return out, nil
	}

	if next.Delay > 0 {
		t := time.NewTimer(next.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", wrap(ctx.Err())
		case <-t.C:
		}
	}
	if next.Err != nil {
		return "", wrap(next.Err)
	}
	return next.Text, nil
}

// SetHealth makes Health fail with err, or succeed when err is nil.
func (f *Fake) SetHealth(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

func (f *Fake) Health(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.healthErr != nil {
		return wrap(f.healthErr)
	}
	return nil
}

func (f *Fake) Name() string { return "fake" }

func wrap(err error) error {
	if errors.Is(err, domain.ErrGatewayUnavailable) {
		return err
	}
	return fmt.Errorf("fake: %w: %w", domain.ErrGatewayUnavailable, err)
}
