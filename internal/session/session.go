// Package session scopes interactions to one user.
//
// A Session owns the last status shown to its user and runs at most one
// interaction at a time. Every interaction executes as its own task, bounded
// by a timeout and cancelled when either the caller gives up or the session
// is torn down.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rkmjld2/mahajan-remote2/internal/message"
)

// ErrClosed is the cancellation cause of work interrupted by session teardown.
var ErrClosed = errors.New("session closed")

// Pipeline runs the interaction flows. dispatch.Dispatcher implements it.
type Pipeline interface {
	Health(ctx context.Context) message.Interaction
	Press(ctx context.Context, action message.Action) message.Interaction
	Command(ctx context.Context, text string) message.Interaction
	Voice(ctx context.Context, capture []byte) message.Interaction
}

// Session is the per-user state.
type Session struct {
	id       string
	pipeline Pipeline
	timeout  time.Duration
	owned    bool

	ctx    context.Context
	cancel context.CancelCauseFunc

	// slot holds one token while an interaction is running.
	slot chan struct{}

	mu       sync.Mutex
	last     *message.Interaction
	lastUsed time.Time
}

func newSession(id string, pipeline Pipeline, timeout time.Duration, owned bool) *Session {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Session{
		id:       id,
		pipeline: pipeline,
		timeout:  timeout,
		owned:    owned,
		ctx:      ctx,
		cancel:   cancel,
		slot:     make(chan struct{}, 1),
		lastUsed: time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Health runs a device health check.
func (s *Session) Health(ctx context.Context) message.Interaction {
	return s.run(ctx, message.KindHealth, s.pipeline.Health)
}

// Press dispatches a direct action.
func (s *Session) Press(ctx context.Context, action message.Action) message.Interaction {
	return s.run(ctx, message.KindPress, func(ctx context.Context) message.Interaction {
		return s.pipeline.Press(ctx, action)
	})
}

// Command resolves and dispatches typed text.
func (s *Session) Command(ctx context.Context, text string) message.Interaction {
	return s.run(ctx, message.KindCommand, func(ctx context.Context) message.Interaction {
		return s.pipeline.Command(ctx, text)
	})
}

// Voice transcribes, resolves and dispatches an audio capture.
func (s *Session) Voice(ctx context.Context, capture []byte) message.Interaction {
	return s.run(ctx, message.KindVoice, func(ctx context.Context) message.Interaction {
		return s.pipeline.Voice(ctx, capture)
	})
}

// Status returns the last displayed result, or "" before the first interaction.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
	if s.last == nil {
		return ""
	}
	return s.last.Display
}

// Last returns the most recent interaction.
func (s *Session) Last() (message.Interaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return message.Interaction{}, false
	}
	return *s.last, true
}

// Close tears the session down, cancelling any interaction in flight.
func (s *Session) Close() {
	s.cancel(ErrClosed)
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// touch marks the session as used now.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
}

func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed, len(s.slot) == 0
}

func (s *Session) run(ctx context.Context, kind message.Kind, fn func(context.Context) message.Interaction) message.Interaction {
	logger := slog.With("session_id", s.id, "kind", kind)

	if s.ctx.Err() != nil {
		return s.record(cancelled(kind, context.Cause(s.ctx)))
	}

	// One interaction at a time per session.
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return s.record(cancelled(kind, context.Cause(ctx)))
	case <-s.ctx.Done():
		return s.record(cancelled(kind, context.Cause(s.ctx)))
	}

	taskCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	// The task owns the slot until fn returns, so an abandoned task still
	// blocks the next trigger of this session.
	start := time.Now()
	done := make(chan message.Interaction, 1)
	go func() {
		defer func() { <-s.slot }()
		done <- fn(taskCtx)
	}()

	it, ok := await(taskCtx, done)
	if !ok {
		it = cancelled(kind, context.Cause(taskCtx))
		logger.Warn("interaction interrupted", "cause", context.Cause(taskCtx))
	}

	logger.Info("interaction complete", "level", it.Level, "duration", time.Since(start))
	return s.record(it)
}

// await waits for the task result. A result that is ready when ctx ends
// still wins: the device may already have switched.
func await(ctx context.Context, done <-chan message.Interaction) (message.Interaction, bool) {
	select {
	case it := <-done:
		return it, true
	case <-ctx.Done():
		select {
		case it := <-done:
			return it, true
		default:
			return message.Interaction{}, false
		}
	}
}

// record overwrites the session status with it.
func (s *Session) record(it message.Interaction) message.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &it
	s.lastUsed = time.Now()
	return it
}

func cancelled(kind message.Kind, cause error) message.Interaction {
	it := message.Interaction{
		Kind:      kind,
		Action:    message.ActionNone,
		Level:     message.LevelError,
		Display:   fmt.Sprintf("Request cancelled: %v", cause),
		Speak:     "Request cancelled.",
		Timestamp: time.Now(),
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		it.Speak = "The request timed out."
	}
	return it
}
