// Package session ties one task to exactly one acquired executor and
// guarantees the executor is released exactly once regardless of how the
// session ends: normal completion, timeout, executor error, external
// cancellation, or worker shutdown.
package session

import (
	"context"
	"sync"
	"time"

	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// ReleaseFunc returns an acquired executor to whatever pool owns it.
type ReleaseFunc func(ctx context.Context, exec interface{ ID() string }) error

// Session wraps one task's execution lifetime: a deadline context plus a
// release guarantee for the executor bound to it.
type Session struct {
	Task *v1.Task

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	exec       interface{ ID() string }
	release    ReleaseFunc
	terminated bool
}

// New starts a session whose context expires after timeout (the task's
// requested timeout, already bounded by the worker's configured maximum).
func New(parent context.Context, task *v1.Task, timeout time.Duration) *Session {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return &Session{Task: task, ctx: ctx, cancel: cancel}
}

// Context returns the session's deadline-bound context.
func (s *Session) Context() context.Context { return s.ctx }

// Cancel signals external cancellation (e.g. a client-requested task
// cancel) without itself releasing the executor; the owning goroutine's
// Release call performs the actual teardown once its blocking executor
// call observes ctx.Done().
func (s *Session) Cancel() {
	s.mu.Lock()
	terminated := s.terminated
	s.mu.Unlock()
	if !terminated {
		s.cancel()
	}
}

// Bind records the executor acquired for this session and how to release
// it. Must be called at most once, before Release.
func (s *Session) Bind(exec interface{ ID() string }, release ReleaseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec = exec
	s.release = release
}

// Release cancels the session's deadline and releases the bound executor,
// if any. Safe to call multiple times and from a defer on every exit path;
// only the first call has effect.
func (s *Session) Release(ctx context.Context) error {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return nil
	}
	s.terminated = true
	exec := s.exec
	release := s.release
	s.mu.Unlock()

	s.cancel()

	if exec == nil || release == nil {
		return nil
	}
	return release(ctx, exec)
}

// Terminated reports whether Release has already run.
func (s *Session) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}
