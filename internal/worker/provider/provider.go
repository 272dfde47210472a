// Package provider implements the ExecutionProvider pool/factory layer and
// the UnifiedProvider façade that routes tasks between the process-pool and
// container providers.
package provider

import (
	"context"
	"errors"

	"github.com/claudecluster/claudecluster/internal/worker/executor"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// ErrNoCapacity is returned by Acquire when a provider cannot grow further.
var ErrNoCapacity = errors.New("provider has no available executor capacity")

// ErrConfigurationError marks a failure that fallback must never retry
// (e.g. a provider that was never initialized).
type ErrConfigurationError struct{ Reason string }

func (e *ErrConfigurationError) Error() string { return "configuration error: " + e.Reason }

// ExecutionProvider is a pool/factory for executors of one mode.
type ExecutionProvider interface {
	Mode() v1.ExecutionMode
	Acquire(ctx context.Context, task *v1.Task) (executor.Executor, error)
	Release(ctx context.Context, exec executor.Executor) error
	// Cleanup terminates every active executor. Idempotent; termination
	// errors are logged and never prevent shutdown from completing.
	Cleanup(ctx context.Context) error
	Stats() v1.ProviderStats
	IsHealthy() bool
}
