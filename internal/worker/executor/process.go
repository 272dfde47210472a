package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/logger"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// ProcessConfig configures a process-backed executor's child command.
type ProcessConfig struct {
	Command    string
	Args       []string
	WorkingDir string
	Env        []string
	// IdleTimeout is the output-silence duration that ends a task as
	// completed; it must be well short of ProcessTimeout or a fast task
	// races its own hard deadline instead of finishing on silence.
	IdleTimeout time.Duration
	// ProcessTimeout is the hard per-task deadline enforced in addition to
	// whatever deadline the caller's ctx already carries.
	ProcessTimeout time.Duration
}

// ProcessExecutor wraps a long-lived child process. The teacher's corpus
// carries no pseudo-terminal dependency, so stdio is plumbed with the
// os/exec stdin and stdout pipes, stderr merged into stdout.
type ProcessExecutor struct {
	id     string
	cfg    ProcessConfig
	log    *logger.Logger
	state  *stateBox

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	exited chan struct{}
}

// NewProcessExecutor launches the child process and returns once it is
// running, in the idle state.
func NewProcessExecutor(id string, cfg ProcessConfig, log *logger.Logger) (*ProcessExecutor, error) {
	p := &ProcessExecutor{
		id:     id,
		cfg:    cfg,
		log:    log.WithFields(zap.String("executor_id", id)),
		state:  newStateBox(),
		lines:  make(chan string, 256),
		exited: make(chan struct{}),
	}

	if err := p.start(); err != nil {
		p.state.setState(v1.ExecutorStateError)
		return nil, err
	}

	p.state.setState(v1.ExecutorStateIdle)
	return p, nil
}

func (p *ProcessExecutor) start() error {
	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	cmd.Dir = p.cfg.WorkingDir
	cmd.Env = p.cfg.Env

	stdinWriter, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process executor command: %w", err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = stdinWriter
	p.mu.Unlock()

	go p.readLoop(stdout)
	go p.waitLoop()

	return nil
}

func (p *ProcessExecutor) readLoop(stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}
}

func (p *ProcessExecutor) waitLoop() {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	_ = cmd.Wait()
	close(p.exited)
}

// ID returns the executor's opaque identifier.
func (p *ProcessExecutor) ID() string { return p.id }

// Mode reports the process-pool execution mode.
func (p *ProcessExecutor) Mode() v1.ExecutionMode { return v1.ExecutionModeProcessPool }

// Execute writes the task prompt to the child process's stdin and captures
// output until the configured idle silence elapses, the process exits, or
// ctx is cancelled.
func (p *ProcessExecutor) Execute(ctx context.Context, task *v1.Task, out chan<- OutputChunk) (*v1.TaskResult, error) {
	if p.state.get() != v1.ExecutorStateIdle {
		return nil, &ErrNotIdle{State: p.state.get()}
	}

	p.state.beginTask(task.ID)
	startedAt := time.Now().UTC()

	if p.cfg.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ProcessTimeout)
		defer cancel()
	}

	var output strings.Builder

	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()

	if _, err := io.WriteString(stdin, task.Prompt+"\n"); err != nil {
		p.state.endTask(v1.ExecutorStateError)
		return nil, fmt.Errorf("failed to submit prompt to process executor: %w", err)
	}

	idleTimeout := p.cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Second
	}
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	result := &v1.TaskResult{StartedAt: startedAt}

	for {
		select {
		case line := <-p.lines:
			output.WriteString(line)
			output.WriteString("\n")
			chunk := OutputChunk{Data: line, Timestamp: time.Now().UTC()}
			select {
			case out <- chunk:
			default:
			}
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(idleTimeout)

		case <-idleTimer.C:
			result.Status = v1.TaskStatusCompleted
			result.Output = output.String()
			result.EndedAt = time.Now().UTC()
			result.Metrics = v1.TaskMetrics{DurationMs: result.EndedAt.Sub(startedAt).Milliseconds()}
			p.state.endTask(v1.ExecutorStateIdle)
			return result, nil

		case <-p.exited:
			result.Status = v1.TaskStatusFailed
			result.Output = output.String()
			result.Error = "process executor exited unexpectedly"
			result.Retryable = true
			result.EndedAt = time.Now().UTC()
			result.Metrics = v1.TaskMetrics{DurationMs: result.EndedAt.Sub(startedAt).Milliseconds()}
			p.state.endTask(v1.ExecutorStateError)
			return result, nil

		case <-ctx.Done():
			p.kill(5 * time.Second)
			result.Status = v1.TaskStatusFailed
			result.Output = output.String()
			result.Error = "timeout: task exceeded its deadline"
			result.Retryable = false
			result.EndedAt = time.Now().UTC()
			result.Metrics = v1.TaskMetrics{DurationMs: result.EndedAt.Sub(startedAt).Milliseconds()}
			// The child was just killed, not gracefully idled: never let the
			// pool hand a timed-out process back out as if it were healthy.
			p.state.endTask(v1.ExecutorStateError)
			return result, nil
		}
	}
}

// Terminate kills the child process. Idempotent after the first call.
func (p *ProcessExecutor) Terminate(ctx context.Context) error {
	if p.state.get() == v1.ExecutorStateTerminated {
		return nil
	}
	p.state.setState(v1.ExecutorStateTerminating)
	p.kill(5 * time.Second)
	p.state.setState(v1.ExecutorStateTerminated)
	return nil
}

// kill closes stdin and SIGKILLs the child, waiting up to timeout for
// waitLoop to observe the exit. Safe to call after the process has already
// exited.
func (p *ProcessExecutor) kill(timeout time.Duration) {
	p.mu.Lock()
	cmd := p.cmd
	stdin := p.stdin
	p.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	select {
	case <-p.exited:
	case <-time.After(timeout):
	}
}

// IsHealthy reports whether the child process is still running.
func (p *ProcessExecutor) IsHealthy() bool {
	select {
	case <-p.exited:
		return false
	default:
		return p.state.get() != v1.ExecutorStateError && p.state.get() != v1.ExecutorStateTerminated
	}
}

// Status returns a snapshot of the executor's observable fields.
func (p *ProcessExecutor) Status() v1.ExecutorStatus {
	return p.state.snapshot(p.id, v1.ExecutionModeProcessPool)
}
