package executor

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/worker/dockerclient"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// vcsMetadataDirs are excluded from artifact collection.
var vcsMetadataDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
}

// ContainerExecConfig configures a container-backed executor.
type ContainerExecConfig struct {
	Image                 string
	Command                []string // base command; the task prompt is appended
	NetworkMode            string
	MemoryBytes            int64
	CPUShares              int64
	SecurityOptions        []string
	AutoRemove             bool
	ReadOnlyRootfs         bool
	WorkspaceHostDir       string // host directory under which per-task workspaces are created
	WorkspaceContainerDir  string // mount point inside the container, e.g. /workspace
	APIKey                 string
	StopTimeout            time.Duration
}

// ContainerExecutor creates a fresh container per task and destroys it on
// release; it never reports idle reuse the way the process variant does.
type ContainerExecutor struct {
	id     string
	cfg    ContainerExecConfig
	docker *dockerclient.Client
	log    *logger.Logger
	state  *stateBox

	mu          sync.Mutex
	containerID string
}

// NewContainerExecutor returns a container-backed executor in the idle state.
func NewContainerExecutor(id string, cfg ContainerExecConfig, docker *dockerclient.Client, log *logger.Logger) *ContainerExecutor {
	c := &ContainerExecutor{
		id:     id,
		cfg:    cfg,
		docker: docker,
		log:    log.WithFields(zap.String("executor_id", id)),
		state:  newStateBox(),
	}
	c.state.setState(v1.ExecutorStateIdle)
	return c
}

// ID returns the executor's opaque identifier.
func (c *ContainerExecutor) ID() string { return c.id }

// Mode reports the container execution mode.
func (c *ContainerExecutor) Mode() v1.ExecutionMode { return v1.ExecutionModeContainerAgentic }

// Execute creates a container, runs the task command inside it, captures
// its demultiplexed output, waits for exit, collects workspace artifacts,
// then stops and removes the container.
func (c *ContainerExecutor) Execute(ctx context.Context, task *v1.Task, out chan<- OutputChunk) (*v1.TaskResult, error) {
	if c.state.get() != v1.ExecutorStateIdle {
		return nil, &ErrNotIdle{State: c.state.get()}
	}
	c.state.beginTask(task.ID)
	startedAt := time.Now().UTC()

	workspaceDir := filepath.Join(c.cfg.WorkspaceHostDir, task.ID)
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		c.state.endTask(v1.ExecutorStateError)
		return nil, fmt.Errorf("failed to create task workspace: %w", err)
	}

	env := []string{
		"TASK_ID=" + task.ID,
	}
	if c.cfg.APIKey != "" {
		env = append(env, "AGENT_API_KEY="+c.cfg.APIKey)
	}
	if repoURL, ok := task.Metadata["repoUrl"].(string); ok && repoURL != "" {
		env = append(env, "REPO_URL="+repoURL)
	}

	cmd := append(append([]string{}, c.cfg.Command...), task.Prompt)

	containerID, err := c.docker.CreateContainer(ctx, dockerclient.ContainerConfig{
		Name:            "claudecluster-" + task.ID,
		Image:           c.cfg.Image,
		Cmd:             cmd,
		Env:             env,
		WorkingDir:      c.cfg.WorkspaceContainerDir,
		Mounts:          []dockerclient.MountConfig{{Source: workspaceDir, Target: c.cfg.WorkspaceContainerDir}},
		NetworkMode:     c.cfg.NetworkMode,
		MemoryBytes:     c.cfg.MemoryBytes,
		CPUShares:       c.cfg.CPUShares,
		SecurityOptions: c.cfg.SecurityOptions,
		ReadOnlyRootfs:  c.cfg.ReadOnlyRootfs,
		AutoRemove:      c.cfg.AutoRemove,
		Labels:          map[string]string{"claudecluster.task_id": task.ID},
	})
	if err != nil {
		c.state.endTask(v1.ExecutorStateError)
		return nil, fmt.Errorf("failed to create container for task %s: %w", task.ID, err)
	}

	c.mu.Lock()
	c.containerID = containerID
	c.mu.Unlock()

	attach, err := c.docker.AttachContainer(ctx, containerID)
	if err != nil {
		c.state.endTask(v1.ExecutorStateError)
		return nil, fmt.Errorf("failed to attach to container for task %s: %w", task.ID, err)
	}
	defer attach.Close()

	if err := c.docker.StartContainer(ctx, containerID); err != nil {
		c.state.endTask(v1.ExecutorStateError)
		return nil, fmt.Errorf("failed to start container for task %s: %w", task.ID, err)
	}

	var output strings.Builder
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(attach.Stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			output.WriteString(line)
			output.WriteString("\n")
			select {
			case out <- OutputChunk{Data: line, Timestamp: time.Now().UTC()}:
			default:
			}
		}
	}()

	exitCode, waitErr := c.docker.WaitContainer(ctx, containerID)
	<-done

	result := &v1.TaskResult{StartedAt: startedAt}

	if ctx.Err() != nil {
		_ = c.docker.KillContainer(context.Background(), containerID, "SIGKILL")
		result.Status = v1.TaskStatusFailed
		result.Error = "timeout: task exceeded its deadline"
		result.Retryable = false
	} else if waitErr != nil {
		result.Status = v1.TaskStatusFailed
		result.Error = waitErr.Error()
		result.Retryable = true
	} else if exitCode != 0 {
		result.Status = v1.TaskStatusFailed
		result.Error = fmt.Sprintf("container exited with status %d", exitCode)
		result.Retryable = false
		code := int(exitCode)
		result.Metrics.ExitCode = &code
	} else {
		result.Status = v1.TaskStatusCompleted
		code := int(exitCode)
		result.Metrics.ExitCode = &code
	}

	result.Output = output.String()
	result.Artifacts = collectArtifacts(workspaceDir)
	result.EndedAt = time.Now().UTC()
	result.Metrics.DurationMs = result.EndedAt.Sub(startedAt).Milliseconds()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.docker.StopContainer(stopCtx, containerID, c.stopTimeout()); err != nil {
		c.log.Warn("failed to stop container cleanly", zap.String("container_id", containerID), zap.Error(err))
	}
	if !c.cfg.AutoRemove {
		if err := c.docker.RemoveContainer(stopCtx, containerID, true); err != nil {
			c.log.Warn("failed to remove container", zap.String("container_id", containerID), zap.Error(err))
		}
	}

	// Container-backed executors are one-shot: they never return to idle.
	c.state.endTask(v1.ExecutorStateTerminated)
	return result, nil
}

func (c *ContainerExecutor) stopTimeout() time.Duration {
	if c.cfg.StopTimeout > 0 {
		return c.cfg.StopTimeout
	}
	return 5 * time.Second
}

// Terminate stops and removes the active container, if any. Idempotent.
func (c *ContainerExecutor) Terminate(ctx context.Context) error {
	if c.state.get() == v1.ExecutorStateTerminated {
		return nil
	}
	c.state.setState(v1.ExecutorStateTerminating)

	c.mu.Lock()
	containerID := c.containerID
	c.mu.Unlock()

	if containerID != "" {
		if err := c.docker.StopContainer(ctx, containerID, c.stopTimeout()); err != nil {
			c.log.Warn("terminate: stop failed", zap.Error(err))
		}
		if !c.cfg.AutoRemove {
			if err := c.docker.RemoveContainer(ctx, containerID, true); err != nil {
				c.log.Warn("terminate: remove failed", zap.Error(err))
			}
		}
	}

	c.state.setState(v1.ExecutorStateTerminated)
	return nil
}

// IsHealthy reports whether this executor can still accept a task.
func (c *ContainerExecutor) IsHealthy() bool {
	s := c.state.get()
	return s == v1.ExecutorStateIdle || s == v1.ExecutorStateInitializing
}

// Status returns a snapshot of the executor's observable fields.
func (c *ContainerExecutor) Status() v1.ExecutorStatus {
	return c.state.snapshot(c.id, v1.ExecutionModeContainerAgentic)
}

// collectArtifacts walks workspaceDir and records every regular file not
// under VCS metadata as an artifact handle. Size and checksum are left
// unset; large artifacts are never inlined.
func collectArtifacts(workspaceDir string) []v1.Artifact {
	var artifacts []v1.Artifact

	_ = filepath.WalkDir(workspaceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if vcsMetadataDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(workspaceDir, path)
		if err != nil {
			return nil
		}
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			if vcsMetadataDirs[part] {
				return nil
			}
		}
		info, err := d.Info()
		var ts time.Time
		if err == nil {
			ts = info.ModTime()
		} else {
			ts = time.Now().UTC()
		}
		artifacts = append(artifacts, v1.Artifact{
			Name:      d.Name(),
			Path:      path,
			Kind:      v1.ArtifactKindFile,
			Timestamp: ts,
		})
		return nil
	})

	return artifacts
}
