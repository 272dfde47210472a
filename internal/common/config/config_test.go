package config

import (
	"testing"
	"time"
)

func TestLoadWithPathAppliesDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithPath failed: %v", err)
	}

	if cfg.Coordinator.Port != 8080 {
		t.Errorf("expected default coordinator port 8080, got %d", cfg.Coordinator.Port)
	}
	if cfg.Worker.Port != 9090 {
		t.Errorf("expected default worker port 9090, got %d", cfg.Worker.Port)
	}
	if cfg.Worker.ExecutionMode != "process_pool" {
		t.Errorf("expected default execution mode process_pool, got %q", cfg.Worker.ExecutionMode)
	}
	if cfg.Worker.ProcessPool.Max < cfg.Worker.ProcessPool.Min {
		t.Errorf("expected default process pool max >= min, got min=%d max=%d",
			cfg.Worker.ProcessPool.Min, cfg.Worker.ProcessPool.Max)
	}
}

func TestValidateRejectsInvalidExecutionMode(t *testing.T) {
	cfg := &Config{
		Coordinator: CoordinatorConfig{Port: 8080},
		Worker: WorkerConfig{
			Port:               9090,
			MaxConcurrentTasks: 1,
			ExecutionMode:      "bogus_mode",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}

	if err := validate(cfg); err == nil {
		t.Fatal("expected an error for an invalid execution mode")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := &Config{
		Coordinator: CoordinatorConfig{Port: 70000},
		Worker: WorkerConfig{
			Port:               9090,
			MaxConcurrentTasks: 1,
			ExecutionMode:      "process_pool",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}

	if err := validate(cfg); err == nil {
		t.Fatal("expected an error for an out-of-range coordinator port")
	}
}

func TestValidateRejectsProcessPoolMaxBelowMin(t *testing.T) {
	cfg := &Config{
		Coordinator: CoordinatorConfig{Port: 8080},
		Worker: WorkerConfig{
			Port:               9090,
			MaxConcurrentTasks: 1,
			ExecutionMode:      "process_pool",
			ProcessPool:        ProcessPoolConfig{Min: 5, Max: 1},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}

	if err := validate(cfg); err == nil {
		t.Fatal("expected an error when processPool.max < processPool.min")
	}
}

func TestValidateAcceptsDefaultConfig(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithPath failed: %v", err)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected default config to validate cleanly, got: %v", err)
	}
}

func TestCoordinatorConfigDurationHelpers(t *testing.T) {
	c := &CoordinatorConfig{
		HealthCheckIntervalMs: 1500,
		RequestTimeoutMs:      2500,
		TaskGCMaxAgeMs:        60000,
		ReadTimeout:           10,
		WriteTimeout:          20,
	}

	if c.HealthCheckInterval() != 1500*time.Millisecond {
		t.Errorf("unexpected HealthCheckInterval: %v", c.HealthCheckInterval())
	}
	if c.RequestTimeout() != 2500*time.Millisecond {
		t.Errorf("unexpected RequestTimeout: %v", c.RequestTimeout())
	}
	if c.TaskGCMaxAge() != 60*time.Second {
		t.Errorf("unexpected TaskGCMaxAge: %v", c.TaskGCMaxAge())
	}
	if c.ReadTimeoutDuration() != 10*time.Second {
		t.Errorf("unexpected ReadTimeoutDuration: %v", c.ReadTimeoutDuration())
	}
	if c.WriteTimeoutDuration() != 20*time.Second {
		t.Errorf("unexpected WriteTimeoutDuration: %v", c.WriteTimeoutDuration())
	}
}

func TestWorkerConfigDurationHelpers(t *testing.T) {
	w := &WorkerConfig{SessionTimeoutMs: 120000, ReadTimeout: 5, WriteTimeout: 0}

	if w.SessionTimeout() != 2*time.Minute {
		t.Errorf("unexpected SessionTimeout: %v", w.SessionTimeout())
	}
	if w.ReadTimeoutDuration() != 5*time.Second {
		t.Errorf("unexpected ReadTimeoutDuration: %v", w.ReadTimeoutDuration())
	}
	if w.WriteTimeoutDuration() != 0 {
		t.Errorf("unexpected WriteTimeoutDuration: %v", w.WriteTimeoutDuration())
	}
}
