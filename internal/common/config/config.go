// Package config provides configuration management for ClaudeCluster.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for ClaudeCluster. Only one of
// Coordinator or Worker is populated depending on which binary loaded it,
// but both sections are always present on the struct so a single config
// file can serve either process.
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Events      EventsConfig      `mapstructure:"events"`
	Docker      DockerConfig      `mapstructure:"docker"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CoordinatorConfig holds the settings enumerated for the coordinator process.
type CoordinatorConfig struct {
	Host                  string   `mapstructure:"host"`
	Port                  int      `mapstructure:"port"`
	WorkerEndpoints       []string `mapstructure:"workerEndpoints"`
	HealthCheckIntervalMs int      `mapstructure:"healthCheckIntervalMs"`
	RequestTimeoutMs      int      `mapstructure:"requestTimeoutMs"`
	TaskGCMaxAgeMs        int64    `mapstructure:"taskGcMaxAgeMs"`
	ReadTimeout           int      `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout          int      `mapstructure:"writeTimeout"` // in seconds
}

// HealthCheckInterval returns the configured health probe interval as a Duration.
func (c *CoordinatorConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalMs) * time.Millisecond
}

// RequestTimeout returns the configured worker-dispatch timeout as a Duration.
func (c *CoordinatorConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// TaskGCMaxAge returns the configured terminal-task retention window as a Duration.
func (c *CoordinatorConfig) TaskGCMaxAge() time.Duration {
	return time.Duration(c.TaskGCMaxAgeMs) * time.Millisecond
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (c *CoordinatorConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (c *CoordinatorConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// ProcessPoolConfig holds the tuning knobs for the process-backed executor pool.
type ProcessPoolConfig struct {
	Min              int    `mapstructure:"min"`
	Max              int    `mapstructure:"max"`
	IdleTimeoutMs    int    `mapstructure:"idleTimeoutMs"`
	ProcessTimeoutMs int    `mapstructure:"processTimeoutMs"`
	WorkspaceDir     string `mapstructure:"workspaceDir"`
	TempDir          string `mapstructure:"tempDir"`
	MaxMemoryMB      int    `mapstructure:"maxMemoryMB"`
}

// ContainerResourceLimits holds the per-container resource ceiling.
type ContainerResourceLimits struct {
	MemoryBytes int64 `mapstructure:"memory"`
	CPUShares   int64 `mapstructure:"cpu"`
}

// ContainerConfig holds the tuning knobs for the container-backed executor pool.
type ContainerConfig struct {
	Image            string                  `mapstructure:"image"`
	NetworkMode      string                  `mapstructure:"networkMode"`
	ResourceLimits   ContainerResourceLimits `mapstructure:"resourceLimits"`
	SecurityOptions  []string                `mapstructure:"securityOptions"`
	AutoRemove       bool                    `mapstructure:"autoRemove"`
	ReadOnlyRootfs   bool                    `mapstructure:"readOnlyRootfs"`
}

// FeatureFlagsConfig toggles optional worker behavior.
type FeatureFlagsConfig struct {
	EnableContainerMode bool `mapstructure:"enableContainerMode"`
	AllowModeOverride   bool `mapstructure:"allowModeOverride"`
}

// WorkerAuthConfig describes how the worker obtains its agent credential.
type WorkerAuthConfig struct {
	APIKey string `mapstructure:"apiKey"`
	Source string `mapstructure:"source"` // "env" or "file"
}

// WorkerConfig holds the settings enumerated for a worker process.
type WorkerConfig struct {
	Host               string              `mapstructure:"host"`
	Port               int                 `mapstructure:"port"`
	WorkerID           string              `mapstructure:"workerId"`
	Name               string              `mapstructure:"name"`
	MaxConcurrentTasks int                 `mapstructure:"maxConcurrentTasks"`
	ExecutionMode      string              `mapstructure:"executionMode"` // process_pool | container_agentic
	SessionTimeoutMs   int                 `mapstructure:"sessionTimeoutMs"`
	ProcessPool        ProcessPoolConfig   `mapstructure:"processPool"`
	Container          ContainerConfig     `mapstructure:"container"`
	FeatureFlags       FeatureFlagsConfig  `mapstructure:"featureFlags"`
	Auth               WorkerAuthConfig    `mapstructure:"auth"`
	ReadTimeout        int                 `mapstructure:"readTimeout"`
	WriteTimeout       int                 `mapstructure:"writeTimeout"`
}

// SessionTimeout returns the configured session deadline as a Duration.
func (w *WorkerConfig) SessionTimeout() time.Duration {
	return time.Duration(w.SessionTimeoutMs) * time.Millisecond
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (w *WorkerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(w.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (w *WorkerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(w.WriteTimeout) * time.Second
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	// Namespace isolates queue-group subscribers across deployments/instances.
	// Empty value means derive from runtime data identity.
	Namespace string `mapstructure:"namespace"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	// Enabled controls whether the Docker runtime is available for task execution.
	// When true and Docker is accessible, the container-backed executor can run.
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	TLSVerify      bool   `mapstructure:"tlsVerify"`
	DefaultNetwork string `mapstructure:"defaultNetwork"`
	VolumeBasePath string `mapstructure:"volumeBasePath"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CLAUDECLUSTER_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Coordinator defaults
	v.SetDefault("coordinator.host", "0.0.0.0")
	v.SetDefault("coordinator.port", 8080)
	v.SetDefault("coordinator.workerEndpoints", []string{})
	v.SetDefault("coordinator.healthCheckIntervalMs", 30000)
	v.SetDefault("coordinator.requestTimeoutMs", 10000)
	v.SetDefault("coordinator.taskGcMaxAgeMs", 86400000)
	v.SetDefault("coordinator.readTimeout", 30)
	v.SetDefault("coordinator.writeTimeout", 30)

	// Worker defaults
	v.SetDefault("worker.host", "0.0.0.0")
	v.SetDefault("worker.port", 9090)
	v.SetDefault("worker.workerId", "")
	v.SetDefault("worker.name", "worker")
	v.SetDefault("worker.maxConcurrentTasks", 5)
	v.SetDefault("worker.executionMode", "process_pool")
	v.SetDefault("worker.sessionTimeoutMs", 600000)
	v.SetDefault("worker.readTimeout", 30)
	v.SetDefault("worker.writeTimeout", 0) // streaming responses, no write deadline

	v.SetDefault("worker.processPool.min", 1)
	v.SetDefault("worker.processPool.max", 5)
	v.SetDefault("worker.processPool.idleTimeoutMs", 300000)
	v.SetDefault("worker.processPool.processTimeoutMs", 600000)
	v.SetDefault("worker.processPool.workspaceDir", "/tmp/claudecluster/workspace")
	v.SetDefault("worker.processPool.tempDir", "/tmp/claudecluster/tmp")
	v.SetDefault("worker.processPool.maxMemoryMB", 2048)

	v.SetDefault("worker.container.image", "claudecluster/agent:latest")
	v.SetDefault("worker.container.networkMode", "bridge")
	v.SetDefault("worker.container.resourceLimits.memory", 2147483648) // 2GiB
	v.SetDefault("worker.container.resourceLimits.cpu", 1024)
	v.SetDefault("worker.container.securityOptions", []string{"no-new-privileges"})
	v.SetDefault("worker.container.autoRemove", true)
	v.SetDefault("worker.container.readOnlyRootfs", false)

	v.SetDefault("worker.featureFlags.enableContainerMode", false)
	v.SetDefault("worker.featureFlags.allowModeOverride", true)

	v.SetDefault("worker.auth.apiKey", "")
	v.SetDefault("worker.auth.source", "env")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "claudecluster")
	v.SetDefault("nats.clientId", "claudecluster-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Events defaults
	v.SetDefault("events.namespace", "")

	// Docker defaults — platform-aware host and volume path
	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.host", DefaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.tlsVerify", false)
	v.SetDefault("docker.defaultNetwork", "claudecluster-network")
	v.SetDefault("docker.volumeBasePath", defaultDockerVolumePath())

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// DefaultDockerHost returns the platform-appropriate Docker socket path.
// Respects DOCKER_HOST env var as override (standard Docker convention).
func DefaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

// defaultDockerVolumePath returns the platform-appropriate volume base path.
func defaultDockerVolumePath() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
		return filepath.Join(localAppData, "claudecluster", "volumes")
	}
	return "/var/lib/claudecluster/volumes"
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CLAUDECLUSTER_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/claudecluster/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CLAUDECLUSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion, so
	// keys where the env var naming differs from the config key get a
	// manual binding.
	_ = v.BindEnv("coordinator.workerEndpoints", "CLAUDECLUSTER_COORDINATOR_WORKER_ENDPOINTS")
	_ = v.BindEnv("coordinator.healthCheckIntervalMs", "CLAUDECLUSTER_HEALTH_CHECK_INTERVAL_MS")
	_ = v.BindEnv("worker.workerId", "CLAUDECLUSTER_WORKER_ID")
	_ = v.BindEnv("worker.maxConcurrentTasks", "CLAUDECLUSTER_WORKER_MAX_CONCURRENT_TASKS")
	_ = v.BindEnv("worker.executionMode", "CLAUDECLUSTER_WORKER_EXECUTION_MODE")
	_ = v.BindEnv("worker.auth.apiKey", "CLAUDECLUSTER_WORKER_API_KEY")
	_ = v.BindEnv("logging.level", "CLAUDECLUSTER_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "CLAUDECLUSTER_EVENTS_NAMESPACE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/claudecluster/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are consistent.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Coordinator.Port <= 0 || cfg.Coordinator.Port > 65535 {
		errs = append(errs, "coordinator.port must be between 1 and 65535")
	}
	if cfg.Worker.Port <= 0 || cfg.Worker.Port > 65535 {
		errs = append(errs, "worker.port must be between 1 and 65535")
	}
	if cfg.Worker.MaxConcurrentTasks <= 0 {
		errs = append(errs, "worker.maxConcurrentTasks must be positive")
	}
	if cfg.Worker.ExecutionMode != "process_pool" && cfg.Worker.ExecutionMode != "container_agentic" {
		errs = append(errs, "worker.executionMode must be one of: process_pool, container_agentic")
	}
	if cfg.Worker.ProcessPool.Min < 0 || cfg.Worker.ProcessPool.Max < cfg.Worker.ProcessPool.Min {
		errs = append(errs, "worker.processPool.max must be >= worker.processPool.min")
	}

	// NATS validation - optional (uses in-memory event bus if not set)
	// Docker validation - optional (falls back to process pool if unavailable)

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
