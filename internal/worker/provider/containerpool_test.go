package provider

import (
	"context"
	"testing"

	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

func TestContainerPoolProviderModeAndHealthWithoutDocker(t *testing.T) {
	p := NewContainerPoolProvider(ContainerPoolConfig{}, newTestLogger(t))

	if p.Mode() != v1.ExecutionModeContainerAgentic {
		t.Fatalf("expected container_agentic mode, got %s", p.Mode())
	}
	if p.IsHealthy() {
		t.Fatal("expected IsHealthy to be false without a configured docker client")
	}
}

func TestContainerPoolProviderAcquireFailsWithoutDocker(t *testing.T) {
	p := NewContainerPoolProvider(ContainerPoolConfig{}, newTestLogger(t))

	_, err := p.Acquire(context.Background(), &v1.Task{ID: "t1"})
	if err == nil {
		t.Fatal("expected an error when docker is not configured")
	}
	if !isConfigurationError(err) {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestContainerPoolProviderStatsReportsZeroWhenEmpty(t *testing.T) {
	p := NewContainerPoolProvider(ContainerPoolConfig{}, newTestLogger(t))

	stats := p.Stats()
	if stats.Active != 0 || stats.TotalExecutors != 0 {
		t.Fatalf("expected zero active/total on an empty pool, got %+v", stats)
	}
}
