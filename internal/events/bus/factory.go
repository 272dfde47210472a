package bus

import (
	"github.com/claudecluster/claudecluster/internal/common/config"
	"github.com/claudecluster/claudecluster/internal/common/logger"
)

// New returns a NATSEventBus when cfg.URL is set, or an in-memory bus
// otherwise. Both processes use this to publish out-of-band signaling
// (worker registry nudges, task lifecycle notifications) without requiring
// a NATS deployment for single-node use.
func New(cfg config.NATSConfig, log *logger.Logger) (EventBus, error) {
	if cfg.URL == "" {
		return NewMemoryEventBus(log), nil
	}
	return NewNATSEventBus(cfg, log)
}
