package tokenstore

import (
	"context"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/log"
)

// LiveClients lists the client instances that are still running.
type LiveClients interface {
	IDs() []string
}

// CleanupManager periodically removes tokens older than maxAge whose client
// instance is gone. Such tokens belong to browsers that will be issued a
// fresh instance on their next visit. A running instance keeps its token
// however long ago it was written.
type CleanupManager struct {
	storage  Storage
	live     LiveClients
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(storage Storage, live LiveClients, interval, maxAge time.Duration) *CleanupManager {
	return &CleanupManager{
		storage:  storage,
		live:     live,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	log.LogInfoWithFields("cleanup", "Starting token cleanup manager", map[string]any{
		"interval": cm.interval.String(),
		"maxAge":   cm.maxAge.String(),
	})
	go cm.run(ctx)
}

// Stop gracefully stops the cleanup loop
func (cm *CleanupManager) Stop() {
	close(cm.stopChan)
	<-cm.doneChan
	log.LogInfo("Token cleanup manager stopped")
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.cleanup(ctx)
	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-cm.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) cleanup(ctx context.Context) {
	var keep func(string) bool
	if cm.live != nil {
		running := make(map[string]struct{})
		for _, id := range cm.live.IDs() {
			running[id] = struct{}{}
		}
		keep = func(key string) bool {
			ns, ok := NamespaceOf(key)
			if !ok {
				return false
			}
			_, alive := running[ns]
			return alive
		}
	}

	count, err := cm.storage.Sweep(ctx, cm.now().Add(-cm.maxAge), keep)
	if err != nil {
		log.LogErrorWithFields("cleanup", "Failed to sweep stale tokens", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if count > 0 {
		log.LogInfoWithFields("cleanup", "Removed stale tokens", map[string]any{
			"count": count,
		})
	}
}
