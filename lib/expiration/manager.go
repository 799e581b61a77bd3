// Package expiration periodically deletes events whose NIP-40 expiration
// has passed
package expiration

import (
	"context"
	"time"

	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
)

const DefaultSweepInterval = 5 * time.Minute

type Manager struct {
	purger   stores.ExpiredEventPurger
	interval time.Duration
	logger   *logging.Logger
	done     chan struct{}
}

// NewManager sweeps purger every interval. A non-positive interval uses
// DefaultSweepInterval.
func NewManager(purger stores.ExpiredEventPurger, interval time.Duration, logger *logging.Logger) *Manager {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Manager{
		purger:   purger,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs sweeps in the background until ctx is cancelled
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

// Done is closed once the background loop has exited
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Error("Expired event sweep failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Sweep deletes every event that expired before now
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	removed, err := m.purger.DeleteExpired(ctx, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.logger.Info("Removed expired events", map[string]interface{}{
			"count": removed,
		})
	}
	return removed, nil
}
