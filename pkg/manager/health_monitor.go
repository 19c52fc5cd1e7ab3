package manager

import (
	"time"

	"github.com/campusgrid/campusgrid/pkg/events"
)

const healthCheckInterval = 30 * time.Second

// monitorHealth evicts workers whose heartbeats have gone stale. Eviction
// runs the same teardown as a clean disconnect, so orphaned jobs are
// requeued immediately instead of waiting for the socket to die.
func (m *Manager) monitorHealth() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictStaleWorkers()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) evictStaleWorkers() {
	timeout := m.cfg.HeartbeatTimeoutDuration()
	for _, workerID := range m.registry.TimedOut(timeout) {
		m.logger.Warn().Str("worker_id", workerID).
			Dur("timeout", timeout).Msg("worker heartbeat timed out")
		m.broker.Publish(&events.Event{
			Type:     events.EventWorkerLost,
			Message:  "worker lost: heartbeat timeout",
			WorkerID: workerID,
		})
		m.DisconnectWorker(workerID, "heartbeat timeout")
	}
}
