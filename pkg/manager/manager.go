package manager

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/campusgrid/campusgrid/pkg/config"
	"github.com/campusgrid/campusgrid/pkg/events"
	"github.com/campusgrid/campusgrid/pkg/log"
	"github.com/campusgrid/campusgrid/pkg/metrics"
	"github.com/campusgrid/campusgrid/pkg/store"
	"github.com/campusgrid/campusgrid/pkg/types"
)

// Manager coordinates the worker fleet and the job queue. The store holds
// everything durable; the registry holds session liveness; the broker fans
// out state changes to live consumers.
type Manager struct {
	cfg      config.Manager
	store    store.Store
	registry *Registry
	broker   *events.Broker
	logger   zerolog.Logger
	stopCh   chan struct{}

	connMu sync.Mutex
	conns  map[string]io.Closer
}

// New creates a Manager over an open store
func New(cfg config.Manager, st store.Store, broker *events.Broker) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    st,
		registry: NewRegistry(),
		broker:   broker,
		logger:   log.WithComponent("manager"),
		stopCh:   make(chan struct{}),
		conns:    make(map[string]io.Closer),
	}
}

// Start launches the background health monitor
func (m *Manager) Start() {
	go m.monitorHealth()
}

// Stop stops background work
func (m *Manager) Stop() {
	close(m.stopCh)
}

// Store exposes the persistence layer for read paths like the dashboard
// and admin commands.
func (m *Manager) Store() store.Store {
	return m.store
}

// Registry exposes the live worker table
func (m *Manager) Registry() *Registry {
	return m.registry
}

// RegisterWorker handles a registration message: the owner token is
// resolved to a user, the worker gets a durable row, and its session
// becomes live. An unresolvable token still registers the worker; it just
// earns nobody credits.
func (m *Manager) RegisterWorker(name, ownerToken, address string, specs types.Specs, conn io.Closer) (*types.Worker, error) {
	ownerID := m.resolveOwner(ownerToken)

	worker, err := m.store.RegisterWorker(name, ownerID, address, specs)
	if err != nil {
		return nil, fmt.Errorf("failed to register worker: %w", err)
	}
	if err := m.store.UpdateWorkerStatus(worker.ID, types.WorkerStatusOnline, address); err != nil {
		m.logger.Warn().Err(err).Str("worker_id", worker.ID).Msg("failed to persist worker status")
	}

	m.registry.Add(&LiveWorker{
		ID:      worker.ID,
		Name:    name,
		OwnerID: ownerID,
		Specs:   specs,
		Address: address,
	})

	m.connMu.Lock()
	m.conns[worker.ID] = conn
	m.connMu.Unlock()

	m.broker.Publish(&events.Event{
		Type:     events.EventWorkerRegistered,
		Message:  fmt.Sprintf("worker %s connected from %s", name, address),
		WorkerID: worker.ID,
	})
	m.logger.Info().Str("worker_id", worker.ID).Str("name", name).
		Str("address", address).Int("cpu_cores", specs.CPUCores).
		Float64("ram_gb", specs.RAMGb).Bool("gpu", specs.HasGPU()).
		Msg("worker registered")

	return worker, nil
}

// resolveOwner maps an owner token to a user ID.
// TODO: replace the plain username lookup with signed session tokens once
// the dashboard issues them.
func (m *Manager) resolveOwner(token string) string {
	if token == "" {
		return ""
	}
	user, err := m.store.GetUserByUsername(token)
	if err != nil {
		m.logger.Debug().Str("token", token).Msg("owner token did not resolve")
		return ""
	}
	return user.ID
}

// Heartbeat refreshes a worker's liveness
func (m *Manager) Heartbeat(workerID string) {
	metrics.HeartbeatsTotal.Inc()
	if !m.registry.Heartbeat(workerID) {
		m.logger.Warn().Str("worker_id", workerID).Msg("heartbeat from unknown worker")
		return
	}
	live, _ := m.registry.Get(workerID)
	status := live.Status
	// an operator pause sticks; heartbeats only refresh last_heartbeat
	if stored, err := m.store.GetWorker(workerID); err == nil && stored.Status == types.WorkerStatusPaused {
		status = types.WorkerStatusPaused
	}
	if err := m.store.UpdateWorkerStatus(workerID, status, ""); err != nil {
		m.logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to persist heartbeat")
	}
}

// NextJob dispatches the best queued job to a requesting worker.
// Returns store.ErrNoJob when nothing matches the worker's capabilities.
func (m *Manager) NextJob(workerID string) (*types.Job, error) {
	timer := metrics.NewTimer()
	job, err := m.store.NextJobForWorker(workerID)
	if err != nil {
		return nil, err
	}
	timer.ObserveDuration(metrics.DispatchLatency)

	m.registry.SetBusy(workerID, job.ID)
	if err := m.store.UpdateWorkerStatus(workerID, types.WorkerStatusBusy, ""); err != nil {
		m.logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to persist busy status")
	}

	metrics.JobsDispatched.Inc()
	m.broker.Publish(&events.Event{
		Type:     events.EventJobDispatched,
		Message:  fmt.Sprintf("job %q dispatched", job.Title),
		WorkerID: workerID,
		JobID:    job.ID,
	})
	m.logger.Info().Str("job_id", job.ID).Str("worker_id", workerID).
		Int("priority", job.Priority).Msg("job dispatched")

	return job, nil
}

// JobResult records a worker's result: artifacts are persisted first, then
// the terminal state and credit transfer commit atomically in the store.
func (m *Manager) JobResult(workerID, jobID, output, errorLog string, success bool, executionTime float64, files []types.OutputFile) error {
	saved := m.SaveJobFiles(jobID, files)

	if err := m.store.CompleteJob(jobID, output, errorLog, success, executionTime); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	m.registry.SetIdle(workerID, success)
	if live, ok := m.registry.Get(workerID); ok {
		if err := m.store.UpdateWorkerStatus(workerID, live.Status, ""); err != nil {
			m.logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to persist idle status")
		}
	}

	outcome := "failure"
	eventType := events.EventJobFailed
	if success {
		outcome = "success"
		eventType = events.EventJobCompleted
	}
	metrics.JobResults.WithLabelValues(outcome).Inc()
	metrics.JobExecutionSeconds.Observe(executionTime)
	if success {
		if job, err := m.store.GetJob(jobID); err == nil {
			metrics.CreditsTransferred.WithLabelValues(string(types.TxJobCompleted)).
				Add(float64(job.CreditReward))
		}
	}

	m.broker.Publish(&events.Event{
		Type:     eventType,
		Message:  fmt.Sprintf("job finished: %s", outcome),
		WorkerID: workerID,
		JobID:    jobID,
	})
	m.logger.Info().Str("job_id", jobID).Str("worker_id", workerID).
		Bool("success", success).Float64("execution_time", executionTime).
		Int("files", saved).Msg("job result recorded")

	return nil
}

// DisconnectWorker tears down a worker session: the live record goes away,
// the durable status flips to offline, and any job it was running goes back
// to the queue (or fails, once its attempt budget is spent).
func (m *Manager) DisconnectWorker(workerID, reason string) {
	live, ok := m.registry.Remove(workerID)
	if !ok {
		return
	}

	m.connMu.Lock()
	if conn, exists := m.conns[workerID]; exists {
		conn.Close()
		delete(m.conns, workerID)
	}
	m.connMu.Unlock()

	if err := m.store.UpdateWorkerStatus(workerID, types.WorkerStatusOffline, ""); err != nil {
		m.logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to persist offline status")
	}

	requeued, failed, err := m.store.RequeueWorkerJobs(workerID)
	if err != nil {
		m.logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to requeue orphaned jobs")
	}
	if requeued > 0 {
		metrics.JobsRequeued.Add(float64(requeued))
		m.broker.Publish(&events.Event{
			Type:     events.EventJobRequeued,
			Message:  fmt.Sprintf("%d jobs requeued after worker loss", requeued),
			WorkerID: workerID,
		})
	}

	m.broker.Publish(&events.Event{
		Type:     events.EventWorkerOffline,
		Message:  fmt.Sprintf("worker %s disconnected: %s", live.Name, reason),
		WorkerID: workerID,
	})
	m.logger.Info().Str("worker_id", workerID).Str("name", live.Name).
		Str("reason", reason).Int("requeued", requeued).Int("failed", failed).
		Msg("worker disconnected")
}

// SubmitJob creates a job on behalf of a submitter, debiting their balance
func (m *Manager) SubmitJob(req types.JobRequest) (*types.Job, error) {
	job, err := m.store.SubmitJob(req)
	if err != nil {
		return nil, err
	}

	metrics.CreditsTransferred.WithLabelValues(string(types.TxJobSubmitted)).
		Add(float64(job.CreditCost))
	m.broker.Publish(&events.Event{
		Type:    events.EventJobSubmitted,
		Message: fmt.Sprintf("job %q queued at priority %d", job.Title, job.Priority),
		JobID:   job.ID,
	})
	m.logger.Info().Str("job_id", job.ID).Str("title", job.Title).
		Int("cost", job.CreditCost).Msg("job submitted")

	return job, nil
}

// GrantCredits adjusts a user's balance from the admin surface
func (m *Manager) GrantCredits(userID string, amount int, description string) error {
	if err := m.store.GrantCredits(userID, amount, description); err != nil {
		return err
	}

	metrics.CreditsTransferred.WithLabelValues(string(types.TxAdminGrant)).
		Add(float64(amount))
	m.broker.Publish(&events.Event{
		Type:    events.EventCreditsGranted,
		Message: fmt.Sprintf("%d credits granted: %s", amount, description),
	})
	return nil
}
