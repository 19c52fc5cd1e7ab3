package manager

import (
	"sync"
	"time"

	"github.com/campusgrid/campusgrid/pkg/types"
)

// LiveWorker is the in-memory session record for a connected worker. This
// table, not the store, is authoritative for liveness: a worker is only
// online or busy while its connection is in here.
type LiveWorker struct {
	ID            string
	Name          string
	OwnerID       string
	Specs         types.Specs
	Status        types.WorkerStatus
	CurrentJob    string
	LastHeartbeat time.Time
	Address       string
	JobsCompleted int
}

// Registry tracks connected workers
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*LiveWorker
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*LiveWorker),
	}
}

// Add records a newly registered worker as online
func (r *Registry) Add(w *LiveWorker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w.Status = types.WorkerStatusOnline
	w.LastHeartbeat = time.Now()
	r.workers[w.ID] = w
}

// Heartbeat refreshes a worker's liveness. A heartbeat from a worker the
// manager thought was lost brings it back online.
func (r *Registry) Heartbeat(workerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return false
	}
	w.LastHeartbeat = time.Now()
	if w.Status != types.WorkerStatusBusy {
		w.Status = types.WorkerStatusOnline
	}
	return true
}

// SetBusy marks a worker as running a job
func (r *Registry) SetBusy(workerID, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[workerID]; ok {
		w.Status = types.WorkerStatusBusy
		w.CurrentJob = jobID
	}
}

// SetIdle returns a worker to the online pool after a job. completed only
// advances JobsCompleted on success, mirroring the durable counter.
func (r *Registry) SetIdle(workerID string, completed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[workerID]; ok {
		w.Status = types.WorkerStatusOnline
		w.CurrentJob = ""
		if completed {
			w.JobsCompleted++
		}
	}
}

// Remove drops a worker from the live table, returning its record
func (r *Registry) Remove(workerID string) (*LiveWorker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if ok {
		delete(r.workers, workerID)
	}
	return w, ok
}

// Get returns a worker's live record
func (r *Registry) Get(workerID string) (*LiveWorker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[workerID]
	return w, ok
}

// Count returns the number of connected workers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Stats summarizes the live table
func (r *Registry) Stats() (total, online, busy int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total = len(r.workers)
	for _, w := range r.workers {
		switch w.Status {
		case types.WorkerStatusOnline:
			online++
		case types.WorkerStatusBusy:
			busy++
		}
	}
	return total, online, busy
}

// TimedOut returns workers whose last heartbeat is older than timeout
func (r *Registry) TimedOut(timeout time.Duration) []string {
	threshold := time.Now().Add(-timeout)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for id, w := range r.workers {
		if w.LastHeartbeat.Before(threshold) {
			stale = append(stale, id)
		}
	}
	return stale
}
