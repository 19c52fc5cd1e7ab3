package store

import (
	"errors"

	"github.com/campusgrid/campusgrid/pkg/types"
)

var (
	// ErrNotFound is returned when a looked-up entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrInsufficientCredits is returned when a submitter cannot cover a
	// job's cost. No state is mutated.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNoJob is returned by dispatch when no queued job fits the worker
	ErrNoJob = errors.New("no matching job queued")

	// ErrDuplicateUsername is returned when registering an existing username
	ErrDuplicateUsername = errors.New("username already taken")
)

// Store defines the persistent state interface for CampusGrid.
// Implemented by SQLStore; the manager and dashboard code depend only on
// this interface.
type Store interface {
	// Users
	CreateUser(username, passwordHash, email string, role types.UserRole) (*types.User, error)
	GetUser(id string) (*types.User, error)
	GetUserByUsername(username string) (*types.User, error)
	GrantCredits(userID string, amount int, description string) error
	Leaderboard(limit int) ([]types.LeaderboardEntry, error)
	ListUserTransactions(userID string) ([]types.CreditTransaction, error)

	// Workers
	RegisterWorker(name, ownerID, address string, specs types.Specs) (*types.Worker, error)
	GetWorker(id string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	ListUserWorkers(userID string) ([]*types.Worker, error)
	UpdateWorkerStatus(id string, status types.WorkerStatus, address string) error
	PauseWorker(id string) error
	ResumeWorker(id string) error
	RemoveWorker(id string) error

	// Jobs
	SubmitJob(req types.JobRequest) (*types.Job, error)
	NextJobForWorker(workerID string) (*types.Job, error)
	CompleteJob(jobID, output, errorLog string, success bool, executionTime float64) error
	RequeueWorkerJobs(workerID string) (requeued, failed int, err error)
	GetJob(id string) (*types.Job, error)
	ListJobs(status types.JobStatus, limit int) ([]*types.Job, error)
	ListUserJobs(userID string, limit int) ([]*types.Job, error)
	QueueStats() (*types.QueueStats, error)

	// Audit
	LogActivity(eventType, actorID, details string) error
	RecentActivity(limit int) ([]types.Activity, error)

	Close() error
}

// CalculateCost returns the credit cost for a job's resource demands:
// base 5, 2 per CPU core, 1 per whole GB of RAM, 10 for a GPU, and 1 per
// minute of timeout, floored at minCost. The reward equals the cost.
func CalculateCost(cpu int, ramGb float64, gpu bool, timeoutSeconds, minCost int) int {
	cost := 5 + 2*cpu + int(ramGb) + timeoutSeconds/60
	if gpu {
		cost += 10
	}
	if cost < minCost {
		cost = minCost
	}
	return cost
}
