package types

import (
	"time"
)

// UserRole defines what a user account is allowed to do
type UserRole string

const (
	RoleCoordinator UserRole = "coordinator"
	RoleWorker      UserRole = "worker"
	RoleUser        UserRole = "user"
)

// User represents an account that submits jobs and/or owns workers.
// Credits is the cached balance; it always equals the sum of the user's
// credit transaction amounts.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Email        string
	Credits      int
	Role         UserRole
	CreatedAt    time.Time
	LastLogin    time.Time
}

// WorkerStatus represents the current state of a worker node
type WorkerStatus string

const (
	WorkerStatusOffline WorkerStatus = "offline"
	WorkerStatusOnline  WorkerStatus = "online"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusPaused  WorkerStatus = "paused"
)

// Specs describes the hardware a worker contributes
type Specs struct {
	CPUCores    int     `json:"cpu_cores"`
	CPUModel    string  `json:"cpu_model"`
	RAMGb       float64 `json:"ram_gb"`
	GPUName     string  `json:"gpu_name,omitempty"`
	GPUMemoryGb float64 `json:"gpu_memory_gb,omitempty"`
	HasDocker   bool    `json:"has_docker"`
}

// HasGPU reports whether the worker advertises a GPU
func (s Specs) HasGPU() bool {
	return s.GPUName != ""
}

// Worker represents a registered compute node.
// Status here is the durable record; liveness (online/busy) is authoritative
// only while the manager holds a live connection for the worker.
type Worker struct {
	ID            string
	Name          string
	OwnerID       string // empty when the owner token did not resolve
	OwnerName     string // joined from users on list queries
	Address       string
	Status        WorkerStatus
	Specs         Specs
	LastHeartbeat time.Time
	JobsCompleted int
	CreditsEarned int
	CreatedAt     time.Time
}

// JobStatus represents the lifecycle state of a job.
// pending -> running -> completed | failed; terminal states are immutable.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents a unit of compute work
type Job struct {
	ID             string
	Title          string
	SubmitterID    string
	SubmitterName  string
	WorkerID       string
	WorkerName     string
	Status         JobStatus
	Priority       int // 1..10, higher dispatches first
	Code           string
	Requirements   string
	CPURequired    int
	RAMRequiredGb  float64
	GPURequired    bool
	TimeoutSeconds int
	CreditCost     int
	CreditReward   int
	Attempts       int
	ResultOutput   string
	ErrorLog       string
	ExecutionTime  float64
	CreatedAt      time.Time
	StartedAt      time.Time
	CompletedAt    time.Time
}

// JobRequest carries the submitter-supplied fields of a new job
type JobRequest struct {
	Title          string
	SubmitterID    string
	Code           string
	Requirements   string
	CPURequired    int
	RAMRequiredGb  float64
	GPURequired    bool
	TimeoutSeconds int
	Priority       int
}

// QueueEntry pairs a pending job with its scheduling record
type QueueEntry struct {
	JobID    string
	Priority int
	QueuedAt time.Time
}

// TransactionType classifies a credit transaction
type TransactionType string

const (
	TxJobSubmitted TransactionType = "job_submitted"
	TxJobCompleted TransactionType = "job_completed"
	TxAdminGrant   TransactionType = "admin_grant"
)

// CreditTransaction is an append-only ledger record. Amount is signed:
// negative for debits, positive for credits.
type CreditTransaction struct {
	ID          int64
	UserID      string
	Amount      int
	Type        TransactionType
	JobID       string
	Description string
	CreatedAt   time.Time
}

// Activity is an append-only audit event
type Activity struct {
	ID        int64
	EventType string
	ActorID   string
	Details   string
	CreatedAt time.Time
}

// QueueStats summarizes the scheduler state for dashboards
type QueueStats struct {
	Pending       int
	Running       int
	Completed     int
	Failed        int
	OnlineWorkers int
}

// LeaderboardEntry is one row of the contributor leaderboard
type LeaderboardEntry struct {
	Username      string
	Credits       int
	ActiveWorkers int
	JobsCompleted int
}

// OutputFile is a job artifact collected from the sandbox output directory
type OutputFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Content  string `json:"content"` // base64
}

// ExecutionResult is what the sandbox returns for one job run
type ExecutionResult struct {
	Success bool
	Output  string
	Error   string
	Files   []OutputFile
}
