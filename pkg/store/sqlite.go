package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/campusgrid/campusgrid/pkg/log"
	"github.com/campusgrid/campusgrid/pkg/types"
)

// Options tunes store policy
type Options struct {
	StartingCredits int // initial balance for new users
	MinJobCost      int // floor for the cost function
	MaxJobAttempts  int // dispatch budget before an orphaned job fails
}

// DefaultOptions match the documented configuration defaults
func DefaultOptions() Options {
	return Options{
		StartingCredits: 100,
		MinJobCost:      5,
		MaxJobAttempts:  3,
	}
}

// SQLStore implements Store on a single-file SQLite database.
// WAL journaling gives multi-reader concurrency; a 30 s busy timeout makes
// competing writers wait instead of failing; write transactions take the
// write lock up front (txlock=immediate) so composite operations serialize.
type SQLStore struct {
	db     *sql.DB
	opts   Options
	logger zerolog.Logger
}

const busyRetries = 3

// Open opens (creating if needed) the store at path
func Open(path string, opts Options) (*SQLStore, error) {
	if opts.MaxJobAttempts <= 0 {
		opts.MaxJobAttempts = DefaultOptions().MaxJobAttempts
	}

	dsn := fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=foreign_keys(1)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLStore{
		db:     db,
		opts:   opts,
		logger: log.WithComponent("store"),
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			email TEXT,
			credits INTEGER NOT NULL DEFAULT 0,
			role TEXT NOT NULL DEFAULT 'user',
			created_at DATETIME NOT NULL,
			last_login DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS workers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id TEXT,
			address TEXT,
			status TEXT NOT NULL DEFAULT 'offline',
			cpu_cores INTEGER NOT NULL DEFAULT 1,
			cpu_model TEXT,
			ram_gb REAL NOT NULL DEFAULT 0,
			gpu_name TEXT,
			gpu_memory_gb REAL,
			has_docker INTEGER NOT NULL DEFAULT 0,
			last_heartbeat DATETIME,
			total_jobs_completed INTEGER NOT NULL DEFAULT 0,
			total_credits_earned INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (owner_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			submitter_id TEXT NOT NULL,
			worker_id TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			priority INTEGER NOT NULL DEFAULT 5,
			code TEXT NOT NULL,
			requirements TEXT,
			cpu_required INTEGER NOT NULL DEFAULT 1,
			ram_required_gb REAL NOT NULL DEFAULT 1,
			gpu_required INTEGER NOT NULL DEFAULT 0,
			timeout_seconds INTEGER NOT NULL DEFAULT 300,
			credit_cost INTEGER NOT NULL,
			credit_reward INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			result_output TEXT,
			error_log TEXT,
			execution_time REAL,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME,
			FOREIGN KEY (submitter_id) REFERENCES users(id),
			FOREIGN KEY (worker_id) REFERENCES workers(id)
		)`,
		`CREATE TABLE IF NOT EXISTS job_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT UNIQUE NOT NULL,
			priority INTEGER NOT NULL DEFAULT 5,
			queued_at DATETIME NOT NULL,
			FOREIGN KEY (job_id) REFERENCES jobs(id)
		)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			transaction_type TEXT NOT NULL,
			job_id TEXT,
			description TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS activity_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			actor_id TEXT,
			details TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_submitter ON jobs(submitter_id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_order ON job_queue(priority DESC, queued_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_user ON credit_transactions(user_id)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// withRetry re-runs fn when SQLite reports the database busy. The busy
// timeout already absorbs most contention; this catches the residue.
func (s *SQLStore) withRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		s.logger.Warn().Int("attempt", attempt).Msg("database busy, retrying")
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// ==================== Users ====================

// CreateUser registers a new account with the starting credit balance.
// The opening balance is written to the transaction ledger so the invariant
// balance == sum(transactions) holds from the first row.
func (s *SQLStore) CreateUser(username, passwordHash, email string, role types.UserRole) (*types.User, error) {
	user := &types.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
		Credits:      s.opts.StartingCredits,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}

	err := s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO users (id, username, password_hash, email, credits, role, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			user.ID, user.Username, user.PasswordHash, nullStr(user.Email),
			user.Credits, string(user.Role), user.CreatedAt,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return ErrDuplicateUsername
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO credit_transactions (user_id, amount, transaction_type, description, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			user.ID, user.Credits, string(types.TxAdminGrant), "starting credits", user.CreatedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logActivity("user_registered", user.ID, fmt.Sprintf("new %s: %s", role, username))
	return user, nil
}

// GetUser retrieves a user by ID
func (s *SQLStore) GetUser(id string) (*types.User, error) {
	return s.queryUser(`SELECT id, username, password_hash, email, credits, role, created_at, last_login
		FROM users WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username
func (s *SQLStore) GetUserByUsername(username string) (*types.User, error) {
	return s.queryUser(`SELECT id, username, password_hash, email, credits, role, created_at, last_login
		FROM users WHERE username = ?`, username)
}

func (s *SQLStore) queryUser(query string, arg any) (*types.User, error) {
	var (
		u         types.User
		email     sql.NullString
		role      string
		lastLogin sql.NullTime
	)
	err := s.db.QueryRow(query, arg).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &email, &u.Credits, &role, &u.CreatedAt, &lastLogin,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.Email = email.String
	u.Role = types.UserRole(role)
	u.LastLogin = lastLogin.Time
	return &u, nil
}

// GrantCredits adjusts a user's balance and records the ledger entry
func (s *SQLStore) GrantCredits(userID string, amount int, description string) error {
	return s.withRetry(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			res, err := tx.Exec(`UPDATE users SET credits = credits + ? WHERE id = ?`, amount, userID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrNotFound
			}
			_, err = tx.Exec(
				`INSERT INTO credit_transactions (user_id, amount, transaction_type, description, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				userID, amount, string(types.TxAdminGrant), description, time.Now().UTC(),
			)
			return err
		})
	})
}

// Leaderboard returns top contributors by credit balance
func (s *SQLStore) Leaderboard(limit int) ([]types.LeaderboardEntry, error) {
	rows, err := s.db.Query(`
		SELECT u.username, u.credits,
		       (SELECT COUNT(*) FROM workers w WHERE w.owner_id = u.id AND w.status IN ('online','busy')) AS active_workers,
		       (SELECT COALESCE(SUM(w.total_jobs_completed), 0) FROM workers w WHERE w.owner_id = u.id) AS jobs_completed
		FROM users u
		ORDER BY u.credits DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []types.LeaderboardEntry
	for rows.Next() {
		var e types.LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Credits, &e.ActiveWorkers, &e.JobsCompleted); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListUserTransactions returns a user's full credit ledger, oldest first
func (s *SQLStore) ListUserTransactions(userID string) ([]types.CreditTransaction, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, amount, transaction_type, job_id, description, created_at
		FROM credit_transactions WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []types.CreditTransaction
	for rows.Next() {
		var (
			t     types.CreditTransaction
			txt   string
			jobID sql.NullString
			desc  sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &txt, &jobID, &desc, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = types.TransactionType(txt)
		t.JobID = jobID.String
		t.Description = desc.String
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ==================== Workers ====================

// RegisterWorker inserts a new worker row. Reconnecting workers register
// fresh rows; history stays attached to the old ID.
func (s *SQLStore) RegisterWorker(name, ownerID, address string, specs types.Specs) (*types.Worker, error) {
	w := &types.Worker{
		ID:        uuid.New().String(),
		Name:      name,
		OwnerID:   ownerID,
		Address:   address,
		Status:    types.WorkerStatusOffline,
		Specs:     specs,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO workers (id, name, owner_id, address, status, cpu_cores, cpu_model,
		                      ram_gb, gpu_name, gpu_memory_gb, has_docker, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, nullStr(w.OwnerID), nullStr(w.Address), string(w.Status),
		specs.CPUCores, specs.CPUModel, specs.RAMGb,
		nullStr(specs.GPUName), nullFloat(specs.GPUMemoryGb), boolInt(specs.HasDocker),
		w.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register worker: %w", err)
	}

	s.logActivity("worker_registered", ownerID, fmt.Sprintf("worker: %s", name))
	return w, nil
}

// GetWorker retrieves a worker by ID
func (s *SQLStore) GetWorker(id string) (*types.Worker, error) {
	row := s.db.QueryRow(workerSelect+` WHERE w.id = ?`, id)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return w, err
}

// ListWorkers returns all registered workers with owner names resolved
func (s *SQLStore) ListWorkers() ([]*types.Worker, error) {
	return s.queryWorkers(workerSelect + ` ORDER BY w.status DESC, w.last_heartbeat DESC`)
}

// ListUserWorkers returns workers owned by a user
func (s *SQLStore) ListUserWorkers(userID string) ([]*types.Worker, error) {
	return s.queryWorkers(workerSelect+` WHERE w.owner_id = ? ORDER BY w.last_heartbeat DESC`, userID)
}

const workerSelect = `
	SELECT w.id, w.name, w.owner_id, u.username, w.address, w.status,
	       w.cpu_cores, w.cpu_model, w.ram_gb, w.gpu_name, w.gpu_memory_gb, w.has_docker,
	       w.last_heartbeat, w.total_jobs_completed, w.total_credits_earned, w.created_at
	FROM workers w
	LEFT JOIN users u ON w.owner_id = u.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorker(row rowScanner) (*types.Worker, error) {
	var (
		w         types.Worker
		ownerID   sql.NullString
		ownerName sql.NullString
		address   sql.NullString
		status    string
		cpuModel  sql.NullString
		gpuName   sql.NullString
		gpuMem    sql.NullFloat64
		hasDocker int
		heartbeat sql.NullTime
	)
	err := row.Scan(
		&w.ID, &w.Name, &ownerID, &ownerName, &address, &status,
		&w.Specs.CPUCores, &cpuModel, &w.Specs.RAMGb, &gpuName, &gpuMem, &hasDocker,
		&heartbeat, &w.JobsCompleted, &w.CreditsEarned, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.OwnerID = ownerID.String
	w.OwnerName = ownerName.String
	w.Address = address.String
	w.Status = types.WorkerStatus(status)
	w.Specs.CPUModel = cpuModel.String
	w.Specs.GPUName = gpuName.String
	w.Specs.GPUMemoryGb = gpuMem.Float64
	w.Specs.HasDocker = hasDocker != 0
	w.LastHeartbeat = heartbeat.Time
	return &w, nil
}

func (s *SQLStore) queryWorkers(query string, args ...any) ([]*types.Worker, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	var workers []*types.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// UpdateWorkerStatus updates a worker's durable status and heartbeat time
func (s *SQLStore) UpdateWorkerStatus(id string, status types.WorkerStatus, address string) error {
	return s.withRetry(func() error {
		var err error
		if address != "" {
			_, err = s.db.Exec(
				`UPDATE workers SET status = ?, address = ?, last_heartbeat = ? WHERE id = ?`,
				string(status), address, time.Now().UTC(), id,
			)
		} else {
			_, err = s.db.Exec(
				`UPDATE workers SET status = ?, last_heartbeat = ? WHERE id = ?`,
				string(status), time.Now().UTC(), id,
			)
		}
		return err
	})
}

// PauseWorker takes a worker out of dispatch consideration
func (s *SQLStore) PauseWorker(id string) error {
	return s.setWorkerStatus(id, types.WorkerStatusPaused)
}

// ResumeWorker returns a paused worker to the online pool
func (s *SQLStore) ResumeWorker(id string) error {
	return s.setWorkerStatus(id, types.WorkerStatusOnline)
}

func (s *SQLStore) setWorkerStatus(id string, status types.WorkerStatus) error {
	res, err := s.db.Exec(`UPDATE workers SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update worker status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveWorker deletes a worker's registration
func (s *SQLStore) RemoveWorker(id string) error {
	res, err := s.db.Exec(`DELETE FROM workers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove worker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ==================== Jobs ====================

// SubmitJob atomically creates the job, its queue entry, the submitter's
// debit, and the ledger record. On insufficient credits nothing is written.
func (s *SQLStore) SubmitJob(req types.JobRequest) (*types.Job, error) {
	cost := CalculateCost(req.CPURequired, req.RAMRequiredGb, req.GPURequired,
		req.TimeoutSeconds, s.opts.MinJobCost)

	job := &types.Job{
		ID:             uuid.New().String(),
		Title:          req.Title,
		SubmitterID:    req.SubmitterID,
		Status:         types.JobStatusPending,
		Priority:       req.Priority,
		Code:           req.Code,
		Requirements:   req.Requirements,
		CPURequired:    req.CPURequired,
		RAMRequiredGb:  req.RAMRequiredGb,
		GPURequired:    req.GPURequired,
		TimeoutSeconds: req.TimeoutSeconds,
		CreditCost:     cost,
		CreditReward:   cost,
		CreatedAt:      time.Now().UTC(),
	}

	err := s.withRetry(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			var credits int
			err := tx.QueryRow(`SELECT credits FROM users WHERE id = ?`, req.SubmitterID).Scan(&credits)
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			if credits < cost {
				return ErrInsufficientCredits
			}

			if _, err := tx.Exec(`UPDATE users SET credits = credits - ? WHERE id = ?`, cost, req.SubmitterID); err != nil {
				return err
			}

			if _, err := tx.Exec(
				`INSERT INTO jobs (id, title, submitter_id, status, priority, code, requirements,
				                   cpu_required, ram_required_gb, gpu_required, timeout_seconds,
				                   credit_cost, credit_reward, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				job.ID, job.Title, job.SubmitterID, string(job.Status), job.Priority,
				job.Code, nullStr(job.Requirements), job.CPURequired, job.RAMRequiredGb,
				boolInt(job.GPURequired), job.TimeoutSeconds, job.CreditCost, job.CreditReward,
				job.CreatedAt,
			); err != nil {
				return err
			}

			if _, err := tx.Exec(
				`INSERT INTO job_queue (job_id, priority, queued_at) VALUES (?, ?, ?)`,
				job.ID, job.Priority, job.CreatedAt,
			); err != nil {
				return err
			}

			_, err = tx.Exec(
				`INSERT INTO credit_transactions (user_id, amount, transaction_type, job_id, description, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				req.SubmitterID, -cost, string(types.TxJobSubmitted), job.ID,
				fmt.Sprintf("submitted job: %s", job.Title), job.CreatedAt,
			)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.logActivity("job_created", req.SubmitterID, fmt.Sprintf("job: %s", job.Title))
	return job, nil
}

// NextJobForWorker atomically selects, claims and dequeues the next job the
// worker can run. Selection order: priority descending, then queue insertion
// order. Returns ErrNoJob when nothing fits.
func (s *SQLStore) NextJobForWorker(workerID string) (*types.Job, error) {
	worker, err := s.GetWorker(workerID)
	if err != nil {
		return nil, err
	}
	// paused workers are never picked by dispatch
	if worker.Status == types.WorkerStatusPaused {
		return nil, ErrNoJob
	}

	var job *types.Job
	err = s.withRetry(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			// GPU gate: a gpu_required job only matches when this worker
			// advertises a GPU, i.e. its gpu_name is non-null.
			row := tx.QueryRow(jobSelect+`
				JOIN job_queue q ON j.id = q.job_id
				WHERE j.status = 'pending'
				  AND j.cpu_required <= ?
				  AND j.ram_required_gb <= ?
				  AND (j.gpu_required = 0 OR ? IS NOT NULL)
				ORDER BY q.priority DESC, q.queued_at ASC, q.id ASC
				LIMIT 1`,
				worker.Specs.CPUCores, worker.Specs.RAMGb, nullStr(worker.Specs.GPUName),
			)
			j, err := scanJob(row)
			if err == sql.ErrNoRows {
				return ErrNoJob
			}
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			if _, err := tx.Exec(
				`UPDATE jobs SET status = 'running', worker_id = ?, started_at = ?, attempts = attempts + 1
				 WHERE id = ?`,
				workerID, now, j.ID,
			); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM job_queue WHERE job_id = ?`, j.ID); err != nil {
				return err
			}

			j.Status = types.JobStatusRunning
			j.WorkerID = workerID
			j.StartedAt = now
			j.Attempts++
			job = j
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logActivity("job_started", workerID, fmt.Sprintf("job %s dispatched", job.ID))
	return job, nil
}

// CompleteJob finalizes a running job. On success the worker owner earns the
// reward and the worker's lifetime counters advance, atomically with the
// status change. Results for jobs already terminal are ignored.
func (s *SQLStore) CompleteJob(jobID, output, errorLog string, success bool, executionTime float64) error {
	var terminal types.JobStatus
	err := s.withRetry(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			row := tx.QueryRow(jobSelect+` WHERE j.id = ?`, jobID)
			job, err := scanJob(row)
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			if job.Status != types.JobStatusRunning {
				terminal = ""
				return nil
			}

			status := types.JobStatusFailed
			if success {
				status = types.JobStatusCompleted
			}
			terminal = status

			if _, err := tx.Exec(
				`UPDATE jobs SET status = ?, result_output = ?, error_log = ?,
				        execution_time = ?, completed_at = ?
				 WHERE id = ?`,
				string(status), output, nullStr(errorLog), executionTime,
				time.Now().UTC(), jobID,
			); err != nil {
				return err
			}

			if !success || job.WorkerID == "" {
				return nil
			}

			var ownerID sql.NullString
			if err := tx.QueryRow(`SELECT owner_id FROM workers WHERE id = ?`, job.WorkerID).Scan(&ownerID); err != nil {
				if err == sql.ErrNoRows {
					return nil // worker removed; no one to reward
				}
				return err
			}

			if ownerID.Valid {
				if _, err := tx.Exec(
					`UPDATE users SET credits = credits + ? WHERE id = ?`,
					job.CreditReward, ownerID.String,
				); err != nil {
					return err
				}
				if _, err := tx.Exec(
					`INSERT INTO credit_transactions (user_id, amount, transaction_type, job_id, description, created_at)
					 VALUES (?, ?, ?, ?, ?, ?)`,
					ownerID.String, job.CreditReward, string(types.TxJobCompleted), jobID,
					fmt.Sprintf("completed job: %s", job.Title), time.Now().UTC(),
				); err != nil {
					return err
				}
			}

			_, err = tx.Exec(
				`UPDATE workers
				 SET total_jobs_completed = total_jobs_completed + 1,
				     total_credits_earned = total_credits_earned + ?
				 WHERE id = ?`,
				job.CreditReward, job.WorkerID,
			)
			return err
		})
	})
	if err != nil {
		return err
	}

	if terminal != "" {
		s.logActivity("job_completed", "", fmt.Sprintf("job %s: %s", jobID, terminal))
	}
	return nil
}

// RequeueWorkerJobs handles jobs orphaned by a dead worker: each running job
// assigned to the worker goes back to the queue with its original priority
// until its attempt budget runs out, after which it fails terminally.
// Submitters are not refunded; the job either still runs or fails for good.
func (s *SQLStore) RequeueWorkerJobs(workerID string) (requeued, failed int, err error) {
	err = s.withRetry(func() error {
		requeued, failed = 0, 0
		return s.withTx(func(tx *sql.Tx) error {
			rows, err := tx.Query(
				`SELECT id, priority, attempts FROM jobs WHERE worker_id = ? AND status = 'running'`,
				workerID,
			)
			if err != nil {
				return err
			}

			type orphan struct {
				id       string
				priority int
				attempts int
			}
			var orphans []orphan
			for rows.Next() {
				var o orphan
				if err := rows.Scan(&o.id, &o.priority, &o.attempts); err != nil {
					rows.Close()
					return err
				}
				orphans = append(orphans, o)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			now := time.Now().UTC()
			for _, o := range orphans {
				if o.attempts >= s.opts.MaxJobAttempts {
					if _, err := tx.Exec(
						`UPDATE jobs SET status = 'failed', error_log = ?, completed_at = ? WHERE id = ?`,
						fmt.Sprintf("worker disconnected; retry budget of %d exhausted", s.opts.MaxJobAttempts),
						now, o.id,
					); err != nil {
						return err
					}
					failed++
					continue
				}
				if _, err := tx.Exec(
					`UPDATE jobs SET status = 'pending', worker_id = NULL, started_at = NULL WHERE id = ?`,
					o.id,
				); err != nil {
					return err
				}
				if _, err := tx.Exec(
					`INSERT INTO job_queue (job_id, priority, queued_at) VALUES (?, ?, ?)`,
					o.id, o.priority, now,
				); err != nil {
					return err
				}
				requeued++
			}
			return nil
		})
	})
	if err != nil {
		return 0, 0, err
	}
	if requeued > 0 || failed > 0 {
		s.logActivity("jobs_requeued", workerID,
			fmt.Sprintf("worker lost: %d requeued, %d failed", requeued, failed))
	}
	return requeued, failed, nil
}

// GetJob retrieves a job by ID
func (s *SQLStore) GetJob(id string) (*types.Job, error) {
	row := s.db.QueryRow(jobSelect+` WHERE j.id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return j, err
}

// ListJobs returns jobs newest-first, optionally filtered by status
func (s *SQLStore) ListJobs(status types.JobStatus, limit int) ([]*types.Job, error) {
	if status != "" {
		return s.queryJobs(jobSelect+` WHERE j.status = ? ORDER BY j.created_at DESC LIMIT ?`,
			string(status), limit)
	}
	return s.queryJobs(jobSelect+` ORDER BY j.created_at DESC LIMIT ?`, limit)
}

// ListUserJobs returns a submitter's jobs newest-first
func (s *SQLStore) ListUserJobs(userID string, limit int) ([]*types.Job, error) {
	return s.queryJobs(jobSelect+` WHERE j.submitter_id = ? ORDER BY j.created_at DESC LIMIT ?`,
		userID, limit)
}

const jobSelect = `
	SELECT j.id, j.title, j.submitter_id, u.username, j.worker_id, w.name,
	       j.status, j.priority, j.code,
	       j.requirements, j.cpu_required, j.ram_required_gb, j.gpu_required,
	       j.timeout_seconds, j.credit_cost, j.credit_reward, j.attempts,
	       j.result_output, j.error_log, j.execution_time,
	       j.created_at, j.started_at, j.completed_at
	FROM jobs j
	LEFT JOIN users u ON j.submitter_id = u.id
	LEFT JOIN workers w ON j.worker_id = w.id`

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		j             types.Job
		submitterName sql.NullString
		workerID      sql.NullString
		workerName    sql.NullString
		status        string
		requirements  sql.NullString
		gpuRequired   int
		resultOutput  sql.NullString
		errorLog      sql.NullString
		execTime      sql.NullFloat64
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.Title, &j.SubmitterID, &submitterName, &workerID, &workerName,
		&status, &j.Priority, &j.Code,
		&requirements, &j.CPURequired, &j.RAMRequiredGb, &gpuRequired,
		&j.TimeoutSeconds, &j.CreditCost, &j.CreditReward, &j.Attempts,
		&resultOutput, &errorLog, &execTime,
		&j.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	j.SubmitterName = submitterName.String
	j.WorkerID = workerID.String
	j.WorkerName = workerName.String
	j.Status = types.JobStatus(status)
	j.Requirements = requirements.String
	j.GPURequired = gpuRequired != 0
	j.ResultOutput = resultOutput.String
	j.ErrorLog = errorLog.String
	j.ExecutionTime = execTime.Float64
	j.StartedAt = startedAt.Time
	j.CompletedAt = completedAt.Time
	return &j, nil
}

func (s *SQLStore) queryJobs(query string, args ...any) ([]*types.Job, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// QueueStats aggregates scheduler state for dashboards
func (s *SQLStore) QueueStats() (*types.QueueStats, error) {
	var st types.QueueStats
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM jobs WHERE status = 'pending'),
			(SELECT COUNT(*) FROM jobs WHERE status = 'running'),
			(SELECT COUNT(*) FROM jobs WHERE status = 'completed'),
			(SELECT COUNT(*) FROM jobs WHERE status = 'failed'),
			(SELECT COUNT(*) FROM workers WHERE status IN ('online','busy'))`,
	).Scan(&st.Pending, &st.Running, &st.Completed, &st.Failed, &st.OnlineWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	return &st, nil
}

// ==================== Audit ====================

// LogActivity appends an audit event
func (s *SQLStore) LogActivity(eventType, actorID, details string) error {
	_, err := s.db.Exec(
		`INSERT INTO activity_logs (event_type, actor_id, details, created_at) VALUES (?, ?, ?, ?)`,
		eventType, nullStr(actorID), details, time.Now().UTC(),
	)
	return err
}

// RecentActivity returns the newest audit events
func (s *SQLStore) RecentActivity(limit int) ([]types.Activity, error) {
	rows, err := s.db.Query(
		`SELECT id, event_type, actor_id, details, created_at
		 FROM activity_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var events []types.Activity
	for rows.Next() {
		var (
			a       types.Activity
			actorID sql.NullString
			details sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.EventType, &actorID, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ActorID = actorID.String
		a.Details = details.String
		events = append(events, a)
	}
	return events, rows.Err()
}

// logActivity is the best-effort internal variant; failures only log
func (s *SQLStore) logActivity(eventType, actorID, details string) {
	if err := s.LogActivity(eventType, actorID, details); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to record activity")
	}
}

// ==================== helpers ====================

func (s *SQLStore) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
