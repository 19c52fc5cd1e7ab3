package worker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusgrid/campusgrid/pkg/config"
	"github.com/campusgrid/campusgrid/pkg/log"
	"github.com/campusgrid/campusgrid/pkg/protocol"
	"github.com/campusgrid/campusgrid/pkg/sandbox"
	"github.com/campusgrid/campusgrid/pkg/sysinfo"
	"github.com/campusgrid/campusgrid/pkg/types"
)

const (
	// idleBackoff is how long the worker waits after a no_job reply
	idleBackoff = 5 * time.Second

	// defaultJobTimeout applies when a dispatched job carries none
	defaultJobTimeout = 300
)

// jobRunner abstracts the sandbox for testing
type jobRunner interface {
	Execute(ctx context.Context, code, requirements string, timeout time.Duration) types.ExecutionResult
}

// Worker is the client side of the grid: it probes its hardware, registers
// with the manager, and then loops requesting, running and reporting jobs.
// Heartbeats run on their own goroutine; all socket writes are serialized.
type Worker struct {
	cfg      config.Worker
	executor jobRunner
	specs    types.Specs
	logger   zerolog.Logger

	conn     net.Conn
	writeMu  sync.Mutex
	workerID string
}

// New creates a Worker, probing hardware and the Docker daemon once
func New(cfg config.Worker) *Worker {
	return &Worker{
		cfg: cfg,
		executor: sandbox.New(sandbox.Config{
			UseDocker:     cfg.UseDocker,
			Image:         cfg.DockerImage,
			MemoryLimitMB: int64(cfg.DockerMemoryMB),
			PidsLimit:     200,
		}),
		specs:  sysinfo.Probe(),
		logger: log.WithComponent("worker"),
	}
}

// Run connects, registers and serves jobs until ctx is cancelled or the
// connection dies. On cancellation it sends a best-effort disconnect so the
// manager can requeue immediately instead of waiting out the heartbeat
// timeout.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.connect(); err != nil {
		return err
	}
	defer w.conn.Close()

	w.logger.Info().Str("worker_id", w.workerID).
		Int("cpu_cores", w.specs.CPUCores).Float64("ram_gb", w.specs.RAMGb).
		Str("gpu", w.specs.GPUName).Bool("docker", w.specs.HasDocker).
		Msg("registered with manager")

	hbCtx, cancelHb := context.WithCancel(ctx)
	defer cancelHb()
	go w.heartbeatLoop(hbCtx)

	err := w.jobLoop(ctx)
	if ctx.Err() != nil {
		w.disconnect()
		return nil
	}
	return err
}

// connect dials the manager and performs the registration handshake
func (w *Worker) connect() error {
	conn, err := net.DialTimeout("tcp", w.cfg.ManagerAddr(), 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to manager at %s: %w", w.cfg.ManagerAddr(), err)
	}

	specs := w.specs
	err = protocol.Write(conn, &protocol.Message{
		Type:       protocol.TypeRegister,
		Name:       w.cfg.Name,
		OwnerToken: w.cfg.OwnerToken,
		Specs:      &specs,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to send registration: %w", err)
	}

	reply, err := protocol.Read(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read registration reply: %w", err)
	}
	if reply.Type != protocol.TypeRegistered {
		conn.Close()
		return fmt.Errorf("registration rejected: got %q", reply.Type)
	}

	w.conn = conn
	w.workerID = reply.WorkerID
	return nil
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := w.write(&protocol.Message{
				Type:     protocol.TypeHeartbeat,
				WorkerID: w.workerID,
				Status:   "idle",
			})
			if err != nil {
				w.logger.Warn().Err(err).Msg("heartbeat send failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// jobLoop is the main request/execute/report cycle. Replies are only ever
// read here, so reads never race the heartbeat goroutine.
func (w *Worker) jobLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := w.write(&protocol.Message{
			Type:     protocol.TypeRequestJob,
			WorkerID: w.workerID,
		})
		if err != nil {
			return fmt.Errorf("failed to request job: %w", err)
		}

		reply, err := protocol.Read(w.conn)
		if err != nil {
			return fmt.Errorf("lost connection to manager: %w", err)
		}

		switch reply.Type {
		case protocol.TypeJob:
			if err := w.runJob(ctx, reply); err != nil {
				return err
			}
		case protocol.TypeNoJob:
			if !sleepCtx(ctx, idleBackoff) {
				return nil
			}
		default:
			w.logger.Warn().Str("type", string(reply.Type)).Msg("unexpected reply to job request")
			if !sleepCtx(ctx, 2*time.Second) {
				return nil
			}
		}
	}
}

func (w *Worker) runJob(ctx context.Context, job *protocol.Message) error {
	timeout := clampTimeout(job.Timeout, w.cfg.MaxJobTimeout)
	w.logger.Info().Str("job_id", job.JobID).Str("title", job.Title).
		Dur("timeout", timeout).Msg("executing job")

	start := time.Now()
	result := w.executor.Execute(ctx, job.Code, job.Requirements, timeout)
	elapsed := time.Since(start).Seconds()

	w.logger.Info().Str("job_id", job.JobID).Bool("success", result.Success).
		Float64("execution_time", elapsed).Int("files", len(result.Files)).
		Msg("job finished")

	err := w.write(&protocol.Message{
		Type:          protocol.TypeJobResult,
		JobID:         job.JobID,
		WorkerID:      w.workerID,
		Success:       result.Success,
		Output:        result.Output,
		Error:         result.Error,
		Files:         result.Files,
		ExecutionTime: elapsed,
	})
	if err != nil {
		return fmt.Errorf("failed to send job result: %w", err)
	}

	// the manager acks before we ask for more work
	ack, err := protocol.Read(w.conn)
	if err != nil {
		return fmt.Errorf("failed to read result ack: %w", err)
	}
	if ack.Type != protocol.TypeJobReceived {
		w.logger.Warn().Str("type", string(ack.Type)).Msg("unexpected result ack")
	}
	return nil
}

// disconnect tells the manager we are leaving; errors are irrelevant since
// the socket is going away either way
func (w *Worker) disconnect() {
	_ = w.write(&protocol.Message{Type: protocol.TypeDisconnect})
	w.logger.Info().Msg("disconnected from manager")
}

func (w *Worker) write(msg *protocol.Message) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return protocol.Write(w.conn, msg)
}

// clampTimeout bounds a job's timeout to the worker's configured maximum
func clampTimeout(jobTimeout, maxTimeout int) time.Duration {
	t := jobTimeout
	if t <= 0 {
		t = defaultJobTimeout
	}
	if maxTimeout > 0 && t > maxTimeout {
		t = maxTimeout
	}
	return time.Duration(t) * time.Second
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
