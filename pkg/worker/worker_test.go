package worker

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgrid/campusgrid/pkg/config"
	"github.com/campusgrid/campusgrid/pkg/log"
	"github.com/campusgrid/campusgrid/pkg/protocol"
	"github.com/campusgrid/campusgrid/pkg/types"
)

type stubRunner struct {
	mu      sync.Mutex
	code    string
	reqs    string
	timeout time.Duration
	result  types.ExecutionResult
}

func (s *stubRunner) Execute(ctx context.Context, code, requirements string, timeout time.Duration) types.ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
	s.reqs = requirements
	s.timeout = timeout
	return s.result
}

func newTestWorker(cfg config.Worker, runner jobRunner) *Worker {
	return &Worker{
		cfg:      cfg,
		executor: runner,
		specs:    types.Specs{CPUCores: 2, CPUModel: "test", RAMGb: 4},
		logger:   log.WithComponent("worker"),
	}
}

// fakeManager accepts one worker connection and runs a scripted session
type fakeManager struct {
	listener net.Listener
	received chan *protocol.Message
}

func newFakeManager(t *testing.T) *fakeManager {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	return &fakeManager{
		listener: listener,
		received: make(chan *protocol.Message, 32),
	}
}

func (f *fakeManager) cfg() config.Worker {
	cfg := config.Default().Worker
	addr := f.listener.Addr().(*net.TCPAddr)
	cfg.ManagerHost = "127.0.0.1"
	cfg.ManagerPort = addr.Port
	cfg.Name = "test-worker"
	return cfg
}

// serve handles registration then replies to each request_job from the
// script, acking job results in between
func (f *fakeManager) serve(t *testing.T, script []*protocol.Message) {
	t.Helper()
	go func() {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		msg, err := protocol.Read(conn)
		if err != nil || msg.Type != protocol.TypeRegister {
			return
		}
		f.received <- msg
		protocol.Write(conn, &protocol.Message{
			Type:     protocol.TypeRegistered,
			WorkerID: "w-test",
		})

		next := 0
		for {
			msg, err := protocol.Read(conn)
			if err != nil {
				return
			}
			f.received <- msg

			switch msg.Type {
			case protocol.TypeRequestJob:
				if next < len(script) {
					protocol.Write(conn, script[next])
					next++
				} else {
					protocol.Write(conn, &protocol.Message{Type: protocol.TypeNoJob})
				}
			case protocol.TypeJobResult:
				protocol.Write(conn, &protocol.Message{
					Type:  protocol.TypeJobReceived,
					JobID: msg.JobID,
				})
			}
		}
	}()
}

func (f *fakeManager) expect(t *testing.T, msgType protocol.MessageType) *protocol.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-f.received:
			if msg.Type == msgType {
				return msg
			}
			// skip interleaved heartbeats and such
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msgType)
			return nil
		}
	}
}

func TestWorkerRunsDispatchedJob(t *testing.T) {
	fm := newFakeManager(t)
	fm.serve(t, []*protocol.Message{{
		Type:         protocol.TypeJob,
		JobID:        "j1",
		Title:        "test job",
		Code:         "print('hi')",
		Requirements: "numpy",
		Timeout:      120,
	}})

	runner := &stubRunner{result: types.ExecutionResult{
		Success: true,
		Output:  "hi\n",
		Files:   []types.OutputFile{{Filename: "out.txt", Size: 3, Content: "YWJj"}},
	}}
	w := newTestWorker(fm.cfg(), runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	reg := fm.expect(t, protocol.TypeRegister)
	assert.Equal(t, "test-worker", reg.Name)
	require.NotNil(t, reg.Specs)
	assert.Equal(t, 2, reg.Specs.CPUCores)

	result := fm.expect(t, protocol.TypeJobResult)
	assert.Equal(t, "j1", result.JobID)
	assert.Equal(t, "w-test", result.WorkerID)
	assert.True(t, result.Success)
	assert.Equal(t, "hi\n", result.Output)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "out.txt", result.Files[0].Filename)
	assert.Greater(t, result.ExecutionTime, 0.0)

	runner.mu.Lock()
	assert.Equal(t, "print('hi')", runner.code)
	assert.Equal(t, "numpy", runner.reqs)
	assert.Equal(t, 120*time.Second, runner.timeout)
	runner.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean shutdown")
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestWorkerClampsJobTimeout(t *testing.T) {
	fm := newFakeManager(t)
	fm.serve(t, []*protocol.Message{{
		Type:    protocol.TypeJob,
		JobID:   "j1",
		Code:    "print(1)",
		Timeout: 7200, // far beyond the worker's cap
	}})

	runner := &stubRunner{result: types.ExecutionResult{Success: true}}
	cfg := fm.cfg()
	cfg.MaxJobTimeout = 600
	w := newTestWorker(cfg, runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	fm.expect(t, protocol.TypeJobResult)

	runner.mu.Lock()
	assert.Equal(t, 600*time.Second, runner.timeout)
	runner.mu.Unlock()
}

func TestWorkerSendsDisconnectOnCancel(t *testing.T) {
	fm := newFakeManager(t)
	fm.serve(t, nil) // no jobs, worker idles

	w := newTestWorker(fm.cfg(), &stubRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	fm.expect(t, protocol.TypeRequestJob)
	cancel()

	fm.expect(t, protocol.TypeDisconnect)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestWorkerConnectFailure(t *testing.T) {
	cfg := config.Default().Worker
	cfg.ManagerHost = "127.0.0.1"
	cfg.ManagerPort = 1 // nothing listens here

	w := newTestWorker(cfg, &stubRunner{})
	err := w.Run(context.Background())
	assert.Error(t, err)
}

func TestWorkerRegistrationRejected(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		protocol.Read(conn)
		// wrong reply type
		protocol.Write(conn, &protocol.Message{Type: protocol.TypeNoJob})
	}()

	cfg := config.Default().Worker
	addr := listener.Addr().(*net.TCPAddr)
	cfg.ManagerHost = "127.0.0.1"
	cfg.ManagerPort = addr.Port

	w := newTestWorker(cfg, &stubRunner{})
	err = w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registration rejected")
}

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		name     string
		job      int
		max      int
		expected time.Duration
	}{
		{"under cap", 120, 600, 120 * time.Second},
		{"over cap", 7200, 600, 600 * time.Second},
		{"zero uses default", 0, 600, 300 * time.Second},
		{"no cap", 7200, 0, 7200 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, clampTimeout(tt.job, tt.max))
		})
	}
}
