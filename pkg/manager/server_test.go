package manager

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgrid/campusgrid/pkg/protocol"
	"github.com/campusgrid/campusgrid/pkg/types"
)

func startTestServer(t *testing.T) (*Server, *Manager) {
	t.Helper()

	m := newTestManager(t)
	cfg := m.cfg
	cfg.Host = "127.0.0.1"
	cfg.Port = 0 // ephemeral

	srv := NewServer(m, cfg)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv, m
}

func dialTestServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func registerOverWire(t *testing.T, conn net.Conn, ownerToken string) string {
	t.Helper()

	require.NoError(t, protocol.Write(conn, &protocol.Message{
		Type:       protocol.TypeRegister,
		Name:       "wire-worker",
		OwnerToken: ownerToken,
		Specs:      &types.Specs{CPUCores: 4, CPUModel: "test", RAMGb: 8},
	}))

	reply, err := protocol.Read(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeRegistered, reply.Type)
	require.NotEmpty(t, reply.WorkerID)
	return reply.WorkerID
}

func TestSessionRegisterAndNoJob(t *testing.T) {
	srv, m := startTestServer(t)
	conn := dialTestServer(t, srv)

	workerID := registerOverWire(t, conn, "")

	_, ok := m.Registry().Get(workerID)
	assert.True(t, ok)

	require.NoError(t, protocol.Write(conn, &protocol.Message{
		Type:     protocol.TypeRequestJob,
		WorkerID: workerID,
	}))
	reply, err := protocol.Read(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeNoJob, reply.Type)
}

func TestSessionFullJobCycle(t *testing.T) {
	srv, m := startTestServer(t)

	user, err := m.Store().CreateUser("alice", "x", "", types.RoleUser)
	require.NoError(t, err)
	submitted, err := m.SubmitJob(types.JobRequest{
		Title: "wire job", SubmitterID: user.ID, Code: "print('hi')",
		Requirements: "numpy", CPURequired: 1, RAMRequiredGb: 1,
		TimeoutSeconds: 120, Priority: 5,
	})
	require.NoError(t, err)

	conn := dialTestServer(t, srv)
	workerID := registerOverWire(t, conn, "alice")

	// request: the queued job comes back with everything needed to run it
	require.NoError(t, protocol.Write(conn, &protocol.Message{
		Type:     protocol.TypeRequestJob,
		WorkerID: workerID,
	}))
	job, err := protocol.Read(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeJob, job.Type)
	assert.Equal(t, submitted.ID, job.JobID)
	assert.Equal(t, "print('hi')", job.Code)
	assert.Equal(t, "numpy", job.Requirements)
	assert.Equal(t, 120, job.Timeout)
	assert.Equal(t, submitted.CreditReward, job.CreditReward)

	// result: ack comes back and the job is terminal in the store
	require.NoError(t, protocol.Write(conn, &protocol.Message{
		Type:          protocol.TypeJobResult,
		JobID:         job.JobID,
		WorkerID:      workerID,
		Success:       true,
		Output:        "hi\n",
		ExecutionTime: 0.4,
	}))
	ack, err := protocol.Read(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeJobReceived, ack.Type)
	assert.Equal(t, job.JobID, ack.JobID)

	done, err := m.Store().GetJob(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, done.Status)
	assert.Equal(t, "hi\n", done.ResultOutput)

	// the owner earned the reward
	owner, err := m.Store().GetUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 100-submitted.CreditCost+submitted.CreditReward, owner.Credits)
}

func TestSessionRejectsUnregisteredOpen(t *testing.T) {
	srv, _ := startTestServer(t)
	conn := dialTestServer(t, srv)

	// first frame is not register; server hangs up
	require.NoError(t, protocol.Write(conn, &protocol.Message{
		Type:     protocol.TypeHeartbeat,
		WorkerID: "w1",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := protocol.Read(conn)
	assert.Error(t, err)
}

func TestSessionMalformedFrameDropsConnection(t *testing.T) {
	srv, m := startTestServer(t)
	conn := dialTestServer(t, srv)

	workerID := registerOverWire(t, conn, "")

	_, err := conn.Write([]byte("garbage-not-a-header"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err, "server drops the connection")

	// teardown ran: the worker left the live table
	assert.Eventually(t, func() bool {
		_, ok := m.Registry().Get(workerID)
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSessionDisconnectMessage(t *testing.T) {
	srv, m := startTestServer(t)
	conn := dialTestServer(t, srv)

	workerID := registerOverWire(t, conn, "")

	require.NoError(t, protocol.Write(conn, &protocol.Message{
		Type: protocol.TypeDisconnect,
	}))

	assert.Eventually(t, func() bool {
		w, err := m.Store().GetWorker(workerID)
		return err == nil && w.Status == types.WorkerStatusOffline
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSessionHeartbeatRefreshesLiveness(t *testing.T) {
	srv, m := startTestServer(t)
	conn := dialTestServer(t, srv)

	workerID := registerOverWire(t, conn, "")

	require.NoError(t, protocol.Write(conn, &protocol.Message{
		Type:     protocol.TypeHeartbeat,
		WorkerID: workerID,
	}))

	// heartbeat persists liveness to the durable record
	assert.Eventually(t, func() bool {
		w, err := m.Store().GetWorker(workerID)
		return err == nil && w.Status == types.WorkerStatusOnline &&
			time.Since(w.LastHeartbeat) < time.Minute
	}, 2*time.Second, 20*time.Millisecond)
}
