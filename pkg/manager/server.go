package manager

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusgrid/campusgrid/pkg/config"
	"github.com/campusgrid/campusgrid/pkg/log"
	"github.com/campusgrid/campusgrid/pkg/metrics"
	"github.com/campusgrid/campusgrid/pkg/protocol"
	"github.com/campusgrid/campusgrid/pkg/store"
)

// Server accepts worker connections and runs one session per connection.
// A session must open with a register message; after that it serves
// heartbeats, job requests and job results until the socket closes, the
// read deadline expires, or a malformed frame arrives.
type Server struct {
	mgr      *Manager
	cfg      config.Manager
	listener net.Listener
	logger   zerolog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a Server for the given manager
func NewServer(mgr *Manager, cfg config.Manager) *Server {
	return &Server{
		mgr:    mgr,
		cfg:    cfg,
		logger: log.WithComponent("server"),
		stopCh: make(chan struct{}),
	}
}

// Start binds the listener and begins accepting workers
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("listening for workers")
	metrics.RegisterComponent("server", true, "listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener and waits for sessions to finish
func (s *Server) Stop() {
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	metrics.WorkerConnections.Inc()
	defer metrics.WorkerConnections.Dec()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
	}

	remote := conn.RemoteAddr().String()

	// session opens with registration; anything else drops the connection
	msg, err := s.readMessage(conn)
	if err != nil || msg.Type != protocol.TypeRegister {
		s.logger.Debug().Str("remote", remote).Err(err).Msg("connection closed before registration")
		return
	}

	worker, err := s.mgr.RegisterWorker(msg.Name, msg.OwnerToken, remote, *msg.Specs, conn)
	if err != nil {
		s.logger.Error().Err(err).Str("remote", remote).Msg("registration failed")
		return
	}
	workerID := worker.ID

	err = protocol.Write(conn, &protocol.Message{
		Type:     protocol.TypeRegistered,
		WorkerID: workerID,
		Message:  fmt.Sprintf("Welcome %s!", msg.Name),
	})
	if err != nil {
		s.mgr.DisconnectWorker(workerID, "failed to send registration ack")
		return
	}

	reason := s.serve(conn, workerID)
	s.mgr.DisconnectWorker(workerID, reason)
}

// serve runs the post-registration message loop, returning the reason the
// session ended.
func (s *Server) serve(conn net.Conn, workerID string) string {
	for {
		msg, err := s.readMessage(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return "connection closed"
			case isTimeout(err):
				return "session timeout"
			default:
				// malformed frame or unknown type; drop the connection
				s.logger.Warn().Err(err).Str("worker_id", workerID).Msg("protocol error")
				return "protocol error"
			}
		}

		metrics.MessagesReceived.WithLabelValues(string(msg.Type)).Inc()

		switch msg.Type {
		case protocol.TypeHeartbeat:
			s.mgr.Heartbeat(workerID)

		case protocol.TypeRequestJob:
			if err := s.handleJobRequest(conn, workerID); err != nil {
				return "write failed"
			}

		case protocol.TypeJobResult:
			if err := s.handleJobResult(conn, workerID, msg); err != nil {
				return "write failed"
			}

		case protocol.TypeDisconnect:
			return "worker disconnect"

		default:
			// valid frame but meaningless mid-session (register, no_job, ...)
			s.logger.Warn().Str("worker_id", workerID).
				Str("type", string(msg.Type)).Msg("unexpected message in session")
		}
	}
}

func (s *Server) handleJobRequest(conn net.Conn, workerID string) error {
	job, err := s.mgr.NextJob(workerID)
	if err != nil {
		if !errors.Is(err, store.ErrNoJob) {
			s.logger.Error().Err(err).Str("worker_id", workerID).Msg("dispatch failed")
		}
		return protocol.Write(conn, &protocol.Message{Type: protocol.TypeNoJob})
	}

	return protocol.Write(conn, &protocol.Message{
		Type:         protocol.TypeJob,
		JobID:        job.ID,
		Title:        job.Title,
		Code:         job.Code,
		Requirements: job.Requirements,
		Timeout:      job.TimeoutSeconds,
		CreditReward: job.CreditReward,
	})
}

func (s *Server) handleJobResult(conn net.Conn, workerID string, msg *protocol.Message) error {
	err := s.mgr.JobResult(workerID, msg.JobID, msg.Output, msg.Error,
		msg.Success, msg.ExecutionTime, msg.Files)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", msg.JobID).
			Str("worker_id", workerID).Msg("failed to record job result")
	}

	// the worker blocks on this ack before requesting its next job
	return protocol.Write(conn, &protocol.Message{
		Type:  protocol.TypeJobReceived,
		JobID: msg.JobID,
	})
}

func (s *Server) readMessage(conn net.Conn) (*protocol.Message, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.SessionTimeoutDuration())); err != nil {
		return nil, err
	}
	return protocol.Read(conn)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
