package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/neurovisor/neurovisor/internal/vm"
)

// AgentFunc runs one agent task against the daemon's pool and returns
// its final response text.
type AgentFunc func(ctx context.Context, task string) (string, error)

// Server accepts control-socket connections and answers "status"/"agent"
// requests against a running pool, mirroring the teacher's pool daemon's
// accept loop (pool_linux.go's handleConn) but over one shared socket
// instead of per-request sockets.
type Server struct {
	pool  *vm.Pool
	agent AgentFunc
	log   *log.Entry
}

func NewServer(pool *vm.Pool, agent AgentFunc) *Server {
	return &Server{pool: pool, agent: agent, log: log.WithField("component", "control")}
}

// Serve listens on socketPath until ctx is canceled. The socket file is
// removed first if stale, and removed again on shutdown.
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	defer os.Remove(socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.WithError(err).Warn("accept failed")
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.reply(conn, &Response{Type: "error", Error: err.Error()})
		return
	}

	switch req.Type {
	case "status":
		stats := s.pool.Stats()
		s.reply(conn, &Response{Type: "status", Status: &stats})
	case "agent":
		if s.agent == nil {
			s.reply(conn, &Response{Type: "error", Error: "agent not enabled on this daemon"})
			return
		}
		result, err := s.agent(ctx, req.Task)
		if err != nil {
			s.reply(conn, &Response{Type: "error", Error: err.Error()})
			return
		}
		s.reply(conn, &Response{Type: "agent_result", Result: result})
	default:
		s.reply(conn, &Response{Type: "error", Error: "unknown request type: " + req.Type})
	}
}

func (s *Server) reply(conn net.Conn, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	conn.Write(data)
}
