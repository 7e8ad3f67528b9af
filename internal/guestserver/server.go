package guestserver

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/neurovisor/neurovisor/internal/execproto"
)

// Server accepts connections (vsock in production, a Unix/loopback
// listener in tests — the wire contract is identical either way) and
// serves the Execute/ExecuteStream RPCs for each.
type Server struct {
	Listener net.Listener
	Log      *log.Entry
}

func New(listener net.Listener) *Server {
	return &Server{Listener: listener, Log: log.WithField("component", "guestserver")}
}

func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	req, err := execproto.ReadRequest(conn)
	if err != nil {
		return
	}

	if strings.TrimSpace(req.Code) == "" {
		execproto.WriteChunk(conn, &execproto.ExecuteChunk{Kind: execproto.ChunkFinal, ExitCode: -1})
		return
	}
	if !execproto.ValidLanguage(req.Language) {
		s.Log.Warnf("unknown language %q", req.Language)
		execproto.WriteChunk(conn, &execproto.ExecuteChunk{Kind: execproto.ChunkFinal, ExitCode: -1})
		return
	}

	timeout := time.Duration(req.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.runStreaming(execCtx, conn, req)
}

// runStreaming executes req's code, emitting StdoutLine/StderrLine chunks
// as they arrive and terminating with exactly one Final chunk, killing
// the child before Final on timeout (spec.md §4.6).
func (s *Server) runStreaming(ctx context.Context, conn net.Conn, req *execproto.ExecuteRequest) {
	start := time.Now()

	cmd, cleanup, err := command(ctx, req.Language, req.Code)
	defer cleanup()
	if err != nil {
		execproto.WriteChunk(conn, &execproto.ExecuteChunk{
			Kind: execproto.ChunkFinal, ExitCode: -1, DurationMs: msSince(start),
		})
		return
	}

	env := os.Environ()
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	stdoutPipe, _ := cmd.StdoutPipe()
	stderrPipe, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		execproto.WriteChunk(conn, &execproto.ExecuteChunk{
			Kind: execproto.ChunkFinal, ExitCode: -1, DurationMs: msSince(start),
		})
		return
	}

	lines := make(chan execproto.ExecuteChunk, 64)
	var readers sync.WaitGroup
	readers.Add(2)

	readLines := func(r io.Reader, kind execproto.ChunkKind) {
		defer readers.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- execproto.ExecuteChunk{Kind: kind, Line: scanner.Text()}
		}
	}
	go readLines(stdoutPipe, execproto.ChunkStdoutLine)
	go readLines(stderrPipe, execproto.ChunkStderrLine)

	done := make(chan struct{})
	go func() {
		readers.Wait()
		close(done)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for c := range lines {
			execproto.WriteChunk(conn, &c)
		}
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	timedOut := false
	var exitCode int32

	select {
	case <-ctx.Done():
		timedOut = true
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-waitErr
		exitCode = -1
	case err := <-waitErr:
		exitCode = exitCodeOf(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	close(lines)

	// Wait for the writer goroutine to drain every buffered chunk before
	// sending Final, so no stdout/stderr line can ever be written after it
	// (the two goroutines must never write to conn concurrently either).
	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
	}

	execproto.WriteChunk(conn, &execproto.ExecuteChunk{
		Kind:       execproto.ChunkFinal,
		ExitCode:   exitCode,
		DurationMs: msSince(start),
		TimedOut:   timedOut,
	})
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func exitCodeOf(err error) int32 {
	if err == nil {
		return 0
	}
	if ee, ok := err.(interface{ ExitCode() int }); ok {
		return int32(ee.ExitCode())
	}
	return -1
}
