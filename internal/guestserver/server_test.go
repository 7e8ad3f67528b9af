package guestserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/neurovisor/neurovisor/internal/execproto"
)

// runRequest drives one handleConn invocation over an in-memory pipe and
// collects every chunk emitted until Final.
func runRequest(t *testing.T, req *execproto.ExecuteRequest) []*execproto.ExecuteChunk {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	s := New(nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.handleConn(context.Background(), serverConn)
	}()

	if err := execproto.WriteRequest(clientConn, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	var chunks []*execproto.ExecuteChunk
	for {
		c, err := execproto.ReadChunk(clientConn)
		if err != nil {
			break
		}
		chunks = append(chunks, c)
		if c.Kind == execproto.ChunkFinal {
			break
		}
	}
	clientConn.Close()
	<-done
	return chunks
}

func TestHandleConn_EmptyCodeReturnsImmediateFinal(t *testing.T) {
	chunks := runRequest(t, &execproto.ExecuteRequest{Language: execproto.LangBash, Code: "   "})
	if len(chunks) != 1 || chunks[0].Kind != execproto.ChunkFinal {
		t.Fatalf("chunks = %+v, want exactly one Final chunk", chunks)
	}
	if chunks[0].ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", chunks[0].ExitCode)
	}
}

func TestHandleConn_UnknownLanguageReturnsImmediateFinal(t *testing.T) {
	chunks := runRequest(t, &execproto.ExecuteRequest{Language: "cobol", Code: "DISPLAY 'hi'"})
	if len(chunks) != 1 || chunks[0].Kind != execproto.ChunkFinal {
		t.Fatalf("chunks = %+v, want exactly one Final chunk", chunks)
	}
	if chunks[0].ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", chunks[0].ExitCode)
	}
}

func TestHandleConn_BashEchoStreamsStdoutThenFinal(t *testing.T) {
	chunks := runRequest(t, &execproto.ExecuteRequest{
		Language: execproto.LangBash, Code: "echo hello", TimeoutSecs: 5,
	})

	resp, err := execproto.AggregateChunks(chunks)
	if err != nil {
		t.Fatalf("AggregateChunks: %v", err)
	}
	if resp.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", resp.Stdout, "hello\n")
	}
	if resp.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", resp.ExitCode)
	}
	if resp.TimedOut {
		t.Error("TimedOut = true, want false")
	}
}

func TestHandleConn_NonZeroExitCodeIsPropagated(t *testing.T) {
	chunks := runRequest(t, &execproto.ExecuteRequest{
		Language: execproto.LangBash, Code: "exit 7", TimeoutSecs: 5,
	})
	resp, err := execproto.AggregateChunks(chunks)
	if err != nil {
		t.Fatalf("AggregateChunks: %v", err)
	}
	if resp.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", resp.ExitCode)
	}
}

// TestHandleConn_TimeoutKillsChildBeforeFinal is spec.md §4.6/§8 scenario
// 3: a command that outlives its timeout must be killed, and the stream
// must still terminate with exactly one Final chunk marked TimedOut.
func TestHandleConn_TimeoutKillsChildBeforeFinal(t *testing.T) {
	start := time.Now()
	chunks := runRequest(t, &execproto.ExecuteRequest{
		Language: execproto.LangBash, Code: "sleep 5", TimeoutSecs: 1,
	})
	elapsed := time.Since(start)

	if elapsed > 4*time.Second {
		t.Fatalf("took %v, want termination shortly after the 1s timeout (child must be killed)", elapsed)
	}

	resp, err := execproto.AggregateChunks(chunks)
	if err != nil {
		t.Fatalf("AggregateChunks: %v", err)
	}
	if !resp.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if resp.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", resp.ExitCode)
	}
}

func TestHandleConn_StderrIsCapturedSeparately(t *testing.T) {
	chunks := runRequest(t, &execproto.ExecuteRequest{
		Language: execproto.LangBash, Code: "echo oops 1>&2", TimeoutSecs: 5,
	})
	resp, err := execproto.AggregateChunks(chunks)
	if err != nil {
		t.Fatalf("AggregateChunks: %v", err)
	}
	if resp.Stderr != "oops\n" {
		t.Errorf("Stderr = %q, want %q", resp.Stderr, "oops\n")
	}
}
