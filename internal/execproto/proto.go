// Package execproto defines the Execute/ExecuteStream RPC contract carried
// over the post-handshake vsock stream, and a length-prefixed JSON framing
// for it. See DESIGN.md's internal/execproto entry for why this repo
// implements spec.md's "gRPC-style" wording as framed JSON rather than
// generated protobuf/gRPC stubs.
package execproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Language tags accepted by ExecuteRequest.
const (
	LangPython     = "python"
	LangBash       = "bash"
	LangJavaScript = "javascript"
	LangGo         = "go"
	LangRust       = "rust"
)

var validLanguages = map[string]bool{
	LangPython: true, LangBash: true, LangJavaScript: true, LangGo: true, LangRust: true,
}

func ValidLanguage(lang string) bool { return validLanguages[lang] }

// ExecuteRequest is the unary/streaming request payload.
type ExecuteRequest struct {
	Language    string            `json:"language"`
	Code        string            `json:"code"`
	TimeoutSecs uint32            `json:"timeout_secs"`
	Env         map[string]string `json:"env,omitempty"`
}

// ExecuteResponse is the unary response, and the shape aggregated
// StreamingResults present to unary callers.
type ExecuteResponse struct {
	Stdout     string  `json:"stdout"`
	Stderr     string  `json:"stderr"`
	ExitCode   int32   `json:"exit_code"`
	DurationMs float64 `json:"duration_ms"`
	TimedOut   bool    `json:"timed_out"`
}

// ChunkKind tags an ExecuteChunk's payload.
type ChunkKind string

const (
	ChunkStdoutLine ChunkKind = "stdout_line"
	ChunkStderrLine ChunkKind = "stderr_line"
	ChunkFinal      ChunkKind = "final"
)

// ExecuteChunk is one frame of a streaming execution. Final MUST appear
// exactly once and be the last element (spec.md §3/§5/P5).
type ExecuteChunk struct {
	Kind       ChunkKind `json:"kind"`
	Line       string    `json:"line,omitempty"`
	ExitCode   int32     `json:"exit_code,omitempty"`
	DurationMs float64   `json:"duration_ms,omitempty"`
	TimedOut   bool      `json:"timed_out,omitempty"`
}

// frameEnvelope lets a single length-prefixed frame carry either an
// ExecuteRequest (client->server, sent once) or an ExecuteChunk / final
// ExecuteResponse (server->client).
type frameEnvelope struct {
	Request  *ExecuteRequest  `json:"request,omitempty"`
	Response *ExecuteResponse `json:"response,omitempty"`
	Chunk    *ExecuteChunk    `json:"chunk,omitempty"`
}

const maxFrameBytes = 16 * 1024 * 1024

func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readFrame(r io.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > maxFrameBytes {
		return fmt.Errorf("execproto: frame length %d out of bounds", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// WriteRequest sends an ExecuteRequest frame.
func WriteRequest(w io.Writer, req *ExecuteRequest) error {
	return writeFrame(w, frameEnvelope{Request: req})
}

// ReadRequest reads a single ExecuteRequest frame.
func ReadRequest(r io.Reader) (*ExecuteRequest, error) {
	var env frameEnvelope
	if err := readFrame(r, &env); err != nil {
		return nil, err
	}
	if env.Request == nil {
		return nil, fmt.Errorf("execproto: expected request frame")
	}
	return env.Request, nil
}

// WriteResponse sends a unary ExecuteResponse frame.
func WriteResponse(w io.Writer, resp *ExecuteResponse) error {
	return writeFrame(w, frameEnvelope{Response: resp})
}

// ReadResponse reads a single unary ExecuteResponse frame.
func ReadResponse(r io.Reader) (*ExecuteResponse, error) {
	var env frameEnvelope
	if err := readFrame(r, &env); err != nil {
		return nil, err
	}
	if env.Response == nil {
		return nil, fmt.Errorf("execproto: expected response frame")
	}
	return env.Response, nil
}

// WriteChunk sends one streaming ExecuteChunk frame.
func WriteChunk(w io.Writer, chunk *ExecuteChunk) error {
	return writeFrame(w, frameEnvelope{Chunk: chunk})
}

// ReadChunk reads one streaming ExecuteChunk frame.
func ReadChunk(r io.Reader) (*ExecuteChunk, error) {
	var env frameEnvelope
	if err := readFrame(r, &env); err != nil {
		return nil, err
	}
	if env.Chunk == nil {
		return nil, fmt.Errorf("execproto: expected chunk frame")
	}
	return env.Chunk, nil
}

// AggregateChunks folds a chunk stream into the unary response shape, for
// callers of ExecuteStream that want one final result (spec.md §4.5's
// StreamingResult).
func AggregateChunks(chunks []*ExecuteChunk) (*ExecuteResponse, error) {
	resp := &ExecuteResponse{}
	var stdout, stderr []byte
	sawFinal := false
	for _, c := range chunks {
		switch c.Kind {
		case ChunkStdoutLine:
			stdout = append(stdout, c.Line...)
			stdout = append(stdout, '\n')
		case ChunkStderrLine:
			stderr = append(stderr, c.Line...)
			stderr = append(stderr, '\n')
		case ChunkFinal:
			resp.ExitCode = c.ExitCode
			resp.DurationMs = c.DurationMs
			resp.TimedOut = c.TimedOut
			sawFinal = true
		}
	}
	if !sawFinal {
		return nil, fmt.Errorf("execproto: stream did not terminate with a final chunk")
	}
	resp.Stdout = string(stdout)
	resp.Stderr = string(stderr)
	return resp, nil
}
