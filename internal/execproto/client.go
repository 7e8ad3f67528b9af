package execproto

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/neurovisor/neurovisor/internal/vsockconn"
)

// ConnectionFailed wraps any non-handshake transport error encountered
// while talking to the guest execution server.
type ConnectionFailed struct {
	Err error
}

func (e *ConnectionFailed) Error() string { return fmt.Sprintf("connection failed: %v", e.Err) }
func (e *ConnectionFailed) Unwrap() error  { return e.Err }

// Client drives the Execute/ExecuteStream RPCs over a freshly
// handshaken vsock connection. Grounded on original_source's
// ExecutionClient (connect_with_retry/execute/execute_streaming).
type Client struct {
	VsockPath  string
	GuestPort  uint32
	Retries    int
	RetryDelay time.Duration
}

func NewClient(vsockPath string, guestPort uint32) *Client {
	return &Client{
		VsockPath:  vsockPath,
		GuestPort:  guestPort,
		Retries:    vsockconn.DefaultRetries,
		RetryDelay: vsockconn.DefaultRetryDelay,
	}
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	conn, err := vsockconn.DialWithRetry(ctx, c.VsockPath, c.GuestPort, c.Retries, c.RetryDelay)
	if err != nil {
		return nil, err // *vsockconn.HandshakeError surfaces directly
	}
	return conn, nil
}

// Execute performs the unary RPC: send ExecuteRequest, then consume the
// server's chunk stream and aggregate it into a single ExecuteResponse.
// The guest execution server only ever speaks the streaming form (§4.6);
// per spec.md §4.5, "the client aggregates them into a StreamingResult
// identical in shape to the unary response" — so the unary call is this
// aggregation wrapped around ExecuteStream, not a separate wire form.
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	var chunks []*ExecuteChunk
	if err := c.ExecuteStream(ctx, req, func(chunk *ExecuteChunk) {
		chunks = append(chunks, chunk)
	}); err != nil {
		return nil, err
	}
	resp, err := AggregateChunks(chunks)
	if err != nil {
		return nil, &ConnectionFailed{Err: err}
	}
	return resp, nil
}

// ExecuteStream performs the streaming RPC, invoking onChunk for each
// ExecuteChunk as it arrives. The Final chunk is also passed to onChunk
// and is guaranteed to be the last invocation.
func (c *Client) ExecuteStream(ctx context.Context, req *ExecuteRequest, onChunk func(*ExecuteChunk)) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Duration(req.TimeoutSecs)*time.Second + 5*time.Second)
	conn.SetDeadline(deadline)

	if err := WriteRequest(conn, req); err != nil {
		return &ConnectionFailed{Err: err}
	}

	for {
		chunk, err := ReadChunk(conn)
		if err != nil {
			return &ConnectionFailed{Err: err}
		}
		onChunk(chunk)
		if chunk.Kind == ChunkFinal {
			return nil
		}
	}
}
