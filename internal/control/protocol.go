// Package control implements the daemon's control-socket protocol: a
// Unix domain socket speaking newline-delimited JSON, so "neurovisor
// pool status"/"neurovisor agent" can talk to an already-running
// "neurovisor serve" daemon. Ported from the teacher's
// pool_protocol.go/pool_client.go (PoolRequest/PoolResponse over a
// per-uid /tmp socket).
package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/neurovisor/neurovisor/internal/vm"
)

// Request is sent from a CLI invocation to the running daemon.
type Request struct {
	Type string `json:"type"` // "status", "agent"
	Task string `json:"task,omitempty"`
}

// Response is the daemon's reply.
type Response struct {
	Type   string        `json:"type"` // "status", "agent_result", "error"
	Status *vm.PoolStats `json:"status,omitempty"`
	Result string        `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Probe reports whether a daemon is listening at socketPath.
func Probe(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Call sends req to the daemon at socketPath and returns its Response.
func Call(socketPath string, req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to control socket: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Minute))

	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	reqBytes = append(reqBytes, '\n')
	if _, err := conn.Write(reqBytes); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	reader := bufio.NewReader(conn)
	respLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &resp, nil
}
