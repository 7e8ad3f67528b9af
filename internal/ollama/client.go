// Package ollama is a client for Ollama's /api/chat and /api/generate
// endpoints, ported from original_source's ollama/client.rs and
// ollama/tool_use.rs. Follows the teacher's net/http client convention
// (see internal/versions/pypi.go in the examples pack) rather than
// pulling in an HTTP client library the examples pack doesn't use.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPClient is the client used for Ollama requests. Exported for test
// overrides.
var HTTPClient = http.DefaultClient

// Client talks to a single Ollama server.
type Client struct {
	BaseURL string
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

// GenerateResponse is the terminal metadata chunk of a /api/generate
// stream.
type GenerateResponse struct {
	Response        string
	EvalCount       uint32
	PromptEvalCount uint32
	EvalDurationNs  uint64
}

type generateChunk struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	EvalCount       uint32 `json:"eval_count"`
	PromptEvalCount uint32 `json:"prompt_eval_count"`
	EvalDuration    uint64 `json:"eval_duration"`
}

// Generate performs a non-streaming-to-the-caller call against
// /api/generate, internally consuming Ollama's NDJSON stream and
// accumulating the full response text.
func (c *Client) Generate(ctx context.Context, prompt, model, traceID string) (*GenerateResponse, error) {
	body, _ := json.Marshal(map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": true,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama generate: status %d", resp.StatusCode)
	}

	out := &GenerateResponse{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		out.Response += chunk.Response
		if chunk.Done {
			out.EvalCount = chunk.EvalCount
			out.PromptEvalCount = chunk.PromptEvalCount
			out.EvalDurationNs = chunk.EvalDuration
		}
	}
	return out, scanner.Err()
}

// StreamToken is delivered to a GenerateStream caller's onChunk callback for
// each token, with a final call carrying done=true and the metadata.
type StreamToken struct {
	Token string
	Done  bool
	Final *GenerateResponse
}

// GenerateStream is the streaming counterpart of Generate, invoking
// onChunk for every token as it arrives.
func (c *Client) GenerateStream(ctx context.Context, prompt, model, traceID string, onChunk func(StreamToken)) error {
	body, _ := json.Marshal(map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": true,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama generate stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama generate stream: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Done {
			onChunk(StreamToken{Done: true, Final: &GenerateResponse{
				Response:        chunk.Response,
				EvalCount:       chunk.EvalCount,
				PromptEvalCount: chunk.PromptEvalCount,
				EvalDurationNs:  chunk.EvalDuration,
			}})
		} else {
			onChunk(StreamToken{Token: chunk.Response})
		}
	}
	return scanner.Err()
}
