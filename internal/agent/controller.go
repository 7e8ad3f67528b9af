// Package agent implements the bounded-iteration LLM chat loop that
// drives code execution in sandboxed VMs, ported from original_source's
// agent/controller.rs.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/neurovisor/neurovisor/internal/execproto"
	"github.com/neurovisor/neurovisor/internal/ollama"
	"github.com/neurovisor/neurovisor/internal/vm"
)

// Config configures a Controller run.
type Config struct {
	Model                string
	MaxIterations        int
	ExecutionTimeoutSecs uint32
	SystemPrompt         string
	VsockPort            uint32
}

// DefaultConfig matches original_source's AgentConfig::default().
func DefaultConfig() Config {
	return Config{
		Model:                "qwen3",
		MaxIterations:        10,
		ExecutionTimeoutSecs: 30,
		VsockPort:            6000,
	}
}

// ExecutionRecord records one code execution performed during a run.
type ExecutionRecord struct {
	Language   string
	Code       string
	Stdout     string
	Stderr     string
	ExitCode   int32
	DurationMs float64
	TimedOut   bool
}

// Result is the outcome of a completed agent run.
type Result struct {
	FinalResponse    string
	Iterations       int
	ToolCallsMade    int
	ExecutionRecords []ExecutionRecord
	TraceID          string
}

// MaxIterationsReached is returned when a run exhausts its iteration
// budget without the model producing a final answer.
type MaxIterationsReached struct{}

func (e *MaxIterationsReached) Error() string { return "maximum iterations reached" }

// VmAcquisitionFailed wraps a pool.Acquire failure.
type VmAcquisitionFailed struct{ Err error }

func (e *VmAcquisitionFailed) Error() string { return fmt.Sprintf("failed to acquire VM: %v", e.Err) }
func (e *VmAcquisitionFailed) Unwrap() error  { return e.Err }

// ExecutionFailed wraps an execproto transport or guest-side error.
type ExecutionFailed struct{ Err error }

func (e *ExecutionFailed) Error() string { return fmt.Sprintf("execution failed: %v", e.Err) }
func (e *ExecutionFailed) Unwrap() error { return e.Err }

// Controller orchestrates the Ollama chat loop and VM-backed code
// execution.
type Controller struct {
	chat   *ollama.Client
	pool   *vm.Pool
	config Config
	log    *log.Entry
}

func New(chat *ollama.Client, pool *vm.Pool, config Config) *Controller {
	return &Controller{
		chat:   chat,
		pool:   pool,
		config: config,
		log:    log.WithField("component", "agent"),
	}
}

// Run drives the bounded-iteration chat loop for task, executing any
// execute_code tool calls the model issues and feeding results back
// until the model replies without a tool call or the iteration budget
// is exhausted.
func (c *Controller) Run(ctx context.Context, task string) (*Result, error) {
	traceID := uuid.Must(uuid.NewV7()).String()
	tools := []ollama.Tool{ollama.ExecuteCodeTool()}

	systemPrompt := c.config.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = ollama.DefaultAgentSystemPrompt
	}

	messages := []ollama.ChatMessage{
		ollama.SystemMessage(systemPrompt),
		ollama.UserMessage(task),
	}

	var iterations, toolCallsMade int
	var records []ExecutionRecord

	for {
		iterations++
		if iterations > c.config.MaxIterations {
			return nil, &MaxIterationsReached{}
		}

		resp, err := c.chat.Chat(ctx, messages, c.config.Model, tools)
		if err != nil {
			return nil, err
		}
		messages = append(messages, resp.Message)

		toolCalls := resp.Message.ToolCalls
		if len(toolCalls) == 0 {
			toolCalls = ollama.ParseToolCallsFromText(resp.Message.Content)
		}

		if len(toolCalls) == 0 {
			return &Result{
				FinalResponse:    resp.Message.Content,
				Iterations:       iterations,
				ToolCallsMade:    toolCallsMade,
				ExecutionRecords: records,
				TraceID:          traceID,
			}, nil
		}

		for _, tc := range toolCalls {
			if tc.Function.Name != "execute_code" {
				continue
			}
			var args struct {
				Language string `json:"language"`
				Code     string `json:"code"`
			}
			args.Language = "bash"
			_ = json.Unmarshal(tc.Function.Arguments, &args)

			if strings.TrimSpace(args.Code) == "" {
				c.log.WithField("trace_id", traceID).Warn("tool call has empty code, skipping execution")
				messages = append(messages, ollama.ToolMessage("Error: code parameter is empty"))
				continue
			}
			toolCallsMade++

			c.log.WithFields(log.Fields{"trace_id": traceID, "language": args.Language}).Info("executing tool call")

			record, execErr := c.executeCode(ctx, args.Language, args.Code)
			var toolResponse string
			if execErr != nil {
				c.log.WithError(execErr).Warn("tool execution failed")
				toolResponse = fmt.Sprintf("Error: %v", execErr)
			} else {
				records = append(records, *record)
				toolResponse = fmt.Sprintf("Exit code: %d\nStdout:\n%s\nStderr:\n%s", record.ExitCode, record.Stdout, record.Stderr)
				if record.TimedOut {
					toolResponse += "\n(Execution timed out)"
				}
			}
			messages = append(messages, ollama.ToolMessage(toolResponse))
		}
	}
}

// executeCode acquires a VM, runs code in it over the guest execution
// protocol, and always releases the VM regardless of outcome.
func (c *Controller) executeCode(ctx context.Context, language, code string) (*ExecutionRecord, error) {
	handle, err := c.pool.Acquire(uuid.Must(uuid.NewV7()).String())
	if err != nil {
		return nil, &VmAcquisitionFailed{Err: err}
	}
	defer c.pool.Release(handle)

	client := execproto.NewClient(handle.VsockPath, c.config.VsockPort)
	resp, err := client.Execute(ctx, &execproto.ExecuteRequest{
		Language:    language,
		Code:        code,
		TimeoutSecs: c.config.ExecutionTimeoutSecs,
	})
	if err != nil {
		return nil, &ExecutionFailed{Err: err}
	}

	return &ExecutionRecord{
		Language:   language,
		Code:       code,
		Stdout:     resp.Stdout,
		Stderr:     resp.Stderr,
		ExitCode:   resp.ExitCode,
		DurationMs: resp.DurationMs,
		TimedOut:   resp.TimedOut,
	}, nil
}
