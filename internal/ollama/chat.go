package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ChatMessage is one turn in a chat conversation.
type ChatMessage struct {
	Role      string     `json:"role"` // system, user, assistant, tool
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

func SystemMessage(content string) ChatMessage    { return ChatMessage{Role: "system", Content: content} }
func UserMessage(content string) ChatMessage      { return ChatMessage{Role: "user", Content: content} }
func AssistantMessage(content string) ChatMessage { return ChatMessage{Role: "assistant", Content: content} }
func ToolMessage(content string) ChatMessage      { return ChatMessage{Role: "tool", Content: content} }

// ToolCall is a model-issued function invocation.
type ToolCall struct {
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments as raw JSON so
// callers can decode into whatever shape they expect.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// ChatResponse is the /api/chat reply.
type ChatResponse struct {
	Message      ChatMessage `json:"message"`
	Done         bool        `json:"done"`
	EvalCount    uint32      `json:"eval_count"`
	EvalDuration uint64      `json:"eval_duration"`
}

// ChatEmptyResponse indicates Ollama returned an empty body.
type ChatEmptyResponse struct{}

func (e *ChatEmptyResponse) Error() string { return "empty response from ollama" }

// ExecuteCodeTool is the tool definition the agent controller offers the
// model, matching original_source's execute_code_tool().
func ExecuteCodeTool() Tool {
	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        "execute_code",
			Description: "Execute code in a sandboxed environment. Use this to run Python or Bash code and see the output. The environment is isolated and secure.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"language": map[string]any{
						"type":        "string",
						"enum":        []string{"python", "bash", "javascript"},
						"description": "The programming language to use",
					},
					"code": map[string]any{
						"type":        "string",
						"description": "The code to execute",
					},
				},
				"required": []string{"language", "code"},
			},
		},
	}
}

// DefaultAgentSystemPrompt is the agent controller's default system
// message.
const DefaultAgentSystemPrompt = `You are a helpful assistant with access to a sandboxed code execution environment.

You have access to the execute_code tool which runs code in an isolated VM. Use it whenever you need to:
- Calculate something
- Verify a result
- Run shell commands
- Test code

Guidelines:
- Always use the execute_code tool to verify results rather than guessing
- If code fails, read the error message and fix it
- Supported languages: bash, python, javascript
- When the task is complete, respond with your final answer in plain text`

// Chat sends a chat request, optionally advertising tools the model may
// call.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage, model string, tools []Tool) (*ChatResponse, error) {
	body := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
		"options":  map[string]any{"temperature": 0.0},
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: reading body: %w", err)
	}
	if len(bytes.TrimSpace(text)) == 0 {
		return nil, &ChatEmptyResponse{}
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(text, &chatResp); err != nil {
		return nil, fmt.Errorf("ollama chat: parsing response: %w", err)
	}
	return &chatResp, nil
}
