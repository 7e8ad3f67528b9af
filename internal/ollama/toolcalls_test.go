package ollama

import (
	"encoding/json"
	"testing"
)

func decodeArgs(t *testing.T, tc ToolCall) map[string]any {
	t.Helper()
	var args map[string]any
	if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
		t.Fatalf("unmarshal arguments: %v (raw: %s)", err, tc.Function.Arguments)
	}
	return args
}

func TestParseToolCallsFromText_WellFormedWholeContent(t *testing.T) {
	content := `{"name":"execute_code","arguments":{"language":"python","code":"print(1)"}}`

	calls := ParseToolCallsFromText(content)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Function.Name != "execute_code" {
		t.Errorf("name = %q, want execute_code", calls[0].Function.Name)
	}
	args := decodeArgs(t, calls[0])
	if args["language"] != "python" || args["code"] != "print(1)" {
		t.Errorf("args = %+v", args)
	}
}

func TestParseToolCallsFromText_EmbeddedInSurroundingProse(t *testing.T) {
	content := "Sure, I'll run that: {\"name\":\"execute_code\",\"arguments\":{\"language\":\"bash\",\"code\":\"ls\"}} let me know if that works."

	calls := ParseToolCallsFromText(content)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	args := decodeArgs(t, calls[0])
	if args["code"] != "ls" {
		t.Errorf("code = %v, want ls", args["code"])
	}
}

// TestParseToolCallsFromText_MalformedUnescapedQuotes is spec.md §8
// scenario 5: a model emits unescaped quotes inside the code string, and
// the parser must recover via tryFixMalformedJSON's quote-repair pass.
func TestParseToolCallsFromText_MalformedUnescapedQuotes(t *testing.T) {
	content := `{"name": "execute_code", "arguments": {"language": "bash", "code": "echo "hi""}}`

	calls := ParseToolCallsFromText(content)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1 (expected quote-repair to salvage this), calls=%+v", len(calls), calls)
	}
	args := decodeArgs(t, calls[0])
	if args["code"] != `echo "hi"` {
		t.Errorf("code = %q, want %q", args["code"], `echo "hi"`)
	}
}

// TestParseToolCallsFromText_MalformedUnescapedQuotesNoSpacing matches
// spec.md §8 scenario 5's exact literal spacing (no space after the
// "code" key's colon), which a whitespace-sensitive marker would miss.
func TestParseToolCallsFromText_MalformedUnescapedQuotesNoSpacing(t *testing.T) {
	content := `{"name":"execute_code","arguments":{"language":"bash","code":"echo "hi""}}`

	calls := ParseToolCallsFromText(content)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1 (expected quote-repair to salvage this), calls=%+v", len(calls), calls)
	}
	args := decodeArgs(t, calls[0])
	if args["code"] != `echo "hi"` {
		t.Errorf("code = %q, want %q", args["code"], `echo "hi"`)
	}
}

func TestParseToolCallsFromText_ParametersAlias(t *testing.T) {
	content := `{"name":"execute_code","parameters":{"language":"python","code":"print(2)"}}`

	calls := ParseToolCallsFromText(content)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	args := decodeArgs(t, calls[0])
	if args["language"] != "python" || args["code"] != "print(2)" {
		t.Errorf("args = %+v", args)
	}
}

// TestParseToolCallsFromText_NestedValueUnwrap covers the
// {"value": "..."} wrapping some models produce around parameter values.
func TestParseToolCallsFromText_NestedValueUnwrap(t *testing.T) {
	content := `{"name":"execute_code","parameters":{"language":{"value":"rust"},"code":{"value":"fn main(){}"}}}`

	calls := ParseToolCallsFromText(content)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	args := decodeArgs(t, calls[0])
	if args["language"] != "rust" {
		t.Errorf("language = %v, want rust", args["language"])
	}
	if args["code"] != "fn main(){}" {
		t.Errorf("code = %v, want fn main(){}", args["code"])
	}
}

// TestParseToolCallsFromText_NestedValueDefaultsLanguage covers
// unwrapParameters's default-to-python behavior when no language key is
// present at all.
func TestParseToolCallsFromText_NestedValueDefaultsLanguage(t *testing.T) {
	content := `{"name":"execute_code","parameters":{"code":{"value":"print(3)"}}}`

	calls := ParseToolCallsFromText(content)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	args := decodeArgs(t, calls[0])
	if args["language"] != "python" {
		t.Errorf("language = %v, want default python", args["language"])
	}
}

func TestParseToolCallsFromText_NoToolCallInPlainText(t *testing.T) {
	calls := ParseToolCallsFromText("Just a normal reply with no tool call at all.")
	if len(calls) != 0 {
		t.Errorf("got %d calls, want 0", len(calls))
	}
}

func TestParseToolCallsFromText_MultipleCallsInSequence(t *testing.T) {
	content := `{"name":"execute_code","arguments":{"language":"bash","code":"echo a"}} then {"name":"execute_code","arguments":{"language":"bash","code":"echo b"}}`

	calls := ParseToolCallsFromText(content)
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	first := decodeArgs(t, calls[0])
	second := decodeArgs(t, calls[1])
	if first["code"] != "echo a" || second["code"] != "echo b" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestParseToolCallsFromText_MissingNameIsIgnored(t *testing.T) {
	content := `{"arguments":{"language":"bash","code":"echo hi"}}`

	calls := ParseToolCallsFromText(content)
	if len(calls) != 0 {
		t.Errorf("got %d calls, want 0 (no name field to salvage)", len(calls))
	}
}
