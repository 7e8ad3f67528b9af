package ollama

import (
	"encoding/json"
	"strings"
)

// ParseToolCallsFromText salvages tool calls from models that emit them
// as JSON text instead of using the native tool_calls field, per
// spec.md's tool-call-salvage rules (a)/(b)/(c). Ported from
// original_source's parse_tool_calls_from_text.
func ParseToolCallsFromText(content string) []ToolCall {
	content = strings.TrimSpace(content)

	var whole map[string]any
	if err := json.Unmarshal([]byte(content), &whole); err == nil {
		if tc, ok := parseToolCallFromValue(whole); ok {
			return []ToolCall{tc}
		}
	}

	var calls []ToolCall
	depth := 0
	start := -1
	for i, r := range content {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				if tc, ok := tryParseToolCall(content[start : i+1]); ok {
					calls = append(calls, tc)
				}
				start = -1
			}
		}
	}
	return calls
}

func tryParseToolCall(jsonStr string) (ToolCall, bool) {
	var v map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &v); err == nil {
		return parseToolCallFromValue(v)
	}
	if fixed, ok := tryFixMalformedJSON(jsonStr); ok {
		var v2 map[string]any
		if err := json.Unmarshal([]byte(fixed), &v2); err == nil {
			return parseToolCallFromValue(v2)
		}
	}
	return ToolCall{}, false
}

// tryFixMalformedJSON repairs unescaped quotes inside a "code" string
// value, e.g. {"name":"execute_code","arguments":{"language":"bash",
// "code":"echo "hello""}}. The "code" key's surrounding whitespace is not
// assumed — models emit both `"code":"..."` and `"code": "...",` spacing.
func tryFixMalformedJSON(jsonStr string) (string, bool) {
	codeValueStart, ok := findCodeValueStart(jsonStr)
	if !ok {
		return "", false
	}

	remaining := jsonStr[codeValueStart:]
	endPattern := strings.LastIndex(remaining, `"}}`)
	if endPattern < 0 {
		return "", false
	}

	codeContent := remaining[:endPattern]
	escaped := escapeUnescapedQuotes(codeContent)

	prefix := jsonStr[:codeValueStart]
	suffix := jsonStr[codeValueStart+endPattern:]
	return prefix + escaped + suffix, true
}

// findCodeValueStart locates the index just after the opening quote of
// the "code" key's string value, tolerating arbitrary whitespace around
// the key's colon (`"code":"`, `"code" : "`, `"code":  "`, ...).
func findCodeValueStart(jsonStr string) (int, bool) {
	const key = `"code"`
	idx := strings.Index(jsonStr, key)
	if idx < 0 {
		return 0, false
	}
	i := idx + len(key)
	for i < len(jsonStr) && (jsonStr[i] == ' ' || jsonStr[i] == '\t' || jsonStr[i] == '\n') {
		i++
	}
	if i >= len(jsonStr) || jsonStr[i] != ':' {
		return 0, false
	}
	i++
	for i < len(jsonStr) && (jsonStr[i] == ' ' || jsonStr[i] == '\t' || jsonStr[i] == '\n') {
		i++
	}
	if i >= len(jsonStr) || jsonStr[i] != '"' {
		return 0, false
	}
	return i + 1, true
}

func escapeUnescapedQuotes(s string) string {
	const placeholder = "￿"
	s = strings.ReplaceAll(s, `\"`, placeholder)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, placeholder, `\"`)
	return s
}

// parseToolCallFromValue extracts a ToolCall from a decoded JSON value,
// handling the "arguments" vs. "parameters" key aliasing and the nested
// {"value": "..."} unwrapping some models produce.
func parseToolCallFromValue(value map[string]any) (ToolCall, bool) {
	name, ok := value["name"].(string)
	if !ok {
		return ToolCall{}, false
	}

	var args any
	if a, ok := value["arguments"]; ok {
		args = a
	} else if params, ok := value["parameters"].(map[string]any); ok {
		args = unwrapParameters(params)
	} else {
		return ToolCall{}, false
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return ToolCall{}, false
	}
	return ToolCall{Function: FunctionCall{Name: name, Arguments: raw}}, true
}

func unwrapParameters(params map[string]any) any {
	codeObj, hasCode := params["code"]
	codeMap, codeIsObj := codeObj.(map[string]any)
	if !hasCode || !codeIsObj {
		return params
	}

	code, _ := codeMap["value"].(string)

	language := "python"
	if l, ok := params["language"]; ok {
		if s, ok := l.(string); ok {
			language = s
		} else if lm, ok := l.(map[string]any); ok {
			if s, ok := lm["value"].(string); ok {
				language = s
			}
		}
	}

	return map[string]any{"language": language, "code": code}
}
