// Package jsonx extracts a parseable JSON document from LLM output that may
// be fence-wrapped, followed by prose, or truncated mid-structure.
package jsonx

import (
	"fmt"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
)

// tailTrimSteps are the fixed suffix lengths dropped between parse retries
// when the extracted document still fails to parse.
var tailTrimSteps = []int{80, 160, 240, 360, 520, 720, 1000}

// Extract returns the best-effort JSON document embedded in text.
// It strips one leading/trailing Markdown fence, cuts at the point where the
// bracket stack first empties, and auto-closes an unbalanced tail (closing an
// open string first when the cut lands inside one).
func Extract(text string) string {
	t := stripFence(strings.TrimSpace(text))
	start := strings.IndexAny(t, "{[")
	if start < 0 {
		return t
	}
	return balance(t[start:])
}

// Parse extracts JSON from text and unmarshals it with a JSON5 parser.
// On failure it retries with progressively trimmed tails, which salvages
// responses truncated mid-token.
func Parse(text string, v any) error {
	body := stripFence(strings.TrimSpace(text))
	ext := Extract(body)
	err := json5.Unmarshal([]byte(ext), v)
	if err == nil {
		return nil
	}
	for _, step := range tailTrimSteps {
		if step >= len(body) {
			break
		}
		cand := Extract(body[:len(body)-step])
		if cand == "" {
			continue
		}
		if e := json5.Unmarshal([]byte(cand), v); e == nil {
			return nil
		}
	}
	return fmt.Errorf("no parseable JSON in response: %w", err)
}

// stripFence removes one surrounding Markdown code fence, with or without a
// language tag.
func stripFence(t string) string {
	if !strings.HasPrefix(t, "```") {
		return t
	}
	rest := t[3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// balance scans t tracking string state and a stack of open brackets.
// It cuts where the stack empties; if it never does, it appends the matching
// closers (and a closing quote first when still inside a string).
func balance(t string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(t); i++ {
		c := t[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return t[:i+1]
			}
		}
	}
	var b strings.Builder
	b.WriteString(t)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
