// Package repair recovers page results from structured batch responses that
// may be wrapped in code fences or truncated before the closing bracket.
package repair

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnrepairable is returned when no valid array can be recovered.
var ErrUnrepairable = errors.New("structured output could not be repaired")

// Result is the outcome of Repair.
type Result struct {
	Items []Item
	// Repaired is set when the text only parsed after truncation repair.
	Repaired bool
}

// Repair parses a batch response. Text that does not parse directly has a
// trailing comma trimmed and, unless it ends with the array's closing
// bracket, is cut after the last complete top-level object and closed.
// Anything still invalid is an error; nothing is fabricated. Elements that
// parse as JSON but not as items are kept for Validator.Filter to reject.
func Repair(raw string) (*Result, error) {
	text := strings.TrimSpace(raw)
	if stripped := stripCodeFences(text); stripped != "" {
		text = stripped
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrUnrepairable)
	}
	if start := strings.Index(text, "["); start > 0 && !strings.HasPrefix(text, "{") {
		text = text[start:]
	}

	items, err := parseItems(text)
	if err == nil {
		return &Result{Items: items}, nil
	}

	fixed := strings.TrimRight(text, " \t\r\n")
	fixed = strings.TrimRight(strings.TrimSuffix(fixed, ","), " \t\r\n")
	if last, closed := scanElements(fixed); !closed {
		if last < 0 {
			return nil, fmt.Errorf("%w: no complete object found", ErrUnrepairable)
		}
		fixed = fixed[:last+1] + "]"
	}

	items, err = parseItems(fixed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrepairable, err)
	}
	return &Result{Items: items, Repaired: true}, nil
}

// parseItems decodes a JSON array of items, or an object wrapping one under
// "pages" or "items". Only the array syntax is checked here; elements are
// decoded one by one.
func parseItems(text string) ([]Item, error) {
	var elems []json.RawMessage
	arrErr := json.Unmarshal([]byte(text), &elems)
	if arrErr == nil {
		return decodeItems(elems), nil
	}

	var wrapper struct {
		Pages []json.RawMessage `json:"pages"`
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal([]byte(text), &wrapper); err == nil {
		switch {
		case wrapper.Pages != nil:
			return decodeItems(wrapper.Pages), nil
		case wrapper.Items != nil:
			return decodeItems(wrapper.Items), nil
		}
	}
	return nil, arrErr
}

// scanElements returns the index of the closing brace of the last object
// that closed directly inside the top-level array, or -1. closed reports
// whether s ends with the bracket that closes the top-level array; a "]"
// inside a string does not count.
func scanElements(s string) (last int, closed bool) {
	var (
		depth    int
		inString bool
		escaped  bool
	)
	last = -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if c == '}' && depth == 1 {
				last = i
			}
			if c == ']' && depth == 0 && i == len(s)-1 {
				closed = true
			}
		}
	}
	return last, closed
}

// stripCodeFences removes a leading ``` fence line and, if present, the
// closing fence. A truncated response may lack the closing fence.
func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
