// Package jsonx recovers a JSON value from model output that may wrap it in
// prose, markdown fences or trailing commentary.
package jsonx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Kind tags the outcome of Extract.
type Kind int

// Extraction outcomes.
const (
	// Empty means the input was blank or held only a JSON null.
	Empty Kind = iota
	// Ok means Value holds a valid JSON document.
	Ok
	// Malformed means the input was non-blank but nothing parsed.
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Ok:
		return "ok"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the tagged outcome of Extract. Value is set only when Kind is Ok.
type Result struct {
	Kind  Kind
	Value json.RawMessage
}

// IsOk reports whether a value was recovered.
func (r Result) IsOk() bool {
	return r.Kind == Ok
}

// Decode unmarshals the recovered value into v. Empty and Malformed results
// return an error wrapping studio.ErrParseFailure.
func (r Result) Decode(v any) error {
	if r.Kind != Ok {
		return fmt.Errorf("decode %s result: %w", r.Kind, studio.ErrParseFailure)
	}
	if err := json.Unmarshal(r.Value, v); err != nil {
		return fmt.Errorf("decode result: %w: %w", studio.ErrParseFailure, err)
	}
	return nil
}

// Extract tries the whole text first, then each balanced {...} or [...]
// region in order of its opening bracket, returning the first that parses.
// It never panics and runs in linear time apart from validating candidates.
func Extract(raw string) Result {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Result{Kind: Empty}
	}
	if res, ok := parse(text); ok {
		return res
	}
	for _, r := range balancedRegions(text) {
		if res, ok := parse(text[r.open : r.close+1]); ok {
			return res
		}
	}
	return Result{Kind: Malformed}
}

func parse(candidate string) (Result, bool) {
	if !gjson.Valid(candidate) {
		return Result{}, false
	}
	if gjson.Parse(candidate).Type == gjson.Null {
		return Result{Kind: Empty}, true
	}
	return Result{Kind: Ok, Value: json.RawMessage(candidate)}, true
}

type region struct {
	open, close int
}

// balancedRegions matches brackets in one pass and returns every closed
// region sorted by its opening index. Quotes only open strings inside a
// bracket, so prose around the value cannot swallow it. A mismatched closer
// abandons every bracket still open.
func balancedRegions(text string) []region {
	var (
		stack    []int
		regions  []region
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
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
			inString = len(stack) > 0
		case '{', '[':
			stack = append(stack, i)
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			if closerFor(text[top]) != c {
				stack = stack[:0]
				continue
			}
			stack = stack[:len(stack)-1]
			regions = append(regions, region{open: top, close: i})
		}
	}
	sort.Slice(regions, func(a, b int) bool { return regions[a].open < regions[b].open })
	return regions
}

func closerFor(open byte) byte {
	if open == '{' {
		return '}'
	}
	return ']'
}
