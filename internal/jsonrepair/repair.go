// Package jsonrepair recovers structured data from model text output that is
// expected to contain one JSON object but may be wrapped in prose or a fenced
// code block, or truncated mid-stream by an upstream token limit.
package jsonrepair

import (
	"encoding/json"
	"strings"
)

// RawKey is the field carrying unparseable input in the sentinel fallback.
const RawKey = "raw"

// Result is the outcome of one repair attempt. JSON always parses; Recovered
// is false only when the sentinel fallback was used.
type Result struct {
	Data      map[string]any
	JSON      []byte
	Recovered bool
}

// Repair extracts a maximal valid JSON document from raw. Preference order:
// the interior of a fenced code block, else the outermost brace span; strict
// parse first, then mechanical repair of a truncated tail, then the sentinel
// {"raw": <text>} fallback. The function is pure and never returns an error.
func Repair(raw string) Result {
	text := trimCodeFence(strings.TrimSpace(raw))
	start := strings.Index(text, "{")
	if start < 0 {
		return sentinel(raw)
	}
	tail := text[start:]

	var span string
	if end := strings.LastIndex(text, "}"); end > start {
		span = text[start : end+1]
		if data, ok := tryParse(span); ok {
			return recovered(data)
		}
	}
	// Repair the full tail before the narrowed span: on truncated input the
	// last brace belongs to a nested value and the span would drop every key
	// after it.
	for _, candidate := range repairCandidates(tail) {
		if data, ok := tryParse(candidate); ok {
			return recovered(data)
		}
	}
	if span != "" && span != tail {
		for _, candidate := range repairCandidates(span) {
			if data, ok := tryParse(candidate); ok {
				return recovered(data)
			}
		}
	}
	return sentinel(raw)
}

func recovered(data map[string]any) Result {
	encoded, err := json.Marshal(data)
	if err != nil {
		return sentinel("")
	}
	return Result{Data: data, JSON: encoded, Recovered: true}
}

func sentinel(raw string) Result {
	data := map[string]any{RawKey: raw}
	encoded, _ := json.Marshal(data)
	return Result{Data: data, JSON: encoded}
}

func tryParse(text string) (map[string]any, bool) {
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, false
	}
	return data, true
}

func trimCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// repairCandidates produces completion attempts in decreasing order of
// preserved content: the fragment closed as-is, the fragment with a partial
// trailing literal stripped, then progressively earlier truncations at
// structural boundaries.
func repairCandidates(fragment string) []string {
	candidates := []string{
		complete(fragment, false),
		complete(fragment, true),
	}
	state := scan(fragment)
	for i := len(state.boundaries) - 1; i >= 0; i-- {
		candidates = append(candidates, complete(fragment[:state.boundaries[i]], true))
	}
	return candidates
}

type scanState struct {
	// closers holds the pending closing delimiter for every unclosed brace
	// or bracket, in opening order.
	closers []byte
	inString bool
	// stringStart is the offset of the opening quote of an unterminated
	// string; stringIsKey reports whether that string is an object key.
	stringStart int
	stringIsKey bool
	// boundaries are offsets of commas and openers outside strings, usable
	// as truncation points.
	boundaries []int
}

// scan walks the fragment tracking brace/bracket/string nesting. Escape
// sequences are honored so braces inside string literals are not miscounted.
func scan(fragment string) scanState {
	st := scanState{stringStart: -1}
	escaped := false
	prevSig := byte(0)
	for i := 0; i < len(fragment); i++ {
		ch := fragment[i]
		if st.inString {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				st.inString = false
				st.stringStart = -1
				prevSig = '"'
			}
			continue
		}
		switch ch {
		case '"':
			st.inString = true
			st.stringStart = i
			st.stringIsKey = prevSig == '{' || prevSig == ','
		case '{':
			st.closers = append(st.closers, '}')
			st.boundaries = append(st.boundaries, i+1)
			prevSig = ch
		case '[':
			st.closers = append(st.closers, ']')
			st.boundaries = append(st.boundaries, i+1)
			prevSig = ch
		case '}', ']':
			if n := len(st.closers); n > 0 && st.closers[n-1] == ch {
				st.closers = st.closers[:n-1]
			}
			prevSig = ch
		case ',':
			st.boundaries = append(st.boundaries, i)
			prevSig = ch
		case ':':
			prevSig = ch
		case ' ', '\t', '\r', '\n':
		default:
			prevSig = ch
		}
	}
	return st
}

// complete closes a truncated fragment: terminates or drops an open string,
// optionally strips a partial trailing literal, removes a dangling key or
// trailing comma, then appends closing delimiters innermost first.
func complete(fragment string, stripLiteral bool) string {
	st := scan(fragment)
	s := fragment
	if st.inString {
		if st.stringIsKey {
			s = s[:st.stringStart]
		} else {
			s += `"`
		}
	}
	s = strings.TrimRight(s, " \t\r\n")
	if stripLiteral {
		s = trimPartialLiteral(s)
	}
	s = strings.TrimRight(s, " \t\r\n")
	if strings.HasSuffix(s, ":") {
		s = stripDanglingKey(s)
	}
	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimSuffix(s, ",")
	s = stripCommaBeforeClosers(s)
	st = scan(s)
	for i := len(st.closers) - 1; i >= 0; i-- {
		s += string(st.closers[i])
	}
	return s
}

// trimPartialLiteral removes trailing characters that belong to an
// incomplete number or bare-word literal (tru, fals, 12.), leaving structural
// characters and completed strings alone.
func trimPartialLiteral(s string) string {
	i := len(s)
	for i > 0 {
		ch := s[i-1]
		if ch == '"' || ch == '}' || ch == ']' || ch == '{' || ch == '[' || ch == ',' || ch == ':' {
			break
		}
		if ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' {
			break
		}
		i--
	}
	return s[:i]
}

// stripDanglingKey removes a trailing `"key":` with no value, along with the
// comma that preceded it.
func stripDanglingKey(s string) string {
	body := strings.TrimRight(strings.TrimSuffix(s, ":"), " \t\r\n")
	if !strings.HasSuffix(body, `"`) {
		return s
	}
	i := len(body) - 2
	for i >= 0 {
		if body[i] == '"' && (i == 0 || body[i-1] != '\\') {
			break
		}
		i--
	}
	if i < 0 {
		return s
	}
	head := strings.TrimRight(body[:i], " \t\r\n")
	return strings.TrimSuffix(head, ",")
}

// stripCommaBeforeClosers drops one comma left dangling before the closing
// delimiters at the end of the fragment, e.g. {"a":1,} or [1,2,]}.
func stripCommaBeforeClosers(s string) string {
	i := len(s) - 1
	for i >= 0 {
		ch := s[i]
		if ch == '}' || ch == ']' || ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' {
			i--
			continue
		}
		break
	}
	if i >= 0 && s[i] == ',' && i < len(s)-1 {
		return s[:i] + s[i+1:]
	}
	return s
}
