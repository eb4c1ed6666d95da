// Package coaching runs GROW coaching turns: it builds generator prompts,
// splits the generator's reply into a message and a structured state, and
// exposes the caller-facing session operations.
package coaching

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNoJSONPayload means the reply held no balanced JSON object.
	ErrNoJSONPayload = errors.New("no JSON object in generator reply")
	// ErrEmptyMessage means nothing readable preceded the JSON object.
	ErrEmptyMessage = errors.New("empty coaching message in generator reply")
)

// Payload is a generator reply split into its two parts.
type Payload struct {
	Message string
	JSON    []byte
}

var (
	ruleLine   = regexp.MustCompile(`^\s*(?:[-*_=]\s*){3,}$`)
	fenceLine  = regexp.MustCompile("^\\s*```[A-Za-z]*\\s*$")
	stateLabel = regexp.MustCompile(`(?i)(?:^|[\s*_#>])[*_#>\s]*(?:structured\s+)?state(?:\s+|_)?json\s*[*_]*\s*[:：]?\s*[*_]*\s*$`)
	boldStars  = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnders = regexp.MustCompile(`__(.+?)__`)
)

// ExtractPayload isolates the first balanced JSON object in text that is
// valid JSON, and cleans the text preceding it into the coaching message.
func ExtractPayload(text string) (Payload, error) {
	start, end, ok := findJSONObject(text)
	if !ok {
		return Payload{}, ErrNoJSONPayload
	}
	msg := cleanMessage(text[:start])
	if msg == "" {
		return Payload{}, ErrEmptyMessage
	}
	return Payload{Message: msg, JSON: []byte(text[start:end])}, nil
}

// findJSONObject returns the span of the first balanced {...} that parses
// as JSON. Candidates that balance but do not parse are skipped.
func findJSONObject(text string) (int, int, bool) {
	from := 0
	for {
		i := strings.IndexByte(text[from:], '{')
		if i < 0 {
			return 0, 0, false
		}
		start := from + i
		if end, ok := matchBrace(text, start); ok && json.Valid([]byte(text[start:end])) {
			return start, end, true
		}
		from = start + 1
	}
}

type scanState int

const (
	outsideString scanState = iota
	insideString
	afterEscape
)

// matchBrace scans from the '{' at start and returns the index just past
// its matching '}'. Braces inside string literals are ignored.
func matchBrace(text string, start int) (int, bool) {
	depth := 0
	state := outsideString
	for i := start; i < len(text); i++ {
		c := text[i]
		switch state {
		case afterEscape:
			state = insideString
		case insideString:
			switch c {
			case '\\':
				state = afterEscape
			case '"':
				state = outsideString
			}
		case outsideString:
			switch c {
			case '"':
				state = insideString
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return i + 1, true
				}
			}
		}
	}
	return 0, false
}

// cleanMessage strips trailing boilerplate (rules, code fences, a "State
// JSON" label, blank lines) and unwraps bold markup.
func cleanMessage(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if last == "" || ruleLine.MatchString(last) || fenceLine.MatchString(last) {
			lines = lines[:len(lines)-1]
			continue
		}
		if loc := stateLabel.FindStringIndex(last); loc != nil {
			rest := strings.TrimSpace(last[:loc[0]])
			if rest == "" {
				lines = lines[:len(lines)-1]
				continue
			}
			lines[len(lines)-1] = rest
		}
		break
	}
	msg := strings.Join(lines, "\n")
	msg = boldStars.ReplaceAllString(msg, "$1")
	msg = boldUnders.ReplaceAllString(msg, "$1")
	return strings.TrimSpace(msg)
}
