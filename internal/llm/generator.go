// Package llm talks to generative text providers.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyResponse means the provider answered without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is one generation call: a system prompt and ordered user-side
// text fragments.
type Request struct {
	System    string
	Fragments []string
}

// Generator produces one text reply for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// joinFragments renders fragments as one prompt body separated by blank lines.
func joinFragments(fragments []string) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, "\n\n")
}

// StripThinkBlocks removes <think>...</think> blocks that reasoning models
// emit ahead of their answer. An unclosed block is stripped to the end.
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			return s[:start]
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
}
