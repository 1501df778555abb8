// Package llm defines the port for text generation models.
package llm

import "context"

// Request is a single completion request.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// Model generates text for a prompt.
type Model interface {
	// Generate runs a completion. When onToken is non-nil it is called for
	// every streamed fragment, in order, before Generate returns. The
	// returned string is the full concatenated text.
	Generate(ctx context.Context, req Request, onToken func(string)) (string, error)

	// Name identifies the bound model.
	Name() string
}
