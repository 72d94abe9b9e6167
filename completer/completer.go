package completer

import "context"

// Completer generates free-form text from a prompt using a specific LLM.
type Completer interface {
	// Name returns the name of the backing LLM provider, e.g. "groq"
	Name() string

	// Model returns the model identifier requests are sent to.
	Model() string

	// Complete sends the prompt to the LLM and returns its text response.
	// The provided ctx is used as a parent context for the request to the
	// LLM server.
	Complete(ctx context.Context, prompt string) (string, error)

	// IsHealthy returns whether the LLM server is reachable.
	IsHealthy() bool
}
