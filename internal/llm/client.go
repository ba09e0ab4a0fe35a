// Package llm is the provider-neutral boundary to hosted language models.
package llm

import "context"

// TokenUsage reports provider token accounting when available.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request is a single-turn completion: system instructions plus one user prompt.
type Request struct {
	Model       string
	System      []string
	Prompt      string
	MaxTokens   int32
	Temperature float32
}

// Response carries the completion text and the model that produced it.
type Response struct {
	Text       string
	Model      string
	Usage      TokenUsage
	StopReason string
}

// Client completes prompts. Implementations return errors already passed
// through Classify.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
