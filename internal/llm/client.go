// Package llm provides the LLM client used by intent recognition and the
// generative analysis stage. The interface is deliberately small: callers
// send fully-masked, pseudonymized text and receive a completion. Provider
// plumbing stays behind the Client interface.
package llm

import (
	"context"
	"time"
)

// Client defines the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config holds configuration for an LLM endpoint.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// Message represents one turn of a conversation. The generative model is
// stateless; callers resend the pseudonymized history each turn.
type Message struct {
	Role    string `json:"role"` // "user" or "model"
	Content string `json:"content"`
}

// ChatClient is the optional multi-turn surface. The Gemini client
// implements it; single-shot callers can stay on Client.
type ChatClient interface {
	Client
	CompleteChat(ctx context.Context, systemPrompt string, history []Message, userPrompt string) (string, error)
}
