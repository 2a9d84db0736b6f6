package router

import (
	"temuan/internal/retrieval"
	"temuan/internal/types"
)

// ResponseType discriminates the response union.
type ResponseType string

const (
	TypeSimple  ResponseType = "simple"
	TypeComplex ResponseType = "complex"
	TypeHybrid  ResponseType = "hybrid"
)

// Metadata is attached to every successful response.
type Metadata struct {
	Type             ResponseType           `json:"type"`
	ExecutionTimeMs  int64                  `json:"executionTimeMs"`
	FindingsAnalyzed int                    `json:"findingsAnalyzed"`
	TokensUsed       int                    `json:"tokensUsed,omitempty"`
	RecognizedIntent types.RecognizedIntent `json:"recognizedIntent"`
	Strategy         retrieval.Strategy     `json:"strategy,omitempty"`
	// Degraded marks pattern-tier recognition (LLM unavailable) or a failed
	// generative stage.
	Degraded bool `json:"degraded,omitempty"`
	// Warning carries the user-visible notice for recoverable failures.
	Warning string `json:"warning,omitempty"`
}

// Response is the success arm of the caller-facing union.
type Response struct {
	Type             ResponseType           `json:"type"`
	Records          []types.AuditRecord    `json:"records,omitempty"`
	Answer           string                 `json:"answer,omitempty"`
	RecognizedIntent types.RecognizedIntent `json:"recognizedIntent"`
	Metadata         Metadata               `json:"metadata"`
}

// Options are the caller-supplied request options.
type Options struct {
	SessionID    string
	UserID       string
	ThinkingMode string // "", "fast", "thorough"
	IPAddress    string
	// History is the pseudonymized conversation so far; the generative
	// model is stateless and receives it on every turn.
	History []Turn
}

// Turn is one prior conversation turn.
type Turn struct {
	Role    string `json:"role"` // "user" or "model"
	Content string `json:"content"`
}

// validThinkingModes is the closed option set.
var validThinkingModes = map[string]bool{
	"": true, "fast": true, "thorough": true,
}
