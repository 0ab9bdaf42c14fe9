// Package generation turns page context and annotations into a validated
// Playwright test script through an LLM capability.
package generation

import (
	"context"
	"time"
)

// StylePytestSync is the only generation style the service supports.
const StylePytestSync = "pytest_sync"

// Message is one entry of the ordered prompt passed to the LLM capability.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is the single normalized shape every generator returns, regardless
// of how the upstream payload was structured. ModelName may be empty when the
// upstream does not report one; Usage may be nil.
type Result struct {
	Text      string
	Usage     map[string]interface{}
	ModelName string
}

// Generator is the LLM capability consumed by the orchestrator.
// Implementations normalize heterogeneous upstream payloads internally; the
// orchestrator never performs shape-sniffing.
type Generator interface {
	// Generate invokes the model with the ordered messages. An empty model
	// falls back to the generator's configured default; a nil temperature
	// falls back likewise. Cancellation is driven by the context.
	Generate(ctx context.Context, messages []Message, model string, temperature *float64) (*Result, error)

	// DefaultTimeout is the capability's configured timeout, used when the
	// caller supplies none.
	DefaultTimeout() time.Duration
}
