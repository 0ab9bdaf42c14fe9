package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig holds the connection settings for an OpenAI-compatible
// Responses endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIGenerator implements Generator against any OpenAI-compatible
// Responses API.
type OpenAIGenerator struct {
	config OpenAIConfig
	client *http.Client
}

// NewOpenAIGenerator creates a new OpenAI-compatible generator. The HTTP
// client carries no timeout of its own; cancellation is driven by the
// request context.
func NewOpenAIGenerator(config OpenAIConfig) *OpenAIGenerator {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &OpenAIGenerator{
		config: config,
		client: &http.Client{},
	}
}

// DefaultTimeout returns the configured capability timeout.
func (g *OpenAIGenerator) DefaultTimeout() time.Duration {
	return g.config.Timeout
}

type responsesRequest struct {
	Model       string  `json:"model"`
	Input       string  `json:"input"`
	Temperature float64 `json:"temperature"`
}

type responsesContent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Refusal string `json:"refusal"`
}

type responsesItem struct {
	Type    string             `json:"type"`
	Text    string             `json:"text"`
	Content []responsesContent `json:"content"`
}

type responsesPayload struct {
	Model      string                 `json:"model"`
	OutputText string                 `json:"output_text"`
	Output     []responsesItem        `json:"output"`
	Usage      map[string]interface{} `json:"usage"`
}

// Generate invokes the Responses endpoint and normalizes the heterogeneous
// payload (output_text shortcut, item lists, refusal blocks) into a Result.
func (g *OpenAIGenerator) Generate(ctx context.Context, messages []Message, model string, temperature *float64) (*Result, error) {
	resolvedModel := model
	if resolvedModel == "" {
		resolvedModel = g.config.Model
	}
	requestTemperature := 0.2
	if temperature != nil {
		requestTemperature = *temperature
	}

	body, err := json.Marshal(responsesRequest{
		Model:       resolvedModel,
		Input:       flattenMessages(messages),
		Temperature: requestTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, preview(raw))
	}

	var payload responsesPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	text := extractOutputText(payload)
	if text == "" {
		return nil, fmt.Errorf("LLM response missing output text. response_preview=%s", preview(raw))
	}

	modelName := payload.Model
	if modelName == "" {
		modelName = resolvedModel
	}

	return &Result{
		Text:      text,
		Usage:     payload.Usage,
		ModelName: modelName,
	}, nil
}

// flattenMessages renders the ordered messages into the single input string
// the Responses API accepts, tagging each chunk with its role.
func flattenMessages(messages []Message) string {
	chunks := make([]string, 0, len(messages))
	for _, message := range messages {
		role := strings.TrimSpace(message.Role)
		if role == "" {
			role = "user"
		}
		content := strings.TrimSpace(message.Content)
		if content == "" {
			continue
		}
		chunks = append(chunks, fmt.Sprintf("[%s]\n%s", role, content))
	}
	return strings.TrimSpace(strings.Join(chunks, "\n\n"))
}

// extractOutputText normalizes the response shapes the upstream may produce:
// the output_text convenience field, plain text items, nested content blocks,
// and refusal blocks.
func extractOutputText(payload responsesPayload) string {
	if text := strings.TrimSpace(payload.OutputText); text != "" {
		return text
	}

	var parts []string
	for _, item := range payload.Output {
		if text := strings.TrimSpace(item.Text); text != "" {
			parts = append(parts, text)
		}
		for _, block := range item.Content {
			text := strings.TrimSpace(block.Text)
			if text == "" {
				text = strings.TrimSpace(block.Refusal)
			}
			if text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// preview truncates a raw upstream body for error messages.
func preview(raw []byte) string {
	const limit = 600
	if len(raw) > limit {
		return string(raw[:limit]) + "...(truncated)"
	}
	return string(raw)
}
