package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockGenerator implements Generator using AWS Bedrock, for deployments
// that cannot reach an OpenAI-compatible endpoint.
type BedrockGenerator struct {
	client    *bedrockruntime.Client
	modelID   string
	maxTokens int
	timeout   time.Duration
}

// NewBedrockGenerator creates a Bedrock-backed generator using the default
// AWS credential chain.
func NewBedrockGenerator(region, modelID string, maxTokens int, timeout time.Duration) (*BedrockGenerator, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &BedrockGenerator{
		client:    bedrockruntime.NewFromConfig(cfg),
		modelID:   modelID,
		maxTokens: maxTokens,
		timeout:   timeout,
	}, nil
}

// DefaultTimeout returns the configured capability timeout.
func (g *BedrockGenerator) DefaultTimeout() time.Duration {
	return g.timeout
}

// Generate invokes the Bedrock model with the Anthropic messages payload and
// normalizes the response to a Result. Bedrock has no per-request model
// override; the configured model ID always applies.
func (g *BedrockGenerator) Generate(ctx context.Context, messages []Message, model string, temperature *float64) (*Result, error) {
	system, userMessages := splitSystemMessages(messages)

	requestTemperature := 0.2
	if temperature != nil {
		requestTemperature = *temperature
	}

	requestBody := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        g.maxTokens,
		"temperature":       requestTemperature,
		"messages":          userMessages,
	}
	if system != "" {
		requestBody["system"] = system
	}

	payload, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, err
	}

	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage map[string]interface{} `json:"usage"`
	}
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	var parts []string
	for _, block := range response.Content {
		if text := strings.TrimSpace(block.Text); text != "" {
			parts = append(parts, text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return nil, fmt.Errorf("no content in response")
	}

	return &Result{
		Text:      text,
		Usage:     response.Usage,
		ModelName: g.modelID,
	}, nil
}

// splitSystemMessages separates system instructions (which Bedrock takes as a
// top-level field) from the conversational messages.
func splitSystemMessages(messages []Message) (string, []map[string]interface{}) {
	var systemParts []string
	converted := make([]map[string]interface{}, 0, len(messages))

	for _, message := range messages {
		if message.Role == "system" {
			systemParts = append(systemParts, message.Content)
			continue
		}
		converted = append(converted, map[string]interface{}{
			"role": message.Role,
			"content": []map[string]interface{}{
				{"type": "text", "text": message.Content},
			},
		})
	}
	return strings.TrimSpace(strings.Join(systemParts, "\n\n")), converted
}
