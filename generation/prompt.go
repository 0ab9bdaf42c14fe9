package generation

import (
	"encoding/json"
	"fmt"
)

// systemPrompt is the fixed instruction pinning the generation contract: one
// complete runnable module, at least one test_ function, selectors from
// annotations, real assertions, no placeholders.
const systemPrompt = `You are a senior QA automation engineer.
Generate only runnable Python code for Playwright using pytest and playwright.sync_api.
Hard requirements:
- Return one complete test module.
- Include imports and at least one test function named test_... .
- Use selectors and text from annotations when available.
- Include meaningful assertions.
- No pseudocode, no TODO placeholders.
- If context is insufficient, still return a best-effort executable test.
`

// promptPayload is the structured user content handed to the model.
type promptPayload struct {
	PageURL        string                   `json:"page_url"`
	OutputMarkdown string                   `json:"output_markdown"`
	Annotations    []map[string]interface{} `json:"annotations"`
	TargetStyle    string                   `json:"target_style"`
	PythonAPI      string                   `json:"python_api"`
}

// BuildMessages assembles the system and user messages for one generation
// request.
func BuildMessages(pageURL, outputContext string, annotations []map[string]interface{}) ([]Message, error) {
	if annotations == nil {
		annotations = []map[string]interface{}{}
	}

	payload, err := json.MarshalIndent(promptPayload{
		PageURL:        pageURL,
		OutputMarkdown: outputContext,
		Annotations:    annotations,
		TargetStyle:    StylePytestSync,
		PythonAPI:      "playwright.sync_api",
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prompt payload: %w", err)
	}

	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Generate a Playwright test module from this context:\n" + string(payload)},
	}, nil
}
