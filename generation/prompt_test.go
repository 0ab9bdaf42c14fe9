package generation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages(t *testing.T) {
	annotations := []map[string]interface{}{
		{"comment": "Click checkout", "playwrightTopSelectors": []interface{}{"role=button"}},
	}

	messages, err := BuildMessages("https://shop.example.com/cart", "## Cart page", annotations)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, "playwright.sync_api")
	assert.Contains(t, messages[0].Content, "test_")

	assert.Equal(t, "user", messages[1].Role)
	_, payloadJSON, found := strings.Cut(messages[1].Content, "\n")
	require.True(t, found)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(payloadJSON), &payload))
	assert.Equal(t, "https://shop.example.com/cart", payload["page_url"])
	assert.Equal(t, "## Cart page", payload["output_markdown"])
	assert.Equal(t, StylePytestSync, payload["target_style"])
	assert.Equal(t, "playwright.sync_api", payload["python_api"])
	assert.Len(t, payload["annotations"], 1)
}

func TestBuildMessages_NilAnnotations(t *testing.T) {
	messages, err := BuildMessages("", "", nil)
	require.NoError(t, err)

	// nil must serialize as an empty list, not null.
	assert.Contains(t, messages[1].Content, `"annotations": []`)
}
