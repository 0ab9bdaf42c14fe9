package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScript = `from playwright.sync_api import Page


def test_checkout_smoke(page: Page):
    page.goto("https://shop.example.com")
    page.get_by_role("button", name="Checkout").click()`

func TestUnwrapCodeFence(t *testing.T) {
	t.Run("strips a python fence", func(t *testing.T) {
		wrapped := "Here is the test you asked for:\n```python\n" + validScript + "\n```\nLet me know if it needs changes."
		assert.Equal(t, validScript, UnwrapCodeFence(wrapped))
	})

	t.Run("strips a bare fence", func(t *testing.T) {
		wrapped := "```\n" + validScript + "\n```"
		assert.Equal(t, validScript, UnwrapCodeFence(wrapped))
	})

	t.Run("uses the first fence when several exist", func(t *testing.T) {
		wrapped := "```python\nfirst = 1\n```\ntext\n```python\nsecond = 2\n```"
		assert.Equal(t, "first = 1", UnwrapCodeFence(wrapped))
	})

	t.Run("plain text is trimmed and returned", func(t *testing.T) {
		assert.Equal(t, validScript, UnwrapCodeFence("\n\n"+validScript+"\n"))
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts a fenced script", func(t *testing.T) {
		body, err := Validate("```python\n" + validScript + "\n```")
		require.NoError(t, err)
		assert.Equal(t, validScript, body)
	})

	t.Run("accepts a plain script", func(t *testing.T) {
		body, err := Validate(validScript)
		require.NoError(t, err)
		assert.Equal(t, validScript, body)
	})

	t.Run("rejects a script without the playwright import", func(t *testing.T) {
		_, err := Validate("def test_something():\n    pass")
		assert.ErrorIs(t, err, ErrMissingPlaywrightImport)
	})

	t.Run("rejects a script without a test function", func(t *testing.T) {
		_, err := Validate("from playwright.sync_api import Page\n\ndef helper():\n    pass")
		assert.ErrorIs(t, err, ErrNoTestFunction)
	})
}

func TestExtractTestName(t *testing.T) {
	t.Run("finds the first test function", func(t *testing.T) {
		name, err := ExtractTestName(validScript + "\n\n\ndef test_second(page):\n    pass")
		require.NoError(t, err)
		assert.Equal(t, "test_checkout_smoke", name)
	})

	t.Run("works without the import marker", func(t *testing.T) {
		name, err := ExtractTestName("def test_bare(page):\n    pass")
		require.NoError(t, err)
		assert.Equal(t, "test_bare", name)
	})

	t.Run("errors when nothing matches", func(t *testing.T) {
		_, err := ExtractTestName("def helper():\n    pass")
		assert.ErrorIs(t, err, ErrNoTestFunction)
	})
}
