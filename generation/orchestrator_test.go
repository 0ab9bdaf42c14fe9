package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmarker/flowmarker/logger"
	"github.com/flowmarker/flowmarker/script"
)

const fencedOutput = "Here is the generated test:\n```python\n" +
	"from playwright.sync_api import Page\n\n\n" +
	"def test_checkout_smoke(page: Page):\n" +
	"    page.goto(\"https://shop.example.com\")\n" +
	"    page.get_by_role(\"button\", name=\"Checkout\").click()\n" +
	"```"

// fakeGenerator scripts the capability's behavior for orchestrator tests.
type fakeGenerator struct {
	result       *Result
	err          error
	delay        time.Duration
	capabilityTO time.Duration

	gotModel       string
	gotTemperature *float64
}

func (f *fakeGenerator) Generate(ctx context.Context, messages []Message, model string, temperature *float64) (*Result, error) {
	f.gotModel = model
	f.gotTemperature = temperature

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeGenerator) DefaultTimeout() time.Duration {
	if f.capabilityTO > 0 {
		return f.capabilityTO
	}
	return time.Minute
}

func newTestOrchestrator(gen Generator, policy TimeoutPolicy) *Orchestrator {
	return NewOrchestrator(gen, policy, logger.NewTestLogger())
}

func TestOrchestrator_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("unwraps the fence and extracts the test name", func(t *testing.T) {
		gen := &fakeGenerator{result: &Result{
			Text:      fencedOutput,
			ModelName: "gpt-4.1-mini",
			Usage:     map[string]interface{}{"total_tokens": float64(812)},
		}}
		orch := newTestOrchestrator(gen, TimeoutPolicy{})

		out, err := orch.Generate(ctx, Params{
			PageURL:     "https://shop.example.com",
			Annotations: []map[string]interface{}{{"comment": "Click checkout"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "test_checkout_smoke", out.TestName)
		assert.Contains(t, out.Script, "from playwright.sync_api import Page")
		assert.NotContains(t, out.Script, "```")
		assert.Equal(t, "gpt-4.1-mini", out.ModelName)
		assert.Equal(t, map[string]interface{}{"total_tokens": float64(812)}, out.TokenUsage)
	})

	t.Run("model name falls back to the requested model", func(t *testing.T) {
		gen := &fakeGenerator{result: &Result{Text: fencedOutput}}
		orch := newTestOrchestrator(gen, TimeoutPolicy{})

		out, err := orch.Generate(ctx, Params{Model: "claude-sonnet"})
		require.NoError(t, err)
		assert.Equal(t, "claude-sonnet", out.ModelName)

		out, err = orch.Generate(ctx, Params{})
		require.NoError(t, err)
		assert.Equal(t, "unknown", out.ModelName)
	})

	t.Run("legacy sentinel timeout uses the configured override", func(t *testing.T) {
		gen := &fakeGenerator{result: &Result{Text: fencedOutput}, delay: 50 * time.Millisecond}
		orch := newTestOrchestrator(gen, TimeoutPolicy{Override: 10 * time.Millisecond})

		timeoutMS := 120000
		_, err := orch.Generate(ctx, Params{
			Model:       "gpt-4.1-mini",
			TimeoutMS:   &timeoutMS,
			Annotations: []map[string]interface{}{{"comment": "one"}, {"comment": "two"}},
		})

		var timeoutErr *TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, 10*time.Millisecond, timeoutErr.Timeout)
		assert.Equal(t, "gpt-4.1-mini", timeoutErr.Model)
		assert.Equal(t, 2, timeoutErr.AnnotationCount)
		assert.Contains(t, err.Error(), "timed out after 10ms")
	})

	t.Run("invalid timeout is rejected before any call", func(t *testing.T) {
		gen := &fakeGenerator{result: &Result{Text: fencedOutput}}
		orch := newTestOrchestrator(gen, TimeoutPolicy{})

		timeoutMS := 0
		_, err := orch.Generate(ctx, Params{TimeoutMS: &timeoutMS})
		assert.ErrorIs(t, err, ErrInvalidTimeout)
		assert.Empty(t, gen.gotModel)
	})

	t.Run("capability failure becomes a transport error", func(t *testing.T) {
		upstream := errors.New("connection refused")
		gen := &fakeGenerator{err: upstream}
		orch := newTestOrchestrator(gen, TimeoutPolicy{})

		_, err := orch.Generate(ctx, Params{})
		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.ErrorIs(t, err, upstream)
	})

	t.Run("output without the playwright import is rejected", func(t *testing.T) {
		gen := &fakeGenerator{result: &Result{Text: "```python\ndef test_x():\n    pass\n```"}}
		orch := newTestOrchestrator(gen, TimeoutPolicy{})

		_, err := orch.Generate(ctx, Params{})
		assert.ErrorIs(t, err, script.ErrMissingPlaywrightImport)
	})

	t.Run("output without a test function is rejected", func(t *testing.T) {
		gen := &fakeGenerator{result: &Result{Text: "from playwright.sync_api import Page\n\nhelper = 1"}}
		orch := newTestOrchestrator(gen, TimeoutPolicy{})

		_, err := orch.Generate(ctx, Params{})
		assert.ErrorIs(t, err, script.ErrNoTestFunction)
	})

	t.Run("passes the requested model and temperature through", func(t *testing.T) {
		gen := &fakeGenerator{result: &Result{Text: fencedOutput}}
		orch := newTestOrchestrator(gen, TimeoutPolicy{})

		temperature := 0.7
		_, err := orch.Generate(ctx, Params{Model: "gpt-4.1", Temperature: &temperature})
		require.NoError(t, err)
		assert.Equal(t, "gpt-4.1", gen.gotModel)
		require.NotNil(t, gen.gotTemperature)
		assert.Equal(t, 0.7, *gen.gotTemperature)
	})
}
