package generation

import (
	"context"
	"errors"

	"github.com/flowmarker/flowmarker/logger"
	"github.com/flowmarker/flowmarker/script"
)

// Params describes one generation request.
type Params struct {
	PageURL       string
	OutputContext string
	Annotations   []map[string]interface{}
	Model         string
	Temperature   *float64
	TimeoutMS     *int
}

// Output is a successful generation: the canonical script, its derived test
// name, any token accounting the capability reported, and the model actually
// used.
type Output struct {
	Script     string
	TestName   string
	TokenUsage map[string]interface{}
	ModelName  string
}

// Orchestrator builds the prompt, invokes the LLM capability under the
// resolved timeout, and converts the raw result into a canonical script. It
// persists nothing.
type Orchestrator struct {
	generator Generator
	policy    TimeoutPolicy
	logger    logger.Logger
}

// NewOrchestrator creates a generation orchestrator.
func NewOrchestrator(generator Generator, policy TimeoutPolicy, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		generator: generator,
		policy:    policy,
		logger:    log,
	}
}

// Generate runs one generation attempt. Failures classify into
// ErrInvalidTimeout, *TimeoutError, *TransportError, or the script package's
// validation errors; no partial result is ever returned.
func (o *Orchestrator) Generate(ctx context.Context, params Params) (*Output, error) {
	messages, err := BuildMessages(params.PageURL, params.OutputContext, params.Annotations)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	timeout, err := o.policy.Resolve(params.TimeoutMS, o.generator.DefaultTimeout())
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := o.generator.Generate(callCtx, messages, params.Model, params.Temperature)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			timeoutErr := &TimeoutError{
				Timeout:         timeout,
				Model:           fallbackModel("", params.Model),
				AnnotationCount: len(params.Annotations),
			}
			o.logger.Warn(ctx, "llm generation timed out", logger.Fields{
				"timeout_ms":  timeout.Milliseconds(),
				"model":       timeoutErr.Model,
				"annotations": timeoutErr.AnnotationCount,
			})
			return nil, timeoutErr
		}
		o.logger.Error(ctx, "llm generation failed", logger.Fields{
			"error": err.Error(),
		})
		return nil, &TransportError{Err: err}
	}

	body, err := script.Validate(result.Text)
	if err != nil {
		o.logger.Warn(ctx, "generated script rejected", logger.Fields{
			"error": err.Error(),
		})
		return nil, err
	}
	testName, err := script.ExtractTestName(body)
	if err != nil {
		return nil, err
	}

	modelName := fallbackModel(result.ModelName, params.Model)
	o.logger.Info(ctx, "script generated", logger.Fields{
		"model":     modelName,
		"test_name": testName,
	})

	return &Output{
		Script:     body,
		TestName:   testName,
		TokenUsage: result.Usage,
		ModelName:  modelName,
	}, nil
}

// fallbackModel resolves the reported model name through the fallback chain:
// capability-reported name, caller-requested model, then "unknown".
func fallbackModel(reported, requested string) string {
	if reported != "" {
		return reported
	}
	if requested != "" {
		return requested
	}
	return "unknown"
}
