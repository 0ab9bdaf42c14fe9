// Package script extracts canonical Playwright test scripts from raw LLM
// output and stamps finalized scripts with provenance trace headers.
package script

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrMissingPlaywrightImport is returned when the script does not import
	// the required automation API.
	ErrMissingPlaywrightImport = errors.New("script must import playwright.sync_api")

	// ErrNoTestFunction is returned when no test_-prefixed function
	// definition is found.
	ErrNoTestFunction = errors.New("script does not include a pytest test function")
)

// playwrightImportMarker is the exact substring every accepted script must
// contain.
const playwrightImportMarker = "playwright.sync_api"

var (
	codeFenceRE = regexp.MustCompile("(?is)```(?:python)?\\s*(.*?)```")
	testNameRE  = regexp.MustCompile(`def\s+(test_[A-Za-z0-9_]+)\s*\(`)
)

// UnwrapCodeFence returns the inner content of the first fenced code block,
// or the trimmed text when no fence is present. A language tag on the fence
// is ignored.
func UnwrapCodeFence(text string) string {
	if match := codeFenceRE.FindStringSubmatch(text); match != nil {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(text)
}

// Validate extracts the canonical script body from raw generation output and
// checks it for the required import and a test_-prefixed function.
func Validate(raw string) (string, error) {
	body := UnwrapCodeFence(raw)

	if !strings.Contains(body, playwrightImportMarker) {
		return "", ErrMissingPlaywrightImport
	}
	if _, err := testName(body); err != nil {
		return "", err
	}
	return body, nil
}

// ExtractTestName re-derives the test name from an already-accepted script.
// It unwraps a code fence if present but skips the import check.
func ExtractTestName(raw string) (string, error) {
	return testName(UnwrapCodeFence(raw))
}

func testName(body string) (string, error) {
	match := testNameRE.FindStringSubmatch(body)
	if match == nil {
		return "", ErrNoTestFunction
	}
	return match[1], nil
}
