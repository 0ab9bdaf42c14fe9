package script

import (
	"fmt"
	"strings"
	"time"
)

// Stamp prepends the provenance trace header block to a validated script:
// four single-line markers identifying the case, version, generation time,
// and model. A leading interpreter directive stays the very first line;
// exactly one blank line separates the header block from the body, and the
// result always ends with a single trailing newline.
func Stamp(body string, caseID string, versionNo int, model string, generatedAt time.Time) string {
	normalized := strings.TrimSpace(body)

	trace := strings.Join([]string{
		fmt.Sprintf("# fm_case_id: %s", caseID),
		fmt.Sprintf("# fm_version: %d", versionNo),
		fmt.Sprintf("# fm_generated_at: %s", generatedAt.UTC().Format(time.RFC3339)),
		fmt.Sprintf("# fm_model: %s", model),
	}, "\n")

	if strings.HasPrefix(normalized, "#!") {
		shebang, rest, _ := strings.Cut(normalized, "\n")
		return fmt.Sprintf("%s\n%s\n\n%s\n", shebang, trace, strings.TrimSpace(rest))
	}
	return fmt.Sprintf("%s\n\n%s\n", trace, normalized)
}
