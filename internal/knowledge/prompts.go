package knowledge

import (
	"strings"
)

// PromptBuilder constructs the root-cause-analysis prompt handed to the Analyst.
type PromptBuilder struct{}

const rcaPreamble = "You are an SRE assistant. Based on the following error messages from Kubernetes pod logs " +
	"and the application source code, identify the root cause and explain whether the issue is code-related:\n\n"

// BuildRCAPrompt renders errors and retrieved code under fixed headings.
// code is expected to be the assembled "// Source:" blocks.
func (pb *PromptBuilder) BuildRCAPrompt(errorLines []string, code string) string {
	var sb strings.Builder
	sb.WriteString(rcaPreamble)
	sb.WriteString("Errors:\n")
	sb.WriteString(strings.Join(errorLines, "\n"))
	sb.WriteString("\n\nCode:\n")
	sb.WriteString(code)
	return sb.String()
}
