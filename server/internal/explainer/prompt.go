package explainer

import (
	"fmt"
	"strings"

	"github.com/bhandras/codetutor/server/internal/session/runtime"
)

const systemPrompt = `You are an expert programming tutor. Provide a clear, educational explanation of the code.
Your explanation should:
1. Explain what the code does step-by-step
2. Highlight key programming concepts
3. Explain any likely errors and how to fix them
4. Suggest improvements or best practices
5. Use the provided reference materials when relevant
Structure your response with clear sections and be educational but concise.`

// userPrompt renders the request as the user turn of the conversation.
func userPrompt(req runtime.ExplainRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Language: %s\n\nCode:\n```%s\n%s\n```\n", req.Language, req.Language, req.Code)
	if refs := references(req.References); refs != "" {
		fmt.Fprintf(&b, "\nReference Materials:\n%s\n", refs)
	}
	b.WriteString("\nPlease provide a comprehensive explanation suitable for learning.")
	return b.String()
}

func references(refs []string) string {
	parts := make([]string, 0, len(refs))
	for i, r := range refs {
		parts = append(parts, fmt.Sprintf("Reference %d:\n%s", i+1, r))
	}
	return strings.Join(parts, "\n\n")
}
