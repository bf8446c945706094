package explainer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bhandras/codetutor/server/internal/session/runtime"
)

const (
	// DefaultFragmentRunes is the size of each streamed fragment.
	DefaultFragmentRunes = 50
	// DefaultFragmentDelay paces the offline stream.
	DefaultFragmentDelay = 50 * time.Millisecond
)

// OfflineConfig configures the Offline explainer.
type OfflineConfig struct {
	FragmentRunes int
	// FragmentDelay is the pause between fragments. Negative disables it.
	FragmentDelay time.Duration
}

// Offline explains code without a language model. It describes the
// constructs it recognizes and quotes any reference material.
type Offline struct {
	fragmentRunes int
	delay         time.Duration
}

// NewOffline creates an Offline explainer.
func NewOffline(cfg OfflineConfig) *Offline {
	if cfg.FragmentRunes <= 0 {
		cfg.FragmentRunes = DefaultFragmentRunes
	}
	if cfg.FragmentDelay == 0 {
		cfg.FragmentDelay = DefaultFragmentDelay
	}
	if cfg.FragmentDelay < 0 {
		cfg.FragmentDelay = 0
	}
	return &Offline{fragmentRunes: cfg.FragmentRunes, delay: cfg.FragmentDelay}
}

// Explain implements runtime.Explainer.
func (o *Offline) Explain(ctx context.Context, req runtime.ExplainRequest, emit func(string) error) error {
	for i, fragment := range Fragments(Describe(req), o.fragmentRunes) {
		if i > 0 && o.delay > 0 {
			timer := time.NewTimer(o.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(fragment); err != nil {
			return err
		}
	}
	return nil
}

// Fragments splits text into pieces of at most size runes.
func Fragments(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// construct is a recognizable code feature.
type construct struct {
	name    string
	markers map[runtime.Language][]string
	note    string
}

var constructs = []construct{
	{
		name: "Imports",
		markers: map[runtime.Language][]string{
			runtime.Python:     {"import ", "from "},
			runtime.JavaScript: {"require(", "import "},
		},
		note: "the program pulls in library code before using it.",
	},
	{
		name: "Functions",
		markers: map[runtime.Language][]string{
			runtime.Python:     {"def ", "lambda "},
			runtime.JavaScript: {"function ", "=>"},
		},
		note: "reusable blocks of logic are defined and later called by name.",
	},
	{
		name: "Classes",
		markers: map[runtime.Language][]string{
			runtime.Python:     {"class "},
			runtime.JavaScript: {"class "},
		},
		note: "data and behaviour are grouped into a type.",
	},
	{
		name: "Loops",
		markers: map[runtime.Language][]string{
			runtime.Python:     {"for ", "while "},
			runtime.JavaScript: {"for (", "for(", "while (", "while(", ".forEach("},
		},
		note: "a block runs repeatedly; check that each loop terminates.",
	},
	{
		name: "Conditionals",
		markers: map[runtime.Language][]string{
			runtime.Python:     {"if ", "elif "},
			runtime.JavaScript: {"if (", "if(", "switch"},
		},
		note: "the program chooses between branches based on a test.",
	},
	{
		name: "Error handling",
		markers: map[runtime.Language][]string{
			runtime.Python:     {"try:", "except", "raise "},
			runtime.JavaScript: {"try {", "catch", "throw "},
		},
		note: "failures are caught or signalled explicitly.",
	},
	{
		name: "Output",
		markers: map[runtime.Language][]string{
			runtime.Python:     {"print("},
			runtime.JavaScript: {"console.log(", "console.error("},
		},
		note: "results are written to the console, which you see as program output.",
	},
}

// Describe renders the offline explanation for req.
func Describe(req runtime.ExplainRequest) string {
	code := strings.TrimSpace(req.Code)
	lines := 0
	if code != "" {
		lines = strings.Count(code, "\n") + 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Overview\nThis %s program has %d line(s) of code.\n\n", req.Language, lines)

	b.WriteString("## Key concepts\n")
	found := 0
	for _, c := range constructs {
		if containsAny(code, c.markers[req.Language]) {
			fmt.Fprintf(&b, "- %s: %s\n", c.name, c.note)
			found++
		}
	}
	if found == 0 {
		b.WriteString("- Straight-line code: statements run top to bottom once.\n")
	}

	b.WriteString("\n## Step by step\n")
	step := 0
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isComment(req.Language, line) {
			continue
		}
		step++
		if step > 10 {
			b.WriteString("...\n")
			break
		}
		fmt.Fprintf(&b, "%d. `%s`\n", step, line)
	}

	if len(req.References) > 0 {
		b.WriteString("\n## From your reference material\n")
		for i, ref := range req.References {
			fmt.Fprintf(&b, "Reference %d: %s\n", i+1, excerpt(ref, 200))
		}
	}

	b.WriteString("\n## Next steps\nRun the code with different inputs and compare the output with what you expect.\n")
	return b.String()
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func isComment(lang runtime.Language, line string) bool {
	switch lang {
	case runtime.Python:
		return strings.HasPrefix(line, "#")
	case runtime.JavaScript:
		return strings.HasPrefix(line, "//")
	}
	return false
}

func excerpt(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
