package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/algoprep/internal/task"
)

// Export is the portable form of one task's state.
type Export struct {
	Slug  string     `json:"slug" yaml:"slug"`
	State *UserState `json:"state" yaml:"state"`
}

// ExportMarkdown renders the state of a task as a markdown document.
func ExportMarkdown(slug string, st *UserState, sig *task.Signature) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# %s\n\n", slug))
	if st.LastSaved > 0 {
		b.WriteString(fmt.Sprintf("- **Last saved:** %s\n", time.UnixMilli(st.LastSaved).UTC().Format("2006-01-02 15:04:05")))
	}
	if st.Timeout > 0 {
		b.WriteString(fmt.Sprintf("- **Timeout:** %ds\n", st.Timeout))
	} else {
		b.WriteString("- **Timeout:** none\n")
	}
	b.WriteString(fmt.Sprintf("- **Custom tests:** %d\n", len(st.Tests)))
	b.WriteString("\n---\n\n")

	b.WriteString("## Code\n\n```python\n")
	b.WriteString(strings.TrimRight(st.Code, "\n"))
	b.WriteString("\n```\n\n")

	if len(st.Tests) == 0 {
		return b.String()
	}
	b.WriteString("## Custom tests\n\n")
	for i, tc := range st.Tests {
		b.WriteString(fmt.Sprintf("### Test %d\n\n", i+1))
		if sig != nil {
			b.WriteString(fmt.Sprintf("```python\n%s\n```\n\n", sig.Call(tc.Args, 60)))
		} else {
			args, _ := json.Marshal(tc.Args)
			b.WriteString(fmt.Sprintf("**Args:** `%s`\n\n", args))
		}
		if tc.Stdin != nil && *tc.Stdin != "" {
			b.WriteString(fmt.Sprintf("**Stdin:**\n```\n%s\n```\n\n", *tc.Stdin))
		}
		if tc.Return != nil {
			b.WriteString(fmt.Sprintf("**Expected return:** `%s`\n\n", tc.Return.String()))
		}
		if tc.Stdout != nil {
			b.WriteString(fmt.Sprintf("**Expected stdout:**\n```\n%s\n```\n\n", *tc.Stdout))
		}
	}
	return b.String()
}

// ExportJSON renders the state of a task as formatted JSON.
func ExportJSON(slug string, st *UserState) ([]byte, error) {
	return json.MarshalIndent(Export{Slug: slug, State: st}, "", "  ")
}

// ExportYAML renders the state of a task as YAML.
func ExportYAML(slug string, st *UserState) ([]byte, error) {
	return yaml.Marshal(Export{Slug: slug, State: st})
}
