package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourorg/loadcore/internal/filter"
	"github.com/yourorg/loadcore/pkg/types"
)

// RunSummary is the plain-text digest of one run.
type RunSummary struct {
	Run       types.Run
	Summaries []types.StatSummary
	Artifacts []types.Artifact
	Endpoints []filter.EndpointSummary
}

// RenderMarkdown renders a run digest as markdown.
func RenderMarkdown(s RunSummary) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "# LoadCore run %s\n\n", s.Run.ID)
	fmt.Fprintf(b, "- Config: %s\n", s.Run.ConfigName)
	fmt.Fprintf(b, "- Session: %s\n", orDash(s.Run.SessionID))
	fmt.Fprintf(b, "- Test: %s\n", orDash(s.Run.TestID))
	fmt.Fprintf(b, "- Status: **%s**\n", s.Run.Status)
	fmt.Fprintf(b, "- Started: %s\n", formatTime(s.Run.StartedAt))
	fmt.Fprintf(b, "- Ended: %s\n", formatTime(s.Run.EndedAt))
	if s.Run.Error != "" {
		fmt.Fprintf(b, "- Error: `%s`\n", s.Run.Error)
	}

	if len(s.Summaries) > 0 {
		fmt.Fprintln(b, "\n## Statistics")
		fmt.Fprintln(b, "| View | Column | Summary | Value |")
		fmt.Fprintln(b, "|---|---|---|---|")
		for _, st := range s.Summaries {
			fmt.Fprintf(b, "| %s | %s | %s | %g |\n", st.View, st.Column, st.Summary, st.Value)
		}
	}

	if len(s.Artifacts) > 0 {
		fmt.Fprintln(b, "\n## Artifacts")
		for _, a := range s.Artifacts {
			line := fmt.Sprintf("- %s: `%s`", a.Kind, a.Path)
			if a.RemoteURL != "" {
				line += " (" + a.RemoteURL + ")"
			}
			fmt.Fprintln(b, line)
		}
	}

	if len(s.Endpoints) > 0 {
		fmt.Fprintln(b, "\n## REST calls")
		fmt.Fprintln(b, "| Method | Path | Calls | Failures | Max latency (ms) |")
		fmt.Fprintln(b, "|---|---|---|---|---|")
		for _, e := range s.Endpoints {
			fmt.Fprintf(b, "| %s | %s | %d | %d | %d |\n", e.Method, e.Path, e.Calls, e.Failures, e.MaxLatencyMs)
		}
	}
	return b.String()
}

// WriteMarkdown writes the run digest to dir/summary.md.
func WriteMarkdown(dir string, s RunSummary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "summary.md")
	if err := os.WriteFile(path, []byte(RenderMarkdown(s)), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(headerTimeLayout)
}
