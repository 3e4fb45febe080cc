// Package summary renders and persists the optional markdown session
// summary: the one piece of persistent transcript state this system
// keeps, written only on user confirmation at quit.
package summary

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Turn is one transcribed-utterance/response pair recorded during a
// session, in the order they occurred.
type Turn struct {
	Transcript string
	Response   string
}

// Dir is the directory (relative to $HOME) session summaries are written
// under.
const Dir = "space-lt-sessions"

// FileName returns the "YYYY-MM-DD_HH-MM.md" file name for t.
func FileName(t time.Time) string {
	return t.Format("2006-01-02_15-04") + ".md"
}

// Path returns the full path a summary for t should be written to, given
// home (typically os.UserHomeDir()).
func Path(home string, t time.Time) string {
	return filepath.Join(home, Dir, FileName(t))
}

// BuildMarkdown renders turns into the markdown document the
// orchestrator sends back as SummaryResponse and the client ultimately
// persists to disk.
func BuildMarkdown(turns []Turn, generatedAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session summary — %s\n\n", generatedAt.Format("2006-01-02 15:04"))
	if len(turns) == 0 {
		b.WriteString("_No exchanges recorded._\n")
		return b.String()
	}
	for i, turn := range turns {
		fmt.Fprintf(&b, "## Exchange %d\n\n", i+1)
		fmt.Fprintf(&b, "**You:** %s\n\n", turn.Transcript)
		fmt.Fprintf(&b, "**AI:** %s\n\n", turn.Response)
	}
	return b.String()
}

// Write persists content to path, creating any missing parent
// directories (e.g. "~/space-lt-sessions/") along the way.
func Write(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating summary directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing summary file: %w", err)
	}
	return nil
}
