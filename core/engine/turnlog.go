package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adalundhe/ascent/core/project"
)

// turnLogger writes one file per committed turn under the project's logs
// directory, for audit independent of the structured history. A zero value
// with an empty dir disables logging entirely.
type turnLogger struct {
	dir string
}

func (l *turnLogger) Log(turn project.Turn) {
	if l.dir == "" {
		return
	}

	projectDir := filepath.Join(l.dir, turn.ProjectID)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return
	}

	name := fmt.Sprintf("turn_%05d_%s.log", turn.Seq, turn.Role)
	body := fmt.Sprintf("time: %s\nrole: %s\nvisibility: %s\n\n%s\n",
		turn.Timestamp.Format(time.RFC3339),
		turn.Role,
		turn.Visibility,
		turn.Content)

	for _, call := range turn.ToolCalls {
		body += fmt.Sprintf("\ntool_call %s %s %s\n", call.ID, call.Name, call.Arguments)
	}
	if turn.ToolResult != nil {
		body += fmt.Sprintf("\ntool_result %s %s: %s\n",
			turn.ToolResult.Tool, turn.ToolResult.Status, turn.ToolResult.Summary)
	}

	os.WriteFile(filepath.Join(projectDir, name), []byte(body), 0o644)
}
