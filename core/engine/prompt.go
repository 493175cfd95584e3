package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/adalundhe/ascent/core/project"
	"github.com/adalundhe/ascent/core/providers"
	"github.com/adalundhe/ascent/core/tools"
)

// ============================================================================
// Prompt Assembly
// ============================================================================

const basePrompt = `You are a data-science copilot. You help the user work a
dataset through a pipeline: ingest, explore, engineer, model, explain. You
never analyze data yourself; you call the available tools and interpret their
results for the user in plain language. Prefer one tool call at a time, keep
explanations short, and ask before advancing to a new pipeline stage.`

// buildSystemPrompt combines the base instructions with the project's
// current stage, parameters and working directory so the model always sees
// where the work stands.
func (e *Engine) buildSystemPrompt(proj *project.Project, summary string) string {
	var b strings.Builder

	prompt := e.cfg.SystemPrompt
	if prompt == "" {
		prompt = basePrompt
	}
	b.WriteString(prompt)

	fmt.Fprintf(&b, "\n\nCurrent pipeline stage: %s.", proj.Stage)

	if len(proj.Params) > 0 {
		b.WriteString("\nProject parameters:")
		names := make([]string, 0, len(proj.Params))
		for name := range proj.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "\n  %s = %s", name, proj.Params[name])
		}
	}

	if dir := e.describeWorkingDirectory(proj.ID); dir != "" {
		b.WriteString("\n\n")
		b.WriteString(dir)
	}

	if summary != "" {
		b.WriteString("\n\nSummary of earlier conversation:\n")
		b.WriteString(summary)
	}

	return b.String()
}

// describeWorkingDirectory lists the project's artifacts with sizes and
// versions, the way a collaborator would glance at a shared folder.
func (e *Engine) describeWorkingDirectory(projectID string) string {
	listed, err := e.store.List(projectID)
	if err != nil || len(listed) == 0 {
		return ""
	}

	sort.Slice(listed, func(i, j int) bool { return listed[i].Name < listed[j].Name })

	var b strings.Builder
	b.WriteString("Working directory:")
	for _, artifact := range listed {
		fmt.Fprintf(&b, "\n  %s (v%d, %s, updated %s)",
			artifact.Name,
			artifact.Version,
			formatSize(artifact.Size),
			artifact.CreatedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}

func formatSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

// convertTurns renders the model-visible window into provider messages.
func convertTurns(turns []project.Turn) []providers.Message {
	messages := make([]providers.Message, 0, len(turns))

	for _, turn := range turns {
		switch turn.Role {
		case project.RoleUser:
			messages = append(messages, providers.Message{
				Role:    providers.RoleUser,
				Content: turn.Content,
			})

		case project.RoleAssistant:
			msg := providers.Message{
				Role:    providers.RoleAssistant,
				Content: turn.Content,
			}
			for _, call := range turn.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
					ID:        call.ID,
					Name:      call.Name,
					Arguments: call.Arguments,
				})
			}
			messages = append(messages, msg)

		case project.RoleTool:
			if turn.ToolResult == nil {
				continue
			}
			messages = append(messages, providers.Message{
				Role:       providers.RoleTool,
				Content:    renderToolResult(turn.ToolResult),
				ToolCallID: turn.ToolResult.CallID,
				ToolName:   turn.ToolResult.Tool,
			})

		case project.RoleSystem:
			messages = append(messages, providers.Message{
				Role:    providers.RoleSystem,
				Content: turn.Content,
			})
		}
	}

	return messages
}

// renderToolResult is what the model reads back after a dispatch. JSON keeps
// it unambiguous for the model while staying human-inspectable in logs.
func renderToolResult(result *project.ToolResultRecord) string {
	view := map[string]any{
		"status": result.Status,
	}
	if result.Summary != "" {
		view["summary"] = result.Summary
	}
	if result.ErrorKind != "" {
		view["error_kind"] = result.ErrorKind
	}
	if result.Excerpt != "" {
		view["error_excerpt"] = result.Excerpt
	}
	if len(result.Artifacts) > 0 {
		view["artifacts"] = result.Artifacts
	}
	if len(result.Figures) > 0 {
		view["figures"] = result.Figures
	}
	if len(result.Tables) > 0 {
		view["tables"] = result.Tables
	}

	encoded, err := json.Marshal(view)
	if err != nil {
		return fmt.Sprintf(`{"status":%q}`, result.Status)
	}
	return string(encoded)
}

// catalogTools renders the sealed registry as provider tool metadata.
func catalogTools(descriptors []tools.Descriptor) []providers.Tool {
	result := make([]providers.Tool, len(descriptors))
	for i, desc := range descriptors {
		result[i] = providers.Tool{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  desc.ParametersSchema(),
		}
	}
	return result
}

func excerpt(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	return text[len(text)-max:]
}
