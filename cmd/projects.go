// This file implements project lifecycle commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adalundhe/ascent/core/project"
)

var (
	projectsProfile string
	projectsParams  []string
	projectsJSON    bool
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectsList,
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Long: `Create a project.

Examples:
  ascent projects create heart-disease
  ascent projects create heart-disease --profile gemini
  ascent projects create heart-disease --param imputation=mice`,
	Args: cobra.ExactArgs(1),
	RunE: runProjectsCreate,
}

var projectsShowCmd = &cobra.Command{
	Use:   "show <project>",
	Short: "Show a project's state and recent history",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsShow,
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete <project>",
	Short: "Delete a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsDelete,
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.AddCommand(projectsListCmd, projectsCreateCmd, projectsShowCmd, projectsDeleteCmd)

	projectsCreateCmd.Flags().StringVar(&projectsProfile, "profile", "", "Provider profile (defaults to the configured default)")
	projectsCreateCmd.Flags().StringArrayVar(&projectsParams, "param", nil, "Engine parameter as key=value, repeatable")
	projectsListCmd.Flags().BoolVar(&projectsJSON, "json", false, "Output as JSON")
	projectsShowCmd.Flags().BoolVar(&projectsJSON, "json", false, "Output as JSON")
}

func runProjectsList(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ids, err := application.projects.List()
	if err != nil {
		return err
	}

	summaries := make([]*project.Project, 0, len(ids))
	for _, id := range ids {
		proj, err := application.projects.Restore(id)
		if err != nil {
			application.logger.Warn("skipping unreadable project", "id", id, "error", err)
			continue
		}
		summaries = append(summaries, proj)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	out := cmd.OutOrStdout()
	if projectsJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(out, "No projects. Create one with: ascent projects create <name>")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTAGE\tTURNS\tUPDATED")
	for _, proj := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			proj.ID, proj.Name, proj.StageName, len(proj.Turns),
			proj.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runProjectsCreate(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	params, err := parseParams(projectsParams)
	if err != nil {
		return err
	}

	profile := projectsProfile
	if profile == "" {
		profile = application.cfg.Providers.DefaultProfile
	}

	proj, err := application.projects.Create(args[0], profile, params)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s) using profile %s\n",
		proj.Name, proj.ID, proj.Profile)
	return nil
}

func runProjectsShow(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	proj, err := findProject(application, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if projectsJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(proj)
	}

	fmt.Fprintf(out, "%s%s%s (%s)\n", colorBold, proj.Name, colorReset, proj.ID)
	fmt.Fprintf(out, "Stage:   %s\n", proj.StageName)
	fmt.Fprintf(out, "Profile: %s\n", proj.Profile)
	fmt.Fprintf(out, "Created: %s\n", proj.CreatedAt.Format("2006-01-02 15:04"))
	if len(proj.Params) > 0 {
		fmt.Fprintln(out, "Params:")
		for _, key := range sortedKeys(proj.Params) {
			fmt.Fprintf(out, "  %s = %s\n", key, proj.Params[key])
		}
	}
	if len(proj.Artifacts) > 0 {
		fmt.Fprintln(out, "Artifacts:")
		for _, name := range sortedRefKeys(proj.Artifacts) {
			ref := proj.Artifacts[name]
			fmt.Fprintf(out, "  %s v%d\n", ref.Name, ref.LatestVersion)
		}
	}
	if proj.Summary != "" {
		fmt.Fprintf(out, "Summary: %s\n", proj.Summary)
	}

	printRecentTurns(out, proj.Turns, 10)
	return nil
}

func runProjectsDelete(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	proj, err := findProject(application, args[0])
	if err != nil {
		return err
	}
	if err := application.projects.Delete(proj.ID); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s (%s)\n", proj.Name, proj.ID)
	return nil
}

func printRecentTurns(out io.Writer, turns []project.Turn, n int) {
	if len(turns) == 0 {
		return
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	fmt.Fprintln(out, "Recent turns:")
	for _, turn := range turns {
		switch turn.Role {
		case project.RoleTool:
			if turn.ToolResult != nil {
				fmt.Fprintf(out, "  %s[%s]%s %s: %s\n",
					colorGray, turn.ToolResult.Status, colorReset,
					turn.ToolResult.Tool, firstLine(turn.ToolResult.Summary))
			}
		default:
			fmt.Fprintf(out, "  %s%s:%s %s\n",
				colorGray, turn.Role, colorReset, firstLine(turn.Content))
		}
	}
}

func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if index := strings.IndexByte(s, '\n'); index >= 0 {
		s = s[:index]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedRefKeys(m map[string]project.ArtifactRef) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
