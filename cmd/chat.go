// This file implements the chat command, the conversational entry point.
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/ascent/core/project"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// timeRounding keeps tool durations readable in the transcript.
const timeRounding = 10 * time.Millisecond

var chatMessage string

var chatCmd = &cobra.Command{
	Use:   "chat <project>",
	Short: "Talk to the copilot about a project",
	Long: `Open an interactive conversation with the copilot for a project.

The project may be referenced by ID or by name. Press Ctrl+C while a turn is
running to cancel the in-flight work; press it at the prompt to leave.

Examples:
  ascent chat heart-disease
  ascent chat heart-disease -m "impute the missing values"`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send a single message and exit")
}

func runChat(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	proj, err := findProject(application, args[0])
	if err != nil {
		return err
	}

	if chatMessage != "" {
		return sendMessage(cmd.OutOrStdout(), application, proj.ID, chatMessage)
	}
	return chatLoop(cmd, application, proj)
}

// chatLoop reads messages from stdin until EOF. SIGINT cancels the in-flight
// turn when one is running and is otherwise ignored, so a stray Ctrl+C never
// tears down the session.
func chatLoop(cmd *cobra.Command, application *app, proj *project.Project) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "%s%sascent%s  project %s%s%s (stage %s)\n",
		colorBold, colorCyan, colorReset,
		colorBold, proj.Name, colorReset, proj.StageName)
	fmt.Fprintf(out, "%sType a message, or Ctrl+D to leave.%s\n\n", colorGray, colorReset)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	go func() {
		for range interrupts {
			if !application.engine.Cancel(proj.ID) {
				fmt.Fprintf(out, "\n%sNothing running. Ctrl+D to leave.%s\n", colorGray, colorReset)
			}
		}
	}()

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprintf(out, "%syou>%s ", colorGreen, colorReset)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}

		if err := sendMessage(out, application, proj.ID, message); err != nil {
			return err
		}
	}
}

func sendMessage(out io.Writer, application *app, projectID, message string) error {
	reply, err := application.engine.HandleUserMessage(context.Background(), projectID, message)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(out, "%sTurn cancelled.%s\n", colorYellow, colorReset)
			return nil
		}
		if errors.Is(err, project.ErrConcurrentModification) {
			fmt.Fprintf(out, "%sA turn is already running for this project.%s\n", colorYellow, colorReset)
			return nil
		}
		return err
	}

	for _, result := range reply.ToolResults {
		printToolResult(out, result)
	}

	if reply.Failed {
		fmt.Fprintf(out, "%s%s%s\n", colorRed, reply.Text, colorReset)
		return nil
	}
	fmt.Fprintf(out, "%s\n", reply.Text)
	return nil
}

func printToolResult(out io.Writer, result project.ToolResultRecord) {
	status := colorGreen
	if result.Status != "succeeded" {
		status = colorRed
	}
	fmt.Fprintf(out, "%s[%s]%s %s%s%s (%s)\n",
		status, result.Status, colorReset,
		colorBold, result.Tool, colorReset,
		result.Duration.Round(timeRounding))

	if result.Summary != "" {
		fmt.Fprintf(out, "   %s%s%s\n", colorGray, result.Summary, colorReset)
	}
	for name, version := range result.Artifacts {
		fmt.Fprintf(out, "   %sartifact%s %s v%d\n", colorCyan, colorReset, name, version)
	}
	for _, figure := range result.Figures {
		fmt.Fprintf(out, "   %sfigure%s %s\n", colorCyan, colorReset, figure)
	}
}

// findProject resolves a project reference, trying the ID first and falling
// back to a name lookup across all projects.
func findProject(application *app, ref string) (*project.Project, error) {
	if proj, err := application.projects.Restore(ref); err == nil {
		return proj, nil
	}

	ids, err := application.projects.List()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		proj, err := application.projects.Restore(id)
		if err != nil {
			continue
		}
		if proj.Name == ref {
			return proj, nil
		}
	}
	return nil, fmt.Errorf("no project with ID or name %q", ref)
}
