// This file implements artifact inspection and upload commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	artifactsName    string
	artifactsVersion int
	artifactsOutput  string
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect and upload project artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List the latest version of every artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactsList,
}

var artifactsVersionsCmd = &cobra.Command{
	Use:   "versions <project> <name>",
	Short: "List every version of one artifact",
	Args:  cobra.ExactArgs(2),
	RunE:  runArtifactsVersions,
}

var artifactsGetCmd = &cobra.Command{
	Use:   "get <project> <name>",
	Short: "Write an artifact's content to a file or stdout",
	Long: `Write an artifact's content to a file or stdout.

Examples:
  ascent artifacts get heart-disease dataset -o dataset.csv
  ascent artifacts get heart-disease statistics_report --version 2`,
	Args: cobra.ExactArgs(2),
	RunE: runArtifactsGet,
}

var artifactsUploadCmd = &cobra.Command{
	Use:   "upload <project> <file>",
	Short: "Upload a file as a project artifact",
	Long: `Upload a file as a project artifact. Uploading under an existing name
creates a new version; nothing is ever overwritten.

Examples:
  ascent artifacts upload heart-disease ./heart.csv
  ascent artifacts upload heart-disease ./heart.csv --name dataset`,
	Args: cobra.ExactArgs(2),
	RunE: runArtifactsUpload,
}

func init() {
	rootCmd.AddCommand(artifactsCmd)
	artifactsCmd.AddCommand(artifactsListCmd, artifactsVersionsCmd, artifactsGetCmd, artifactsUploadCmd)

	artifactsUploadCmd.Flags().StringVar(&artifactsName, "name", "dataset", "Artifact name to store the file under")
	artifactsGetCmd.Flags().IntVar(&artifactsVersion, "version", 0, "Version to fetch (latest when omitted)")
	artifactsGetCmd.Flags().StringVarP(&artifactsOutput, "output", "o", "", "Destination file (stdout when omitted)")
}

func runArtifactsList(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	proj, err := findProject(application, args[0])
	if err != nil {
		return err
	}

	listing, err := application.store.List(proj.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(listing) == 0 {
		fmt.Fprintln(out, "No artifacts. Upload a dataset with: ascent artifacts upload")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tSIZE\tPRODUCER\tCREATED")
	for _, artifact := range listing {
		fmt.Fprintf(w, "%s\tv%d\t%s\t%s\t%s\n",
			artifact.Name, artifact.Version, formatBytes(artifact.Size),
			artifact.Producer, artifact.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runArtifactsVersions(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	proj, err := findProject(application, args[0])
	if err != nil {
		return err
	}

	versions, err := application.store.ListVersions(proj.ID, args[1])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSIZE\tHASH\tPRODUCER\tCREATED")
	for _, artifact := range versions {
		fmt.Fprintf(w, "v%d\t%s\t%s\t%s\t%s\n",
			artifact.Version, formatBytes(artifact.Size), shortHash(artifact.Hash),
			artifact.Producer, artifact.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runArtifactsGet(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	proj, err := findProject(application, args[0])
	if err != nil {
		return err
	}

	name := args[1]
	artifact, err := application.store.GetLatest(proj.ID, name)
	if artifactsVersion > 0 {
		artifact, err = application.store.GetVersion(proj.ID, name, artifactsVersion)
	}
	if err != nil {
		return err
	}

	reader, err := application.store.Open(artifact)
	if err != nil {
		return err
	}
	defer reader.Close()

	if artifactsOutput == "" {
		_, err = io.Copy(cmd.OutOrStdout(), reader)
		return err
	}

	dest, err := os.Create(artifactsOutput)
	if err != nil {
		return err
	}
	defer dest.Close()

	if _, err := io.Copy(dest, reader); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s v%d to %s\n", artifact.Name, artifact.Version, artifactsOutput)
	return nil
}

func runArtifactsUpload(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	proj, err := findProject(application, args[0])
	if err != nil {
		return err
	}

	srcPath := args[1]
	name := artifactsName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	}

	artifact, err := application.store.RegisterUpload(proj.ID, name, srcPath)
	if err != nil {
		return err
	}
	if err := application.projects.RecordArtifact(proj.ID, name, artifact.Version, artifact.Hash); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s as %s v%d (%s)\n",
		filepath.Base(srcPath), artifact.Name, artifact.Version, formatBytes(artifact.Size))
	return nil
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(n)/float64(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
