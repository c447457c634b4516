package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/recontrole/internal/models"
	"github.com/fentz26/recontrole/internal/remote"
	"github.com/spf13/cobra"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List, file, and delete occurrence reports",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports grouped by location",
	RunE:  runReportsList,
}

var reportsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "File a new report",
	RunE:  runReportsAdd,
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete [report-id]",
	Short: "Delete one of your reports",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsDelete,
}

var (
	reportsRefresh bool
	reportCategory string
	reportLocation string
	reportDesc     string
	reportPhoto    string
)

func init() {
	reportsCmd.AddCommand(reportsListCmd, reportsAddCmd, reportsDeleteCmd)

	reportsListCmd.Flags().BoolVar(&reportsRefresh, "refresh", false, "Fetch from the remote instead of the local cache")

	reportsAddCmd.Flags().StringVar(&reportCategory, "category", "", "Report category (required)")
	reportsAddCmd.Flags().StringVar(&reportLocation, "location", "", "Where it happened (required)")
	reportsAddCmd.Flags().StringVar(&reportDesc, "description", "", "What happened (required)")
	reportsAddCmd.Flags().StringVar(&reportPhoto, "photo", "", "Path to a photo to attach")
	reportsAddCmd.MarkFlagRequired("category")
	reportsAddCmd.MarkFlagRequired("location")
	reportsAddCmd.MarkFlagRequired("description")
}

var (
	pendingColor    = lipgloss.Color("#EF4444")
	inProgressColor = lipgloss.Color("#F59E0B")
	finishedColor   = lipgloss.Color("#10B981")
	mutedColor      = lipgloss.Color("#6B7280")

	locationStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	idStyle = lipgloss.NewStyle().
		Foreground(mutedColor)
)

func statusStyle(s models.Status) lipgloss.Style {
	switch s {
	case models.StatusInProgress:
		return lipgloss.NewStyle().Foreground(inProgressColor).Bold(true)
	case models.StatusFinished:
		return lipgloss.NewStyle().Foreground(finishedColor).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(pendingColor).Bold(true)
	}
}

// renderGroups writes reports grouped by location.
func renderGroups(w io.Writer, groups []models.LocationGroup) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No reports found")
		return
	}
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		loc := g.Location
		if loc == "" {
			loc = "(no location)"
		}
		fmt.Fprintf(w, "%s (%d)\n", locationStyle.Render(loc), len(g.Incidents))
		for _, inc := range g.Incidents {
			fmt.Fprintf(w, "  %s  %s  %s: %s\n",
				idStyle.Render(fmt.Sprintf("%-8s", truncateID(inc.ID))),
				statusStyle(inc.Status).Render(fmt.Sprintf("%-11s", inc.Status.Label())),
				inc.Category,
				truncate(inc.Description, 60),
			)
		}
	}
}

func runReportsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	groups, err := a.service().Reports(cmd.Context(), reportsRefresh)
	if err != nil {
		return err
	}
	renderGroups(cmd.OutOrStdout(), groups)
	return nil
}

func runReportsAdd(cmd *cobra.Command, args []string) error {
	r := remote.NewReport{
		Category:    strings.TrimSpace(reportCategory),
		Location:    strings.TrimSpace(reportLocation),
		Description: strings.TrimSpace(reportDesc),
	}
	if reportPhoto != "" {
		data, err := os.ReadFile(reportPhoto)
		if err != nil {
			return fmt.Errorf("read photo: %w", err)
		}
		r.Photo = base64.StdEncoding.EncodeToString(data)
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	inc, err := a.service().CreateReport(cmd.Context(), r)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created report: %s\n", inc.ID)
	return nil
}

func runReportsDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.service().DeleteReport(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted report %s\n", args[0])
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
