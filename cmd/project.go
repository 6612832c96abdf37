package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vibeagents/vibe/internal/models"
	"github.com/vibeagents/vibe/internal/output"
	"github.com/vibeagents/vibe/internal/store"
)

var projectStatus string

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage built projects",
	Long:  "List, show, and delete projects built by the agent pipeline.",
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List built projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <name-or-id>",
	Short: "Show detailed project information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(args[0])
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:     "delete <name-or-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a project record",
	Long:    "Soft-delete a project record. Generated files on disk are left untouched.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectDeleteRun(args[0])
	},
}

func init() {
	projectListCmd.Flags().StringVar(&projectStatus, "status", "", "Filter by status: active or archived")

	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	projects, err := s.ListProjects(rootCmd.Context(), models.ProjectStatus(projectStatus), 0)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	if len(projects) == 0 {
		ui.Info("No projects yet. Start one with 'vibe chat'.")
		return nil
	}

	table := ui.Table([]string{"NAME", "STATUS", "FILES", "UPDATED", "DIRECTORY"})
	for _, p := range projects {
		table.Append([]string{
			output.Cyan(p.Name),
			string(p.Status),
			strconv.Itoa(p.FileCount),
			p.UpdatedAt.Format("2006-01-02 15:04"),
			p.Directory,
		})
	}
	return table.Render()
}

func projectShowRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	p, err := lookupProject(s, ref)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(p.Name))
	if p.Description != "" {
		fmt.Fprintf(ui.Out, "  %s\n", p.Description)
	}
	fmt.Fprintf(ui.Out, "  ID:        %s\n", p.ID)
	fmt.Fprintf(ui.Out, "  Status:    %s\n", p.Status)
	fmt.Fprintf(ui.Out, "  Directory: %s\n", p.Directory)
	fmt.Fprintf(ui.Out, "  Files:     %d\n", p.FileCount)
	fmt.Fprintf(ui.Out, "  Created:   %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(ui.Out, "  Updated:   %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))

	if p.PlanJSON != "" {
		var plan models.Plan
		if err := json.Unmarshal([]byte(p.PlanJSON), &plan); err == nil && len(plan.Tasks) > 0 {
			fmt.Fprintln(ui.Out)
			fmt.Fprintf(ui.Out, "  Plan: %s\n", plan.Summary)
			for _, task := range plan.Tasks {
				fmt.Fprintf(ui.Out, "    %d. [%s] %s\n", task.ID, task.Status, task.Title)
			}
		}
	}
	return nil
}

func projectDeleteRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	p, err := lookupProject(s, ref)
	if err != nil {
		return err
	}

	if err := s.DeleteProject(rootCmd.Context(), p.ID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}

	ui.Success("Deleted project %s (files kept at %s)", p.Name, p.Directory)
	return nil
}

// lookupProject resolves a name first, then falls back to an ID.
func lookupProject(s store.Store, ref string) (*models.Project, error) {
	p, err := s.GetProjectByName(rootCmd.Context(), ref)
	if err == nil {
		return p, nil
	}
	p, err = s.GetProject(rootCmd.Context(), ref)
	if err != nil {
		return nil, fmt.Errorf("project not found: %s", ref)
	}
	return p, nil
}
