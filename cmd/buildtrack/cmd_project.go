package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vbonduro/buildtrack/internal/auth"
	"github.com/vbonduro/buildtrack/internal/domain"
	"github.com/vbonduro/buildtrack/internal/errsurface"
	"github.com/vbonduro/buildtrack/internal/service"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create and inspect projects without the HTTP server",
}

var (
	projectUser    string
	projectName    string
	projectAddress string
	projectClient  string
	projectType    string
)

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project seeded from the catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := a.service.CreateProject(ctx, service.NewProject{
				Name:        projectName,
				Address:     projectAddress,
				Client:      projectClient,
				ProjectType: domain.ProjectType(projectType),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.ID)
			return nil
		})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects with their completion",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			projects, err := a.service.ListProjects(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tPHASES\tCOMPLETE")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%.0f%%\n",
					p.ID, p.Name, p.ProjectType, p.Progress.PhasesDone, p.Progress.Phases, p.Progress.Completion*100)
			}
			return tw.Flush()
		})
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a project as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := a.service.GetProject(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		})
	},
}

func init() {
	projectCmd.PersistentFlags().StringVar(&projectUser, "user", "", "act as this user (default LOCAL_USER_ID)")

	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "project name (required)")
	projectCreateCmd.Flags().StringVar(&projectAddress, "address", "", "site address")
	projectCreateCmd.Flags().StringVar(&projectClient, "client", "", "client name")
	projectCreateCmd.Flags().StringVar(&projectType, "type", string(domain.ProjectResidential), "commercial, residential or industrial")
	_ = projectCreateCmd.MarkFlagRequired("name")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
}

// withApp runs fn as the selected user and drains queued writes before
// returning.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	cfg, logger, cleanup, err := loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	user := projectUser
	if user == "" {
		user = cfg.LocalUserID
	}
	ctx := auth.WithPrincipal(cmd.Context(), &auth.Principal{UserID: user})

	err = fn(ctx, a)
	if serr := a.shutdown(); serr != nil && err == nil {
		err = serr
	}
	// A denied write surfaces only after the queue drains.
	if state, perr := a.router.For(user).Current(); state == errsurface.StateError && err == nil {
		err = perr
	}
	return err
}
