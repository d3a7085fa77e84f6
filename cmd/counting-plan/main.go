// counting-plan runs annual counting plan jobs against the configured database.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/counting-plan create --year 2025
//	go run ./cmd/counting-plan redistribute --plan 12
//	go run ./cmd/counting-plan export --plan 12 --out plan-2025.xlsx
//	go run ./cmd/counting-plan deadlines --days 7
//	DB_DRIVER=sqlite DB_NAME=assets.db go run ./cmd/counting-plan --migrate create --year 2025
//
// Mutating commands act as --user-id/--user-name (defaults to 1 / "System").
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/models/reports"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/spf13/cobra"
)

type options struct {
	userId   int
	userName string
	migrate  bool
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "counting-plan",
		Short:         "Annual counting plan jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().IntVar(&opts.userId, "user-id", 1, "acting user id")
	root.PersistentFlags().StringVar(&opts.userName, "user-name", "System", "acting user name")
	root.PersistentFlags().BoolVar(&opts.migrate, "migrate", false, "run AutoMigrate before the command")

	root.AddCommand(
		newCreateCommand(opts),
		newRedistributeCommand(opts),
		newExportCommand(opts),
		newDeadlinesCommand(opts),
	)
	return root
}

// setup connects the database and returns a service plus an actor context.
func setup(cmd *cobra.Command, opts *options) (*models.CountingService, context.Context, error) {
	db, err := config.OpenDatabase(config.LoadDatabaseConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if opts.migrate {
		if err := models.MigrateTable(db); err != nil {
			return nil, nil, err
		}
	}
	ctx := utils.SetActorInContext(cmd.Context(), opts.userId, opts.userName)
	service := models.NewCountingService(db, models.GormAssetSource{}, models.WithLogger(config.GetLogger()))
	return service, ctx, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCreateCommand(opts *options) *cobra.Command {
	input := &models.NewCountingPlan{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the counting plan of a year from the active assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, ctx, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			plan, err := service.CreateCountingPlan(ctx, input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan %d created for %d: %d assets, %d per period (tolerance %d-%d)\n",
				plan.ID, plan.Year, plan.TotalAssets, plan.TargetPerPeriod, plan.ToleranceMin, plan.ToleranceMax)
			for _, p := range plan.Periods {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-28s %4d  %s\n", p.Name, p.AssignedCount, p.Criterion)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&input.Year, "year", 0, "fiscal year of the plan")
	cmd.Flags().StringVar(&input.Notes, "notes", "", "plan notes")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func newRedistributeCommand(opts *options) *cobra.Command {
	var planId int
	cmd := &cobra.Command{
		Use:   "redistribute",
		Short: "Spread newly discovered active assets over the plan's open periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, ctx, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			result, err := service.RedistributeNewAssets(ctx, planId)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d new assets distributed\n", result.Distributed)
			return printJSON(cmd, result.AddedByPeriod)
		},
	}
	cmd.Flags().IntVar(&planId, "plan", 0, "plan id")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newExportCommand(opts *options) *cobra.Command {
	var (
		planId int
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a plan as xlsx (or JSON when --out is empty)",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, ctx, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			export, err := service.GetCountingPlanExport(ctx, planId)
			if err != nil {
				return err
			}
			if out == "" {
				return printJSON(cmd, export)
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := reports.WriteCountingPlanExcel(f, export); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().IntVar(&planId, "plan", 0, "plan id")
	cmd.Flags().StringVar(&out, "out", "", "xlsx output path")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newDeadlinesCommand(opts *options) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "deadlines",
		Short: "List open periods whose deadline is within the given days",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, ctx, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			alerts, err := service.ListPlansNearingDeadline(ctx, days)
			if err != nil {
				return err
			}
			for _, a := range alerts {
				fmt.Fprintf(cmd.OutOrStdout(), "plan %d (%s)\n", a.Plan.Year, a.Plan.Status)
				for _, p := range a.Periods {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-28s due %s  %d days  %d/%d counted\n",
						p.Period.Name, p.Period.Deadline.Format("2006-01-02"), p.DaysRemaining, p.Period.CountedAssets, p.Period.AssignedCount)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "look-ahead window in days")
	return cmd
}
