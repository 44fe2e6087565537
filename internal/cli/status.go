package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tdnguyen/healer/internal/core/config"
	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/infra/storage/postgres"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent system health snapshots",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of snapshots to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		fmt.Println("No database configured; status requires PostgreSQL storage")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	snapshots, err := postgres.NewHealthRepo(db).Latest(ctx, statusLimit)
	if err != nil {
		slog.Error("Failed to query health log", "error", err)
		os.Exit(1)
	}
	if len(snapshots) == 0 {
		fmt.Println("No health snapshots recorded yet")
		return
	}

	latest := snapshots[0]
	fmt.Printf("Current health: %s (score %.3f)\n\n",
		colorStatus(latest.Status), latest.Score)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TIME\tSCORE\tSTATUS\tAUTO-HEAL\tACTIVE ISSUES")
	for _, s := range snapshots {
		_, _ = fmt.Fprintf(w, "%s\t%.3f\t%s\t%.0f%%\t%d\n",
			s.Timestamp.Local().Format(time.RFC3339),
			s.Score, s.Status, s.AutoHealingRate*100, s.ActiveIssues)
	}
	_ = w.Flush()
}

func colorStatus(status domain.HealthStatus) string {
	switch status {
	case domain.HealthExcellent, domain.HealthGood:
		return color.GreenString(string(status))
	case domain.HealthFair:
		return color.YellowString(string(status))
	default:
		return color.RedString(string(status))
	}
}
