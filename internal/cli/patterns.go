package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tdnguyen/healer/internal/core/config"
	"github.com/tdnguyen/healer/internal/infra/storage/postgres"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List learned error patterns by occurrence count",
	Run:   runPatterns,
}

func init() {
	rootCmd.AddCommand(patternsCmd)
}

func runPatterns(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		fmt.Println("No database configured; patterns requires PostgreSQL storage")
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

	patterns, err := postgres.NewPatternRepo(db).GetAll(ctx)
	if err != nil {
		slog.Error("Failed to query patterns", "error", err)
		os.Exit(1)
	}
	if len(patterns) == 0 {
		fmt.Println("No patterns learned yet")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ERROR TYPE\tCATEGORY\tSEVERITY\tAUTO-FIX\tSEEN\tLAST SEEN")
	for _, p := range patterns {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
			p.ErrorType, p.Category, p.Severity, p.AutoFixable,
			p.OccurrenceCount, p.LastSeen.Local().Format(time.RFC3339))
	}
	_ = w.Flush()
}
