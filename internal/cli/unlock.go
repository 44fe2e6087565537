package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tdnguyen/healer/internal/core/config"
	redisclient "github.com/tdnguyen/healer/internal/infra/redis"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock [task_id]",
	Short: "Release a stale healing lock, or all locks with no argument",
	Args:  cobra.MaximumNArgs(1),
	Run:   runUnlock,
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}

func runUnlock(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.URL == "" {
		fmt.Println("No Redis configured; nothing to unlock")
		os.Exit(1)
	}

	rc, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rc.Close()
	}()

	ctx := context.Background()
	if len(args) == 1 {
		if err := rc.ReleaseTaskLock(ctx, args[0]); err != nil {
			slog.Error("Failed to release lock", "task", args[0], "error", err)
			os.Exit(1)
		}
		fmt.Printf("Released healing lock for task %s\n", args[0])
		return
	}

	n, err := rc.ClearTransient(ctx, "healing:*")
	if err != nil {
		slog.Error("Failed to clear locks", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Released %d healing locks\n", n)
}
