package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tdnguyen/pgguard/internal/core/config"
	"github.com/tdnguyen/pgguard/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current database connection status",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	// os.Exit skips deferred calls, so the work happens in statusRun and
	// only the exit code escapes it.
	os.Exit(statusRun())
}

func statusRun() int {
	_ = godotenv.Load()
	initLogger(slog.LevelWarn)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		return 1
	}

	// One attempt only; a CLI invocation should not sit in a retry loop.
	dbCfg := cfg.Database
	dbCfg.MaxRetries = 1

	ctx := context.Background()
	supervisor := postgres.NewSupervisor(dbCfg, slog.Default())
	res := supervisor.Initialize(ctx)
	defer supervisor.Disconnect()

	status := supervisor.GetStatus()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "FIELD\tVALUE")
	_, _ = fmt.Fprintf(w, "connected\t%t\n", status.Connected)
	_, _ = fmt.Fprintf(w, "url\t%s\n", status.URL)
	if !status.LastConnectedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "last connected\t%s\n", status.LastConnectedAt.Format(time.RFC3339))
	}
	_, _ = fmt.Fprintf(w, "retry count\t%d\n", status.RetryCount)
	if status.LastError != "" {
		_, _ = fmt.Fprintf(w, "last error\t%s\n", status.LastError)
	}
	_ = w.Flush()

	if !res.Success {
		return 1
	}

	printRecentOutages(ctx, supervisor)
	return 0
}

func printRecentOutages(ctx context.Context, supervisor *postgres.Supervisor) {
	repo, err := postgres.NewOutageRepo(supervisor)
	if err != nil {
		return
	}
	outages, err := repo.Recent(ctx, 5)
	if err != nil || len(outages) == 0 {
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "OUTAGE START\tRECOVERED\tATTEMPTS\tCATEGORY")
	for _, o := range outages {
		recovered := "-"
		if o.RecoveredAt != nil {
			recovered = o.RecoveredAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			o.StartedAt.Format(time.RFC3339), recovered, o.Attempts, o.Category)
	}
	_ = w.Flush()
}
