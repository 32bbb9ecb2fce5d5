package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voyagerhq/voyager/internal/config"
	"github.com/voyagerhq/voyager/internal/state"
	"github.com/voyagerhq/voyager/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status [request-id]",
	Short: "Show stored planning requests",
	Long: `Without arguments, list every stored request and its disposition.
With a request ID, show that request's task-level snapshot and result.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.DBPath(state.DefaultDBPath())
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No stored requests. Run 'voyager run <request.yaml>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	if len(args) == 1 {
		return showRequest(db, args[0])
	}
	return listRequests(db)
}

func listRequests(db *state.DB) error {
	results, err := db.ListResults()
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No stored requests.")
		return nil
	}

	fmt.Printf("%-12s %-10s %-20s %s\n", "REQUEST", "STATUS", "COMPLETED", "DETAIL")
	for _, result := range results {
		detail := ""
		if len(result.Unresolved) > 0 {
			detail = fmt.Sprintf("missing %v", result.Unresolved)
		} else if result.Error != "" {
			detail = result.Error
		}
		fmt.Printf("%-12s %-10s %-20s %s\n",
			result.RequestID,
			colorStatus(result.Status),
			result.CompletedAt.Local().Format("2006-01-02 15:04:05"),
			detail)
	}
	return nil
}

func showRequest(db *state.DB, requestID string) error {
	result, err := db.GetResult(requestID)
	if err == nil {
		fmt.Printf("%s %s %s\n", bold("request"), cyan(requestID), colorStatus(result.Status))
		if result.Error != "" {
			fmt.Printf("  error: %s\n", red(result.Error))
		}
		if len(result.Unresolved) > 0 {
			fmt.Printf("  missing: %v\n", result.Unresolved)
		}
	} else {
		fmt.Printf("%s %s (no final result stored)\n", bold("request"), cyan(requestID))
	}

	snap, err := db.GetSnapshot(requestID)
	if err != nil {
		return nil
	}

	fmt.Printf("\n  snapshot v%d (%s)\n", snap.Version, snap.TakenAt.Local().Format("15:04:05"))
	fmt.Printf("  %-16s %-4s %-10s %-8s %s\n", "TYPE", "PRI", "STATUS", "RETRIES", "ERROR")
	for _, task := range snap.Tasks {
		fmt.Printf("  %-16s %-4s %-10s %-8d %s\n",
			task.Type, task.Priority, task.Status, task.RetryCount, task.Error)
	}
	if len(snap.Locks) > 0 {
		fmt.Printf("  locks: %v\n", snap.Locks)
	}
	return nil
}

func colorStatus(status models.RequestStatus) string {
	switch status {
	case models.RequestStatusCompleted:
		return green(string(status))
	case models.RequestStatusPartial:
		return yellow(string(status))
	case models.RequestStatusError:
		return red(string(status))
	default:
		return gray(string(status))
	}
}
