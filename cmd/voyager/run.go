package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/voyagerhq/voyager/internal/config"
	"github.com/voyagerhq/voyager/internal/coord"
	"github.com/voyagerhq/voyager/internal/dispatch"
	"github.com/voyagerhq/voyager/internal/gateway"
	"github.com/voyagerhq/voyager/internal/metrics"
	"github.com/voyagerhq/voyager/internal/orchestrator"
	"github.com/voyagerhq/voyager/internal/state"
	"github.com/voyagerhq/voyager/internal/worker"
	"github.com/voyagerhq/voyager/pkg/models"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var runTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run <request-file>",
	Short: "Plan a trip from a YAML request file",
	Long: `Run a planning request to completion and print the merged itinerary.

The request file is YAML:

  destinations: [Lisbon, Porto]
  start_date: "2026-05-02"
  end_date: "2026-05-12"
  travelers: 2
  budget: 4000
  currency: EUR
  preferences: [food, architecture]`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "Abort the request after this long")
}

func runRun(cmd *cobra.Command, args []string) error {
	req, err := readRequest(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.NewAnthropicGateway(cfg.Gateway())
	if err != nil {
		return err
	}

	db, err := state.Open(cfg.DBPath(state.DefaultDBPath()))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}
	writer := state.NewWriter(db)
	defer writer.Close()

	collector := metrics.NewCollector()
	defer collector.Close()

	pool := orchestrator.NewPool(orchestrator.PoolConfig{
		Executor:    worker.New("cli", gw, collector),
		Descriptors: cfg.Descriptors(),
		Store:       coord.NewStore(),
		Sink:        writer,
	})

	requestID, err := pool.Submit(req)
	if err != nil {
		pool.Stop()
		return err
	}
	fmt.Printf("%s request %s: %d travelers, %v\n",
		bold("voyager"), cyan(requestID), req.Travelers, req.Destinations)

	go streamEvents(pool)

	result := awaitResult(pool, requestID, runTimeout)
	pool.Stop()

	if result == nil {
		return fmt.Errorf("request %s did not finish within %v", requestID, runTimeout)
	}
	if err := db.SaveResult(result); err != nil {
		fmt.Fprintf(os.Stderr, "warning: persist result: %v\n", err)
	}

	printResult(result, collector.RequestUsage(requestID))
	if result.Status == models.RequestStatusError {
		return fmt.Errorf("planning failed: %s", result.Error)
	}
	return nil
}

func readRequest(path string) (*models.TripRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request file: %w", err)
	}
	req := &models.TripRequest{}
	if err := yaml.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("parse request file: %w", err)
	}
	return req, nil
}

// streamEvents prints dispatcher events until the pool's stream closes.
func streamEvents(pool *orchestrator.Pool) {
	for ev := range pool.Events() {
		switch ev.Type {
		case dispatch.EventTaskStarted:
			fmt.Printf("  %s %s %s %s\n", gray("→"), ev.AgentType, gray(ev.Priority.String()), gray(ev.Message))
		case dispatch.EventTaskCompleted:
			fmt.Printf("  %s %s\n", green("✓"), ev.AgentType)
		case dispatch.EventTaskRetrying:
			fmt.Printf("  %s %s %s\n", yellow("↻"), ev.AgentType, yellow(ev.Message))
		case dispatch.EventTaskRequeued:
			fmt.Printf("  %s %s %s\n", yellow("⋯"), ev.AgentType, gray(ev.Message))
		case dispatch.EventTaskFailed:
			fmt.Printf("  %s %s %v\n", red("✗"), ev.AgentType, ev.Error)
		case dispatch.EventTaskCancelled:
			fmt.Printf("  %s %s %s\n", gray("⊘"), ev.AgentType, gray(ev.Message))
		}
	}
}

func awaitResult(pool *orchestrator.Pool, requestID string, timeout time.Duration) *models.RequestResult {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if result, ok := pool.Result(requestID); ok {
			return result
		}
		time.Sleep(100 * time.Millisecond)
	}
	pool.Cancel(requestID)
	// Give the teardown a moment to produce the cancelled result.
	for i := 0; i < 50; i++ {
		if result, ok := pool.Result(requestID); ok {
			return result
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

func printResult(result *models.RequestResult, usage metrics.Usage) {
	fmt.Println()
	switch result.Status {
	case models.RequestStatusCompleted:
		fmt.Printf("%s itinerary complete\n", green("✓"))
	case models.RequestStatusPartial:
		fmt.Printf("%s partial itinerary, missing: %v\n", yellow("!"), result.Unresolved)
	case models.RequestStatusCancelled:
		fmt.Printf("%s request cancelled\n", gray("⊘"))
	default:
		fmt.Printf("%s %s\n", red("✗"), result.Error)
	}

	for _, at := range componentOrder(result.Components) {
		data, err := yaml.Marshal(result.Components[at].Payload)
		if err != nil {
			continue
		}
		fmt.Printf("\n%s\n%s", bold(string(at)), string(data))
	}

	if usage.Calls > 0 {
		fmt.Printf("\n%s %d calls, %d in / %d out tokens, $%.4f\n",
			gray("usage:"), usage.Calls, usage.InputTokens, usage.OutputTokens, usage.Cost)
	}
}

// componentOrder returns the component agent types in stable sorted order.
func componentOrder(components map[models.AgentType]models.Component) []models.AgentType {
	types := make([]models.AgentType, 0, len(components))
	for at := range components {
		types = append(types, at)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
