package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/voyagerhq/voyager/internal/config"
	"github.com/voyagerhq/voyager/internal/coord"
	"github.com/voyagerhq/voyager/internal/gateway"
	"github.com/voyagerhq/voyager/internal/metrics"
	"github.com/voyagerhq/voyager/internal/orchestrator"
	"github.com/voyagerhq/voyager/internal/state"
	"github.com/voyagerhq/voyager/internal/worker"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a directory and plan every request file dropped into it",
	Long: `Watch an intake directory. Every YAML request file created or
modified there is submitted as a planning request. Request IDs derive from
the file name, so re-dropping the same file never duplicates in-flight work.

Stop with Ctrl-C; running requests are cancelled cleanly.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
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
		Executor:    worker.New("watch", gw, collector),
		Descriptors: cfg.Descriptors(),
		Store:       coord.NewStore(),
		Sink:        writer,
	})
	go streamEvents(pool)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// Pick up files already present.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			submitFile(pool, db, filepath.Join(dir, entry.Name()))
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s watching %s\n", bold("voyager"), cyan(dir))

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nshutting down")
			pool.Stop()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				pool.Stop()
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				// Editors often fire several writes per save; the
				// file-name-derived request ID deduplicates them.
				submitFile(pool, db, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				pool.Stop()
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}

// submitFile submits one request file and persists its result when done.
func submitFile(pool *orchestrator.Pool, db *state.DB, path string) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return
	}

	req, err := readRequest(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skip %s: %v\n", path, err)
		return
	}

	requestID := strings.TrimSuffix(filepath.Base(path), ext)
	if _, err := pool.SubmitWithID(requestID, req); err != nil {
		fmt.Fprintf(os.Stderr, "submit %s: %v\n", path, err)
		return
	}
	fmt.Printf("%s request %s: %v\n", bold("queued"), cyan(requestID), req.Destinations)

	go func() {
		if result := awaitResult(pool, requestID, 30*time.Minute); result != nil {
			if err := db.SaveResult(result); err != nil {
				fmt.Fprintf(os.Stderr, "warning: persist result %s: %v\n", requestID, err)
			}
			fmt.Printf("%s request %s: %s\n", bold("done"), cyan(requestID), colorStatus(result.Status))
		}
	}()
}
