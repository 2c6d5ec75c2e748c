package main

import (
	"fmt"
	"os"

	"github.com/rohankatakam/herald/internal/logging"
	"github.com/rohankatakam/herald/internal/storage"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted poll cursor and dead letter counts",
	RunE:  runStatus,
}

var resetCursor bool

func init() {
	statusCmd.Flags().BoolVar(&resetCursor, "reset-cursor", false, "forget the persisted cursor (the next run skips the backlog again)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo := cfg.GitHub.Repository()

	fmt.Printf("Repository: %s (%s)\n", repo, cfg.GitHub.Branch)

	if _, err := os.Stat(cfg.Poll.StatePath); err != nil {
		fmt.Printf("Cursor:     none (%s does not exist)\n", cfg.Poll.StatePath)
	} else {
		store, err := storage.NewBoltStore(cfg.Poll.StatePath, logging.Default())
		if err != nil {
			return err
		}
		defer store.Close()

		if resetCursor {
			if err := store.Delete(ctx, repo); err != nil {
				return err
			}
			fmt.Println("Cursor:     reset")
		} else {
			cursor, err := storage.ForRepo(store, repo).Load(ctx)
			if err != nil {
				return err
			}
			if cursor.IsZero() {
				fmt.Println("Cursor:     none")
			} else {
				fmt.Printf("Cursor:     event %d, etag %s\n", cursor.LastEventID, cursor.ETag)
			}
		}
	}

	if !cfg.DLQ.Enabled {
		fmt.Println("Dead letters: disabled")
		return nil
	}

	queue, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer queue.Close()

	stats, err := queue.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Dead letters: %d pending, %d rejected, %d resolved (%d total)\n",
		stats.Pending, stats.Rejected, stats.Resolved, stats.Total)
	return nil
}
