package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rohankatakam/herald/internal/config"
	"github.com/rohankatakam/herald/internal/dlq"
	"github.com/rohankatakam/herald/internal/errors"
	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay announcements that could not be posted",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letters, newest first",
	RunE:  runDLQList,
}

var dlqRequeueCmd = &cobra.Command{
	Use:   "requeue [id...]",
	Short: "Publish pending dead letters again",
	Long: `Publish pending dead letters again, oldest first. With ids only those entries
are replayed. Entries that succeed are marked resolved; failures are recorded
and stay in the queue.

Rejected entries (the posting API refused them) are only replayed when named
explicitly.`,
	RunE: runDLQRequeue,
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete dead letters older than a duration",
	RunE:  runDLQPurge,
}

var (
	dlqLimit     int
	dlqOlderThan time.Duration
)

func init() {
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRequeueCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)

	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 20, "maximum entries to show")
	dlqRequeueCmd.Flags().IntVar(&dlqLimit, "limit", 20, "maximum entries to replay")
	dlqPurgeCmd.Flags().DurationVar(&dlqOlderThan, "older-than", 30*24*time.Hour, "age of entries to delete")
}

func runDLQList(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(config.ValidationContextDLQ).Err(); err != nil {
		return err
	}
	ctx := cmd.Context()

	queue, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer queue.Close()

	entries, err := queue.Recent(ctx, dlqLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No dead letters")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSUBJECT\tSTATE\tATTEMPTS\tCREATED\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Kind, e.Subject, entryState(e), e.Attempts,
			e.CreatedAt.Local().Format(time.DateTime), truncateError(e.ErrorMessage, 60))
	}
	return w.Flush()
}

func entryState(e dlq.Entry) string {
	switch {
	case e.ResolvedAt.Valid:
		return "resolved"
	case e.Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

func truncateError(msg string, max int) string {
	r := []rune(msg)
	if len(r) <= max {
		return msg
	}
	return string(r[:max-1]) + "…"
}

func runDLQRequeue(cmd *cobra.Command, args []string) error {
	if err := resolveSecrets(config.ValidationContextDLQ, true); err != nil {
		return err
	}
	ctx := cmd.Context()

	a := &app{}
	defer a.Close()

	queue, err := openQueue(ctx)
	if err != nil {
		return err
	}
	a.onClose(queue)

	client, err := newPoster(ctx, a)
	if err != nil {
		return err
	}

	var entries []dlq.Entry
	if len(args) > 0 {
		for _, id := range args {
			e, err := queue.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("dead letter %s: %w", id, err)
			}
			if e.ResolvedAt.Valid {
				logger.WithField("id", id).Info("Already resolved, skipping")
				continue
			}
			entries = append(entries, *e)
		}
	} else {
		entries, err = queue.Pending(ctx, dlqLimit)
		if err != nil {
			return err
		}
	}

	var resolved, failed int
	for _, e := range entries {
		log := logger.WithField("id", e.ID).WithField("subject", e.Subject)

		ann, err := e.Announcement()
		if err != nil {
			log.WithError(err).Error("Undecodable payload")
			failed++
			continue
		}

		postID, err := client.PublishWithAck(ctx, ann)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempts := 1
			if errors.GetType(err) == errors.ErrorTypeExhaustedRetries {
				attempts = cfg.Post.MaxAttempts
			}
			if recErr := queue.RecordFailure(ctx, e.ID, err, attempts); recErr != nil {
				log.WithError(recErr).Warn("Failed to record failure")
			}
			log.WithError(err).Error("Requeue failed")
			failed++
			continue
		}

		if err := queue.MarkResolved(ctx, e.ID); err != nil {
			log.WithError(err).Warn("Posted but failed to mark resolved")
		}
		log.WithField("post_id", postID).Info("Requeued")
		resolved++
	}

	fmt.Printf("Requeued %d, failed %d\n", resolved, failed)
	if failed > 0 {
		return fmt.Errorf("%d dead letters could not be published", failed)
	}
	return nil
}

func runDLQPurge(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(config.ValidationContextDLQ).Err(); err != nil {
		return err
	}
	ctx := cmd.Context()

	queue, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer queue.Close()

	n, err := queue.PurgeOld(ctx, dlqOlderThan)
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d dead letters older than %s\n", n, dlqOlderThan)
	return nil
}
