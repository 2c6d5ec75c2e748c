package main

import (
	"github.com/rohankatakam/herald/internal/config"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Seed the contributor ledger and poll for new activity",
	Long: `Seed the contributor ledger from the full commit history of the tracked
branch, then poll the repository event feed and publish an announcement for
every first-time contributor and published release.

The poll cursor is persisted after every batch, so a restart resumes where the
previous process stopped. A failure while seeding stops the process.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "render announcements without posting them")
	runCmd.Flags().Bool("exit-on-error", false, "stop on the first poll error instead of retrying")
}

func runRun(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)
	if err := resolveSecrets(config.ValidationContextRun, true); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.WithField("repo", a.github.Repository()).
		WithField("branch", cfg.GitHub.Branch).
		WithField("interval", cfg.Poll.Interval).
		Info("Starting herald")

	if err := a.bot.Run(ctx); err != nil {
		return err
	}
	logger.Info("herald stopped")
	return nil
}

// applyRunFlags lets command line flags win over the loaded configuration
func applyRunFlags(cmd *cobra.Command) {
	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		cfg.Post.DryRun = true
	}
	if exit, err := cmd.Flags().GetBool("exit-on-error"); err == nil && exit {
		cfg.Poll.ExitOnError = true
	}
}
