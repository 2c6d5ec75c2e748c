package main

import (
	"fmt"
	"time"

	"github.com/rohankatakam/herald/internal/config"
	"github.com/rohankatakam/herald/internal/errors"
	"github.com/rohankatakam/herald/internal/ledger"
	"github.com/rohankatakam/herald/internal/models"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Build the contributor ledger and report its size",
	Long: `Page through the full commit history of the tracked branch and count the
distinct contributors herald would treat as already announced. Nothing is
posted. Useful to check credentials and the identity key before a first run.`,
	RunE: runSeed,
}

var seedList bool

func init() {
	seedCmd.Flags().BoolVar(&seedList, "list", false, "print every identity that was checked")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := resolveSecrets(config.ValidationContextSeed, false); err != nil {
		return err
	}

	ctx := cmd.Context()
	gh, err := newGitHubClient()
	if err != nil {
		return err
	}

	key := models.IdentityKey(cfg.GitHub.IdentityKey)
	l := ledger.New()
	start := time.Now()

	n, err := l.SeedFromHistory(ctx, gh, cfg.GitHub.Branch, cfg.GitHub.PageSize, key)
	if err != nil {
		return errors.SeedError(err)
	}

	fmt.Printf("Repository:   %s (%s)\n", gh.Repository(), cfg.GitHub.Branch)
	fmt.Printf("Identity key: %s\n", key)
	fmt.Printf("Contributors: %d\n", n)
	fmt.Printf("Duration:     %s\n", time.Since(start).Round(time.Millisecond))

	if release, err := gh.LatestRelease(ctx); err != nil {
		logger.WithError(err).Debug("No latest release")
	} else if release != nil {
		version := release.Name
		if version == "" {
			version = release.TagName
		}
		fmt.Printf("Latest release: %s %s\n", version, release.URL)
	}

	if seedList {
		printed := ledger.New()
		fmt.Println()
		for page := 1; page != 0; {
			p, err := gh.ListCommitHistory(ctx, cfg.GitHub.Branch, page, cfg.GitHub.PageSize)
			if err != nil {
				return errors.SourceFetchError(err, "list commit history")
			}
			for _, c := range p.Commits {
				if id := c.Author.Identity(key); printed.RecordIfNew(id) {
					fmt.Printf("  %s\n", id)
				}
			}
			page = p.NextPage
		}
	}
	return nil
}
