package main

import (
	"fmt"
	"os"

	"github.com/rohankatakam/herald/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect herald configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for a command (run, serve, seed, dlq)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	shown.GitHub.Token = config.MaskSecret(cfg.GitHub.Token)
	shown.Post.Token = config.MaskSecret(cfg.Post.Token)
	shown.Webhook.Secret = config.MaskSecret(cfg.Webhook.Secret)

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(shown)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	ctx := config.ValidationContextRun
	if len(args) == 1 {
		ctx = config.ValidationContext(args[0])
	}
	switch ctx {
	case config.ValidationContextRun, config.ValidationContextServe,
		config.ValidationContextSeed, config.ValidationContextDLQ:
	default:
		return fmt.Errorf("unknown command %q (want run, serve, seed or dlq)", ctx)
	}

	needPost := (ctx == config.ValidationContextRun || ctx == config.ValidationContextServe) && !cfg.Post.DryRun
	if err := config.NewCredentialManager().ResolveSecrets(cfg, needPost); err != nil {
		return err
	}

	result := cfg.Validate(ctx)
	if result.HasErrors() {
		return result.Err()
	}
	for _, warn := range result.Warnings {
		fmt.Printf("  ⚠️  %s\n", warn)
	}
	fmt.Printf("✅ Configuration valid for %s\n", ctx)
	return nil
}
