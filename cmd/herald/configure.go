package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/browser"
	"github.com/rohankatakam/herald/internal/config"
	"github.com/spf13/cobra"
)

const (
	githubTokenURL = "https://github.com/settings/tokens"
	postTokenURL   = "https://developer.x.com/en/portal/dashboard"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive setup wizard (with OS keychain support)",
	Long: `Walk through herald configuration step-by-step with secure credential storage.

This will configure:
1. The tracked repository and branch
2. GitHub token (optional, stored in OS keychain)
3. Posting API bearer token (stored in OS keychain)
4. Project name used in announcements`,
	RunE: runConfigure,
}

var configureOpen bool

func init() {
	configureCmd.Flags().BoolVar(&configureOpen, "open", false, "open the token pages in a browser")
}

func runConfigure(cmd *cobra.Command, args []string) error {
	fmt.Println("🔧 herald Configuration Wizard")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	ask := func(prompt, current string) string {
		if current != "" {
			fmt.Printf("%s [%s]: ", prompt, current)
		} else {
			fmt.Printf("%s: ", prompt)
		}
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			return current
		}
		return line
	}

	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".herald", "config.yaml")
	if cfgFile != "" {
		configPath = cfgFile
	}
	loadedCfg, err := config.Load(configPath)
	if err != nil {
		loadedCfg = config.Default()
	}

	km := config.NewKeyringManager()
	keychainAvailable := km.IsAvailable()
	if !keychainAvailable {
		fmt.Println("⚠️  OS keychain not available (headless system or Linux without libsecret)")
		fmt.Println("   Tokens will be stored in the config file instead.")
		fmt.Println()
	}

	// Step 1: Repository
	fmt.Println("Step 1/4: Repository")
	loadedCfg.GitHub.Owner = ask("Owner", loadedCfg.GitHub.Owner)
	loadedCfg.GitHub.Repo = ask("Repository", loadedCfg.GitHub.Repo)
	loadedCfg.GitHub.Branch = ask("Branch", loadedCfg.GitHub.Branch)
	fmt.Println()

	// Step 2: GitHub token
	fmt.Println("Step 2/4: GitHub Token (optional)")
	fmt.Println("Needed for private repositories and higher rate limits.")
	openPage(githubTokenURL)
	if token := ask("GitHub token (Enter to keep/skip)", ""); token != "" {
		if keychainAvailable {
			if err := km.SetGitHubToken(token); err != nil {
				fmt.Printf("⚠️  Failed to save to keychain: %v\n", err)
				loadedCfg.GitHub.Token = token
			} else {
				fmt.Printf("✅ Saved to OS keychain (%s)\n", keychainLocation())
				loadedCfg.GitHub.Token = ""
			}
		} else {
			loadedCfg.GitHub.Token = token
		}
	}
	fmt.Println()

	// Step 3: Posting token
	fmt.Println("Step 3/4: Posting API Token")
	source := km.GetPostTokenSource(loadedCfg)
	fmt.Printf("Current: %s\n", source.Recommended)
	openPage(postTokenURL)
	if token := ask("Bearer token (Enter to keep)", ""); token != "" {
		if keychainAvailable {
			if err := km.SetPostToken(token); err != nil {
				fmt.Printf("⚠️  Failed to save to keychain: %v\n", err)
				loadedCfg.Post.Token = token
			} else {
				fmt.Printf("✅ Saved to OS keychain (%s)\n", keychainLocation())
				loadedCfg.Post.Token = ""
			}
		} else {
			loadedCfg.Post.Token = token
			fmt.Println("✅ Token will be saved to the config file (plaintext)")
		}
	}
	fmt.Println()

	// Step 4: Project name
	fmt.Println("Step 4/4: Project Name")
	name := loadedCfg.Post.ProjectName
	if name == "" {
		name = loadedCfg.GitHub.Repo
	}
	loadedCfg.Post.ProjectName = ask("Name used in announcements", name)
	fmt.Println()

	fmt.Printf("Save to: %s\n", configPath)
	if confirm := ask("Confirm? (Y/n)", ""); confirm != "" && strings.ToLower(confirm) != "y" {
		fmt.Println("⏭️  Configuration not saved")
		return nil
	}

	if err := loadedCfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Println("✅ Configuration saved!")
	fmt.Println()
	fmt.Println("🎯 Next Steps:")
	fmt.Println("   herald seed     # check access and count known contributors")
	fmt.Println("   herald run      # start announcing")
	return nil
}

func openPage(url string) {
	if !configureOpen {
		fmt.Printf("Create one at: %s\n", url)
		return
	}
	if err := browser.OpenURL(url); err != nil {
		fmt.Printf("⚠️  Could not open browser automatically. Please visit %s\n", url)
	}
}

func keychainLocation() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain Access.app → '" + config.KeyringService + "'"
	case "windows":
		return "Windows Credential Manager → '" + config.KeyringService + "'"
	case "linux":
		return "Linux Secret Service (libsecret)"
	default:
		return "OS Keychain"
	}
}
