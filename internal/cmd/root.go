package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentround/agentround/internal/app"
	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/db"
	"github.com/agentround/agentround/internal/server"
	"github.com/agentround/agentround/internal/version"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().StringP("data-dir", "D", "", "Custom agentround data directory")
	rootCmd.PersistentFlags().String("config", "", "Path to an agentround.yaml config file")
	rootCmd.PersistentFlags().StringP("host", "H", "", "Server host (tcp://, unix:// or npipe://)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")

	rootCmd.AddCommand(serveCmd, runCmd, modelsCmd)
}

var rootCmd = &cobra.Command{
	Use:   "agentround",
	Short: "Round-based discussions between several language models",
	Long: `agentround puts several language models around one table. Each round
the user speaks first, then every model answers in turn, seeing what the
others said before it. Rounds are streamed over a local HTTP API.`,
	Example: `
	# Start the server on the default socket
	agentround serve

	# Ask two models and let them discuss for three rounds
	agentround run -m openai/gpt-4o -m anthropic/claude-sonnet --rounds 3 "Tabs or spaces?"

	# List configured models
	agentround models
  `,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version.Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the working directory, picks up a .env file there
// and loads the configuration with the persistent flags applied.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	file, _ := cmd.Flags().GetString("config")

	cwd, err := ResolveCwd(cmd)
	if err != nil {
		return nil, err
	}

	if err := loadDotEnv(cwd); err != nil {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.Load(config.LoadOptions{
		WorkingDir: cwd,
		File:       file,
		DataDir:    dataDir,
		Debug:      debug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := createDataDir(cfg.DataDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveHost returns the --host flag, the configured host or the
// platform default, in that order.
func resolveHost(cmd *cobra.Command, cfg *config.Config) string {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		return host
	}
	if cfg != nil && cfg.Host != "" {
		return cfg.Host
	}
	return server.DefaultHost()
}

// setupApp opens the database and builds the application around cfg.
func setupApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	// Connect to DB; this will also run migrations.
	conn, err := db.Connect(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close()
		slog.Error("Failed to create app instance", "error", err)
		return nil, err
	}
	return a, nil
}

// loadDotEnv loads a .env file from dir. Variables already present in the
// environment win.
func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return nil
	}
	return godotenv.Load(path)
}

// readStdin returns piped standard input, or an empty string when stdin is
// a terminal.
func readStdin() (string, error) {
	if term.IsTerminal(os.Stdin.Fd()) {
		return "", nil
	}
	fi, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if fi.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	bts, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(bts)), nil
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		abs, err := filepath.Abs(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to resolve directory: %v", err)
		}
		if err := os.Chdir(abs); err != nil {
			return "", fmt.Errorf("failed to change directory: %v", err)
		}
		return abs, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %v", err)
	}
	return cwd, nil
}

func createDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %q %w", dir, err)
	}

	gitIgnorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitIgnorePath); os.IsNotExist(err) {
		if err := os.WriteFile(gitIgnorePath, []byte("*\n"), 0o644); err != nil {
			return fmt.Errorf("failed to create .gitignore file: %q %w", gitIgnorePath, err)
		}
	}

	return nil
}
