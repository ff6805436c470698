package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"caschost-go/internal/app"
	"caschost-go/internal/config"
	"caschost-go/internal/host"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if host.IsFatal(err) {
			fmt.Fprintf(os.Stderr, "caschost: fatal: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "caschost: %v\n", err)
		}
		os.Exit(1)
	}
}

// newApp reads the config and creates a HostApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "serve", "rebuild").
func newApp(cmd *cobra.Command, command string) (*app.HostApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewHostApp(cmd.Context(), cfg, command, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	path := defaults.ConfigPath
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, path, nil
}

var rootCmd = &cobra.Command{
	Use:           "caschost",
	Short:         "Serve a loose-file tree as a locally hosted content archive",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the source directory and keep the archive current",
	RunE: func(cmd *cobra.Command, args []string) error {
		static, _ := cmd.Flags().GetBool("static")

		a, err := newApp(cmd, "serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(cmd.Context(), static)
	},
}

// rebuild command
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the whole archive once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "rebuild")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Rebuild(cmd.Context()); err != nil {
			return fmt.Errorf("rebuild failed: %w", err)
		}
		fmt.Println("Rebuild complete")
		return nil
	},
}

// fingerprint command
var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint DIR",
	Short: "Print the fingerprint of a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, err := host.Fingerprint(args[0])
		if err != nil {
			return err
		}
		fmt.Println(fp)
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		cfg.GameDir = defaults.GameDir
		if gameDir, _ := cmd.Flags().GetString("game-dir"); gameDir != "" {
			cfg.GameDir = gameDir
		}
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Source Dir: %s\n", cfg.SourceDir)
		fmt.Printf("Output Dir: %s\n", cfg.OutputDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Product:      %s\n", cfg.Product)
		fmt.Printf("Source Dir:   %s\n", cfg.SourceDir)
		fmt.Printf("Output Dir:   %s\n", cfg.OutputDir)
		fmt.Printf("System Files: %s\n", cfg.SystemFilesDir)
		fmt.Printf("Game Dir:     %s\n", cfg.GameDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Publish:      %s\n", cfg.Publish.Type)
		fmt.Printf("Debounce:     %s\n", cfg.Debounce)
		fmt.Printf("Backoff:      %s\n", cfg.Backoff)
		fmt.Printf("Purge TTL:    %s\n", cfg.PurgeTTL)
		fmt.Printf("Static Mode:  %t\n", cfg.StaticMode)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages")

	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("game-dir", "", "Game installation directory holding .build.info")
	configCmd.AddCommand(configListCmd)

	cacheCmd.AddCommand(cacheListCmd)
	cacheListCmd.Flags().Bool("deleted", false, "Show only soft-deleted rows")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheStatsCmd.Flags().Uint32("id", 0, "Report whether this file data id is in use")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("static", false, "Run one full rebuild and exit")
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
}
