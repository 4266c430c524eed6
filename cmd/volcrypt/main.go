package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/nace/volcrypt/internal/cli"
	"github.com/nace/volcrypt/internal/system"
	"github.com/nace/volcrypt/internal/ui"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	quiet       bool
	noColor     bool
	debug       bool
	configPath  string
	toolPath    string
	metricsAddr string

	ctx  *cli.GlobalContext
	once sync.Once

	metricsServer *http.Server
)

func main() {
	err := rootCmd.Execute()
	stopMetrics()
	if err != nil {
		ctx.Logger.Error("%v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "volcrypt",
	Short: "volcrypt - VeraCrypt volume manager",
	Long: `volcrypt lists disks and drives VeraCrypt to create, mount and
unmount encrypted volumes on Windows, Linux and macOS.

Progress of long-running operations is reported as it happens; press
Ctrl+C to cancel the running operation.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		once.Do(func() {
			// Recreate executor and logger with parsed flags
			logger := ui.NewLogger(verbose, quiet, noColor)
			ctx.Logger = logger
			ctx.Executor = system.NewExecutor(debug, logger)
			ctx.ConfigPath = configPath

			if err = ctx.Setup(cmd); err != nil {
				return
			}
			startMetrics()
		})
		return err
	},
}

// startMetrics serves Prometheus metrics while the command runs.
func startMetrics() {
	addr := ctx.Config.Metrics.Addr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", ctx.Service.Metrics().Handler())
	metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctx.Logger.Warning("Metrics server stopped: %v", err)
		}
	}()
	ctx.Logger.Debug("Serving metrics on %s/metrics", addr)
}

func stopMetrics() {
	if metricsServer == nil {
		return
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdown)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (suppress non-error output)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode (show commands)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: search user and system config directories)")
	rootCmd.PersistentFlags().StringVar(&toolPath, "tool-path", "", "Path to the veracrypt executable")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	// Create initial context with default values
	// Will be updated in PersistentPreRunE with parsed flag values
	ctx = cli.NewGlobalContext(false, false, false, false)

	// Register commands
	rootCmd.AddCommand(cli.NewListCommand(ctx))
	rootCmd.AddCommand(cli.NewInfoCommand(ctx))
	rootCmd.AddCommand(cli.NewToolCommand(ctx))
	rootCmd.AddCommand(cli.NewCreateCommand(ctx))
	rootCmd.AddCommand(cli.NewMountCommand(ctx))
	rootCmd.AddCommand(cli.NewUnmountCommand(ctx))
	rootCmd.AddCommand(cli.NewDecryptCommand(ctx))
	rootCmd.AddCommand(cli.NewCleanupCommand(ctx))
	rootCmd.AddCommand(cli.NewConfigCommand(ctx))

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
