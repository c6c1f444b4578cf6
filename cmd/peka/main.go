package main

import (
	"errors"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nace/peka/internal/cli"
)

var (
	verbose bool
	quiet   bool
	noColor bool
	debug   bool

	ctx  *cli.GlobalContext
	once sync.Once
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "peka",
	Short: "Peka - write disk images to block devices",
	Long: `Peka writes raw and compressed disk images onto block devices,
safely and verifiably, without telemetry.

The device write itself runs in a separate privileged worker process;
the command you interact with stays unprivileged and only validates,
confirms, and reports progress.`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Update context components with parsed flag values
		once.Do(func() {
			ctx.Recreate(verbose, quiet, noColor, debug)
		})
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (suppress non-error output)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode (show commands)")

	// Create initial context with default values
	// Will be updated in PersistentPreRun with parsed flag values
	ctx = cli.NewGlobalContext(false, false, false, false)

	// Register commands
	rootCmd.AddCommand(cli.NewListCommand(ctx))
	rootCmd.AddCommand(cli.NewFlashCommand(ctx))
	rootCmd.AddCommand(cli.NewWorkerCommand(ctx))

	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
