package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mudbooker/internal/app"
)

var (
	// Version is set by build flags.
	Version = "dev"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "mudbooker",
	Short: "MudBooker - scheduled snapshots of open items with retention",
	Long: `MudBooker saves the current set of open items into a dated snapshot folder
on a fixed interval, and deletes snapshot folders older than the keep-for
period (always keeping the most recent one).

Interval, keep-for and naming are runtime settings held in storage; changing
the interval restarts the scheduler immediately.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "./config.yaml", "config file path (yaml or json)")
}

// openApp builds the app for one-shot commands. Callers must Close it.
func openApp() (*app.App, error) {
	a, err := app.New(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfgFile, err)
	}
	return a, nil
}
