package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	logx "mudbooker/pkg/logx"
)

var runFlags struct {
	stopTimeout time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the snapshot scheduler",
	Long: `Run the snapshot scheduler until SIGINT or SIGTERM.

The first cycle runs immediately. While running:
  SIGUSR1  take a snapshot now and re-arm the timer
  SIGHUP   reload the config file`,
	Args: cobra.NoArgs,
	RunE: runScheduler,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&runFlags.stopTimeout, "stop-timeout", 10*time.Second, "max time to wait for a clean shutdown")
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp()
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return err
	}

	sigLog := logx.NewConsole("info").With(logx.String("comp", "signals"))
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGHUP)
	defer signal.Stop(sigs)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-a.Done():
			break loop
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				if err := a.Trigger(ctx); err != nil {
					sigLog.Warn("manual trigger failed", logx.Err(err))
				}
			case syscall.SIGHUP:
				if _, err := a.Config().Reload(ctx); err != nil {
					sigLog.Warn("config reload failed", logx.Err(err))
				}
			}
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), runFlags.stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		return err
	}
	return a.Err()
}
