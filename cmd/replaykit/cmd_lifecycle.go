package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/replaykit/internal/proc"
)

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().Duration("timeout", 10*time.Second, "how long to wait for the daemon to exit")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running watch daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		pidFile := proc.NewPIDFile(pidFilePath(cfg))
		pid, err := pidFile.Running()
		if err != nil {
			// stale file from a crashed daemon
			pidFile.Remove()
			return err
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		opts := proc.DefaultOptions()
		opts.Timeout = timeout
		if !proc.Kill(context.Background(), pid, syscall.SIGTERM, opts) {
			return fmt.Errorf("daemon (PID %d) still running after %v", pid, timeout)
		}

		fmt.Fprintf(os.Stdout, "Stopped daemon (PID %d).\n", pid)
		return nil
	},
}
