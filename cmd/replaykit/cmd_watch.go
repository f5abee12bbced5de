package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/replaykit/internal/proc"
	"github.com/user/replaykit/internal/queue"
	"github.com/user/replaykit/internal/recording"
	"github.com/user/replaykit/internal/scheduler"
	"github.com/user/replaykit/internal/status"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("status-addr", "", "override the status endpoint address (empty disables it)")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Upload recordings automatically as they finish",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := scheduler.Validate(cfg.Watch.Schedule); err != nil {
		return err
	}
	if cmd.Flags().Changed("status-addr") {
		cfg.Watch.StatusAddr, _ = cmd.Flags().GetString("status-addr")
	}

	pidFile := proc.NewPIDFile(pidFilePath(cfg))
	if pid, err := pidFile.Running(); err == nil {
		return fmt.Errorf("daemon already running (PID %d)", pid)
	}
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer pidFile.Remove()

	ctx, cancel := signalContext()
	defer cancel()

	sink, spool := telemetrySink(cfg)
	defer sink.Close()

	conn := newConnection(cfg)
	defer conn.Close()

	q := queue.New(cfg.Upload.Concurrency)
	defer q.Close()

	up := newUploader(cfg, conn, q, sink)
	defer up.Close()

	snapshot := func() (*recording.Snapshot, error) { return readSnapshot(cfg) }

	sweep := func(ctx context.Context) error {
		snap, err := snapshot()
		if err != nil {
			return err
		}
		n, err := up.UploadAll(ctx, snap)
		if n > 0 {
			slog.Info("sweep finished", "submitted", n)
		}
		return err
	}

	sched := scheduler.New(cfg.Watch.Schedule, sweep, slog.Default())
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	go func() {
		err := recording.Watch(ctx, cfg.DataDir, cfg.Debounce(), func(snap *recording.Snapshot) {
			for _, rec := range snap.Pending() {
				if _, ok := up.Submit(ctx, rec); ok {
					slog.Debug("queued recording", "recording_id", rec.ID)
				}
			}
		})
		if err != nil {
			slog.Error("recordings watcher stopped", "error", err)
		}
	}()

	if cfg.Watch.StatusAddr != "" {
		srv := status.NewServer(status.Deps{
			Snapshot: snapshot,
			Upload: func(ctx context.Context, id string) error {
				snap, err := snapshot()
				if err != nil {
					return err
				}
				rec := snap.Get(id)
				if rec == nil {
					return status.ErrNotFound
				}
				if _, ok := up.Submit(ctx, rec); !ok {
					return fmt.Errorf("recording %s is %s and not pending upload", id, rec.Status)
				}
				return nil
			},
			Sweep:     sched.Trigger,
			Stats:     q.Stats,
			Telemetry: spool,
		})
		httpServer := &http.Server{
			Addr:    cfg.Watch.StatusAddr,
			Handler: srv,
		}
		go func() {
			slog.Info("status server started", "listen", cfg.Watch.StatusAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("replaykit watching",
		"data_dir", cfg.DataDir,
		"server", cfg.Server,
		"schedule", cfg.Watch.Schedule,
		"concurrency", cfg.Upload.Concurrency,
		"pid_file", pidFile.Path(),
	)

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}
