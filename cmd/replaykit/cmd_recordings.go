package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/replaykit/internal/config"
	"github.com/user/replaykit/internal/queue"
	"github.com/user/replaykit/internal/recording"
	"github.com/user/replaykit/internal/upload"
)

func init() {
	rootCmd.AddCommand(lsCmd, uploadCmd, uploadAllCmd)

	lsCmd.Flags().Bool("json", false, "print recordings as JSON")
	lsCmd.Flags().Bool("pending", false, "only list recordings waiting for upload")
	for _, c := range []*cobra.Command{uploadCmd, uploadAllCmd} {
		c.Flags().Bool("process", false, "ask the service to process recordings after upload")
	}
}

func readSnapshot(cfg *config.Config) (*recording.Snapshot, error) {
	snap, err := recording.Read(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("read recordings: %w", err)
	}
	return snap, nil
}

func uploadLabel(r *recording.Recording) string {
	if r.Upload == nil {
		return "-"
	}
	return string(r.Upload.Status)
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recordings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		snap, err := readSnapshot(cfg)
		if err != nil {
			return err
		}

		recs := snap.Recordings
		if pending, _ := cmd.Flags().GetBool("pending"); pending {
			recs = snap.Pending()
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if recs == nil {
				recs = []*recording.Recording{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}

		if len(recs) == 0 {
			fmt.Println("No recordings found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tUPLOAD\tTITLE")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Status, r.CreatedAt.Local().Format(time.DateTime), uploadLabel(r), r.Title())
		}
		w.Flush()

		if orphans := snap.OrphanIDs(); len(orphans) > 0 {
			fmt.Fprintf(os.Stderr, "%d source map group(s) reference unknown recordings.\n", len(orphans))
		}
		return nil
	},
}

// startUploads builds an uploader for a one-shot command. The returned
// func releases the connection, queue and telemetry sink.
func startUploads(cmd *cobra.Command, cfg *config.Config) (*upload.Uploader, func()) {
	if process, _ := cmd.Flags().GetBool("process"); process {
		cfg.Upload.Process = true
	}
	conn := newConnection(cfg)
	q := queue.New(cfg.Upload.Concurrency)
	sink, _ := telemetrySink(cfg)
	up := newUploader(cfg, conn, q, sink)
	return up, func() {
		up.Close()
		q.Close()
		sink.Close()
		conn.Close()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var uploadCmd = &cobra.Command{
	Use:   "upload <id>",
	Short: "Upload one finished recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		snap, err := readSnapshot(cfg)
		if err != nil {
			return err
		}
		rec := snap.Get(args[0])
		switch {
		case rec == nil:
			return fmt.Errorf("recording %s not found", args[0])
		case rec.Uploaded():
			fmt.Fprintf(os.Stdout, "Recording %s is already uploaded.\n", rec.ID)
			return nil
		case rec.Status != recording.StatusFinished:
			return fmt.Errorf("recording %s is %s, only finished recordings can be uploaded", rec.ID, rec.Status)
		}

		ctx, cancel := signalContext()
		defer cancel()

		up, release := startUploads(cmd, cfg)
		defer release()

		h, ok := up.Submit(ctx, rec)
		if !ok {
			return fmt.Errorf("recording %s was not queued", rec.ID)
		}
		if err := h.Wait(ctx); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Uploaded recording %s.\n", rec.ID)
		return nil
	},
}

var uploadAllCmd = &cobra.Command{
	Use:   "upload-all",
	Short: "Upload every finished recording that has not been uploaded",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		snap, err := readSnapshot(cfg)
		if err != nil {
			return err
		}
		if len(snap.Pending()) == 0 {
			fmt.Println("Nothing to upload.")
			return nil
		}

		ctx, cancel := signalContext()
		defer cancel()

		up, release := startUploads(cmd, cfg)
		defer release()

		n, err := up.UploadAll(ctx, snap)
		if err != nil {
			return fmt.Errorf("uploaded %d recording(s) with errors: %w", n, err)
		}
		fmt.Fprintf(os.Stdout, "Uploaded %d recording(s).\n", n)
		return nil
	},
}
