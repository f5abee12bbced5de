// Package upload moves finished recordings and their source maps to the
// recording service. Each recording is one queue job; every remote call
// inside it is retried with backoff.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/replaykit/internal/metadata"
	"github.com/user/replaykit/internal/queue"
	"github.com/user/replaykit/internal/recording"
	"github.com/user/replaykit/internal/retry"
	"github.com/user/replaykit/internal/telemetry"
)

// Commander sends protocol commands. *protocol.Client satisfies it.
type Commander interface {
	WaitUntilAuthenticated(ctx context.Context) error
	SendCommand(ctx context.Context, method string, params any, sessionID string) (json.RawMessage, error)
}

// Error is the final failure of one recording's upload.
type Error struct {
	RecordingID string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload recording %s: %v", e.RecordingID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config tunes the pipeline. Zero values fall back to defaults.
type Config struct {
	// Server is recorded in the log next to upload outcomes.
	Server string
	// MultipartThreshold is the artifact size above which the upload is
	// split into parts.
	MultipartThreshold int64
	// PartSize is the preferred size of one part.
	PartSize int64
	// PartConcurrency bounds simultaneous part uploads across recordings.
	PartConcurrency int
	// Process asks the service to start processing after the upload.
	Process bool
	// Retry wraps every remote call. PartRetry wraps each part PUT.
	Retry     retry.Policy
	PartRetry retry.Policy
	// HTTPClient performs artifact PUTs.
	HTTPClient *http.Client
}

const (
	DefaultMultipartThreshold = 100 << 20
	DefaultPartSize           = 10 << 20
	DefaultPartConcurrency    = 4
)

func (c Config) withDefaults() Config {
	if c.MultipartThreshold <= 0 {
		c.MultipartThreshold = DefaultMultipartThreshold
	}
	if c.PartSize <= 0 {
		c.PartSize = DefaultPartSize
	}
	if c.PartConcurrency <= 0 {
		c.PartConcurrency = DefaultPartConcurrency
	}
	if c.Retry == nil {
		c.Retry = retry.DefaultExponential()
	}
	if c.PartRetry == nil {
		c.PartRetry = retry.DefaultLinear()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return c
}

// Uploader runs uploads on a queue group.
type Uploader struct {
	cmd        Commander
	group      *queue.Group
	parts      *queue.Queue
	log        *recording.Log
	sink       telemetry.Sink
	registries map[string]*metadata.Registry
	cfg        Config
	logger     *slog.Logger

	flight singleflight.Group

	mu        sync.Mutex
	processed map[string]bool
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithLog appends upload outcomes to the recordings log.
func WithLog(l *recording.Log) Option {
	return func(u *Uploader) { u.log = l }
}

// WithTelemetry reports upload outcomes to sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(u *Uploader) { u.sink = sink }
}

// WithRegistries sets the registries used to validate metadata sections.
func WithRegistries(regs map[string]*metadata.Registry) Option {
	return func(u *Uploader) { u.registries = regs }
}

// WithLogger sets the uploader's logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Uploader) { u.logger = l }
}

// New creates an Uploader whose per-recording jobs run on group.
func New(cmd Commander, group *queue.Group, cfg Config, opts ...Option) *Uploader {
	cfg = cfg.withDefaults()
	u := &Uploader{
		cmd:       cmd,
		group:     group,
		parts:     queue.New(cfg.PartConcurrency),
		sink:      telemetry.Nop{},
		cfg:       cfg,
		logger:    slog.Default(),
		processed: make(map[string]bool),
	}
	for _, o := range opts {
		o(u)
	}
	if u.registries == nil {
		u.registries = map[string]*metadata.Registry{
			"test":   metadata.TestRegistry(),
			"source": metadata.SourceRegistry(),
		}
	}
	return u
}

// Close stops the part queue. Uploads still running fail their
// remaining parts.
func (u *Uploader) Close() {
	u.parts.Close()
}

// Submit queues rec for upload. It returns false without queueing when rec
// is not finished, was already submitted to this uploader, or the log shows
// it as uploaded.
func (u *Uploader) Submit(ctx context.Context, rec *recording.Recording) (*queue.Handle, bool) {
	if rec.Status != recording.StatusFinished || rec.Uploaded() {
		return nil, false
	}

	u.mu.Lock()
	if u.processed[rec.ID] {
		u.mu.Unlock()
		return nil, false
	}
	u.processed[rec.ID] = true
	u.mu.Unlock()

	return u.group.Add(ctx, func(ctx context.Context) error {
		return u.Upload(ctx, rec)
	}), true
}

// UploadAll submits every pending recording in snap and waits for the
// uploader's group to go idle. It returns the number of recordings
// submitted and the first upload failure.
func (u *Uploader) UploadAll(ctx context.Context, snap *recording.Snapshot) (int, error) {
	var handles []*queue.Handle
	for _, rec := range snap.Pending() {
		if h, ok := u.Submit(ctx, rec); ok {
			handles = append(handles, h)
		}
	}
	if err := u.group.WaitUntilIdle(ctx); err != nil {
		return len(handles), err
	}
	var first error
	for _, h := range handles {
		if err := h.Err(); err != nil && first == nil {
			first = err
		}
	}
	return len(handles), first
}

// Upload runs the whole upload of rec in the calling goroutine. Concurrent
// calls for the same id share one upload.
func (u *Uploader) Upload(ctx context.Context, rec *recording.Recording) error {
	_, err, shared := u.flight.Do(rec.ID, func() (any, error) {
		return nil, u.upload(ctx, rec)
	})
	if shared {
		u.logger.Debug("joined in-flight upload", "recording_id", rec.ID)
	}
	return err
}

func (u *Uploader) upload(ctx context.Context, rec *recording.Recording) error {
	start := time.Now()
	u.logger.Info("uploading recording", "recording_id", rec.ID, "path", rec.Path)
	u.record(ctx, recording.Entry{Kind: recording.KindUploadStarted, ID: rec.ID, Server: u.cfg.Server})
	u.sink.Log(ctx, telemetry.LevelInfo, "upload started", map[string]any{"recording_id": rec.ID})

	remoteID, err := u.run(ctx, rec)
	if err != nil {
		uerr := &Error{RecordingID: rec.ID, Err: err}
		u.logger.Error("upload failed", "recording_id", rec.ID, "error", err)
		u.record(ctx, recording.Entry{Kind: recording.KindUploadFailed, ID: rec.ID, Server: u.cfg.Server, Reason: err.Error()})
		u.sink.Log(ctx, telemetry.LevelError, "upload failed", map[string]any{
			"recording_id": rec.ID,
			"error":        err.Error(),
		})
		return uerr
	}

	u.logger.Info("uploaded recording", "recording_id", rec.ID, "remote_id", remoteID, "duration", time.Since(start))
	u.record(ctx, recording.Entry{Kind: recording.KindUploadFinished, ID: rec.ID, Server: u.cfg.Server, RemoteID: remoteID})
	u.sink.Log(ctx, telemetry.LevelInfo, "upload finished", map[string]any{
		"recording_id": rec.ID,
		"duration_ms":  time.Since(start).Milliseconds(),
	})
	return nil
}

// record appends a bookkeeping entry. A write failure only costs a
// possible re-upload after restart, so it is logged and ignored.
func (u *Uploader) record(ctx context.Context, e recording.Entry) {
	if u.log == nil {
		return
	}
	if err := u.log.Append(ctx, e); err != nil {
		u.logger.Warn("append upload entry", "recording_id", e.ID, "kind", e.Kind, "error", err)
	}
}
