package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/user/replaykit/internal/config"
	"github.com/user/replaykit/internal/metadata"
	"github.com/user/replaykit/internal/protocol"
	"github.com/user/replaykit/internal/queue"
	"github.com/user/replaykit/internal/recording"
	"github.com/user/replaykit/internal/telemetry"
	"github.com/user/replaykit/internal/upload"
)

var errNoAPIKey = errors.New("no API key configured (set REPLAY_API_KEY or run `replaykit setup`)")

// connection dials the recording service on first use and redials after
// the previous client failed or was closed. It satisfies upload.Commander.
type connection struct {
	cfg *config.Config

	mu     sync.Mutex
	client *protocol.Client
}

func newConnection(cfg *config.Config) *connection {
	return &connection{cfg: cfg}
}

func (c *connection) get(ctx context.Context) (*protocol.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		switch c.client.State() {
		case protocol.StateError, protocol.StateClosed:
			slog.Info("reconnecting", "server", c.cfg.Server, "previous_state", c.client.State())
			c.client = nil
		default:
			return c.client, nil
		}
	}
	if c.cfg.APIKey == "" {
		return nil, errNoAPIKey
	}

	client, err := protocol.Dial(ctx, c.cfg.Server, nil,
		protocol.WithTimeout(c.cfg.CommandTimeout()),
		protocol.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, err
	}
	c.client = client

	token := c.cfg.APIKey
	go func() {
		if err := client.Authenticate(context.Background(), token); err != nil {
			slog.Error("authentication failed", "server", c.cfg.Server, "error", err)
			// a rejected barrier never recovers; force a redial next time
			client.Close()
		}
	}()
	return client, nil
}

func (c *connection) WaitUntilAuthenticated(ctx context.Context) error {
	client, err := c.get(ctx)
	if err != nil {
		return err
	}
	return client.WaitUntilAuthenticated(ctx)
}

func (c *connection) SendCommand(ctx context.Context, method string, params any, sessionID string) (json.RawMessage, error) {
	client, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	return client.SendCommand(ctx, method, params, sessionID)
}

func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// telemetrySink spools telemetry under the data dir unless it is disabled.
func telemetrySink(cfg *config.Config) (telemetry.Sink, *telemetry.Spool) {
	if cfg.TelemetryDisabled {
		return telemetry.Nop{}, nil
	}
	spool := telemetry.NewSpool(cfg.DataDir)
	if cfg.LogLevel == "debug" {
		return telemetry.Multi{spool, telemetry.SlogSink{Logger: slog.Default().With("component", "telemetry")}}, spool
	}
	return spool, spool
}

func newUploader(cfg *config.Config, cmd upload.Commander, q *queue.Queue, sink telemetry.Sink) *upload.Uploader {
	return upload.New(cmd, q.Group, upload.Config{
		Server:             cfg.Server,
		MultipartThreshold: cfg.Upload.MultipartThreshold,
		PartSize:           cfg.Upload.PartSize,
		PartConcurrency:    cfg.Upload.PartConcurrency,
		Process:            cfg.Upload.Process,
	},
		upload.WithLog(recording.NewLog(cfg.DataDir)),
		upload.WithTelemetry(sink),
		upload.WithLogger(slog.Default()),
		upload.WithRegistries(map[string]*metadata.Registry{
			"test":   metadata.TestRegistry(),
			"source": metadata.SourceRegistry(),
		}),
	)
}

func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "replaykit.pid")
}
