package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/user/replaykit/internal/metadata"
	"github.com/user/replaykit/internal/recording"
	"github.com/user/replaykit/internal/retry"
)

// Remote methods used by the pipeline.
const (
	MethodBeginUpload          = "Internal.beginRecordingUpload"
	MethodBeginMultipartUpload = "Internal.beginRecordingMultipartUpload"
	MethodEndMultipartUpload   = "Internal.endRecordingMultipartUpload"
	MethodEndUpload            = "Internal.endRecordingUpload"
	MethodSetMetadata          = "Recording.setRecordingMetadata"
	MethodAddSourceMap         = "Recording.addSourceMap"
	MethodAddOriginalSource    = "Recording.addOriginalSource"
	MethodProcessRecording     = "Recording.processRecording"
)

type beginResult struct {
	RecordingID string `json:"recordingId"`
	UploadLink  string `json:"uploadLink"`
}

type beginMultipartResult struct {
	RecordingID string   `json:"recordingId"`
	UploadID    string   `json:"uploadId"`
	PartLinks   []string `json:"partLinks"`
	PartSize    int64    `json:"partSize"`
}

type sourceMapResult struct {
	ID string `json:"id"`
}

// run performs the upload steps in order and returns the remote recording
// id.
func (u *Uploader) run(ctx context.Context, rec *recording.Recording) (string, error) {
	if rec.Path == "" {
		return "", errors.New("recording has no artifact path")
	}
	info, err := os.Stat(rec.Path)
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}
	size := info.Size()

	if err := u.cmd.WaitUntilAuthenticated(ctx); err != nil {
		return "", fmt.Errorf("wait for authentication: %w", err)
	}

	multipart := size > u.cfg.MultipartThreshold
	var (
		remoteID string
		single   beginResult
		parts    beginMultipartResult
	)
	if multipart {
		err = u.call(ctx, MethodBeginMultipartUpload, map[string]any{
			"buildId":       rec.BuildID,
			"recordingId":   rec.ID,
			"recordingSize": size,
			"partSize":      u.cfg.PartSize,
		}, &parts)
		remoteID = parts.RecordingID
	} else {
		err = u.call(ctx, MethodBeginUpload, map[string]any{
			"buildId":       rec.BuildID,
			"recordingId":   rec.ID,
			"recordingSize": size,
		}, &single)
		remoteID = single.RecordingID
	}
	if err != nil {
		return "", err
	}
	if remoteID == "" {
		remoteID = rec.ID
	}

	if err := u.setMetadata(ctx, rec, remoteID, size); err != nil {
		return "", err
	}
	for _, sm := range rec.SourceMaps {
		if err := u.addSourceMap(ctx, remoteID, sm); err != nil {
			return "", err
		}
	}

	if multipart {
		etags, err := u.putParts(ctx, rec.Path, size, parts)
		if err != nil {
			return "", err
		}
		if err := u.call(ctx, MethodEndMultipartUpload, map[string]any{
			"recordingId": remoteID,
			"uploadId":    parts.UploadID,
			"partIds":     etags,
		}, nil); err != nil {
			return "", err
		}
	} else {
		err := retry.Do(ctx, u.cfg.Retry, func(ctx context.Context) error {
			_, err := u.put(ctx, single.UploadLink, rec.Path, 0, size)
			return err
		}, u.notify("PUT artifact"))
		if err != nil {
			return "", err
		}
	}

	if u.cfg.Process {
		if err := u.call(ctx, MethodProcessRecording, map[string]any{"recordingId": remoteID}, nil); err != nil {
			return "", err
		}
	}
	if err := u.call(ctx, MethodEndUpload, map[string]any{"recordingId": remoteID}, nil); err != nil {
		return "", err
	}
	return remoteID, nil
}

// call sends one command with exponential retry and decodes its result
// into out when out is non-nil.
func (u *Uploader) call(ctx context.Context, method string, params any, out any) error {
	raw, err := retry.DoValue(ctx, u.cfg.Retry, func(ctx context.Context) (json.RawMessage, error) {
		return u.cmd.SendCommand(ctx, method, params, "")
	}, u.notify(method))
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (u *Uploader) notify(what string) retry.Option {
	return retry.WithNotify(func(attempt int, err error, wait time.Duration) {
		u.logger.Warn("retrying", "step", what, "attempt", attempt, "wait", wait, "error", err)
	})
}

func (u *Uploader) setMetadata(ctx context.Context, rec *recording.Recording, remoteID string, size int64) error {
	sections, errs := metadata.Sections(rec.Metadata, u.registries)
	for name, err := range errs {
		u.logger.Warn("dropping invalid metadata", "recording_id", rec.ID, "section", name, "error", err)
	}

	recordingData := map[string]any{
		"id":   remoteID,
		"size": size,
	}
	if title := rec.Title(); title != "" {
		recordingData["title"] = title
	}
	if uri, ok := rec.Metadata["uri"].(string); ok {
		recordingData["url"] = uri
	}
	if d, ok := rec.Metadata["duration"]; ok {
		recordingData["duration"] = d
	}

	return u.call(ctx, MethodSetMetadata, map[string]any{
		"metadata": map[string]any{
			"recordingData": recordingData,
			"metadata":      sections,
		},
	}, nil)
}

// addSourceMap uploads one source map and the original sources it points
// to. Missing files are skipped with a warning.
func (u *Uploader) addSourceMap(ctx context.Context, remoteID string, sm recording.SourceMap) error {
	contents, err := os.ReadFile(sm.Path)
	if err != nil {
		u.logger.Warn("skipping unreadable source map", "recording_id", sm.RecordingID, "path", sm.Path, "error", err)
		return nil
	}

	var res sourceMapResult
	if err := u.call(ctx, MethodAddSourceMap, map[string]any{
		"recordingId":       remoteID,
		"sourceMap":         string(contents),
		"baseURL":           sm.BaseURL,
		"targetContentHash": sm.TargetContentHash,
		"targetURLHash":     sm.TargetURLHash,
		"targetMapURLHash":  sm.TargetMapURLHash,
	}, &res); err != nil {
		return err
	}

	for _, src := range sm.OriginalSources {
		body, err := os.ReadFile(src.Path)
		if err != nil {
			u.logger.Warn("skipping unreadable original source", "path", src.Path, "error", err)
			continue
		}
		if err := u.call(ctx, MethodAddOriginalSource, map[string]any{
			"recordingId":  remoteID,
			"parentId":     res.ID,
			"parentOffset": src.ParentOffset,
			"contents":     string(body),
		}, nil); err != nil {
			return err
		}
	}
	return nil
}
