package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/user/replaykit/internal/queue"
	"github.com/user/replaykit/internal/retry"
)

// put streams length bytes of the file at path, starting at offset, to url
// and returns the response ETag.
func (u *Uploader) put(ctx context.Context, url, path string, offset, length int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, io.NewSectionReader(f, offset, length))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("put artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("put artifact: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	io.Copy(io.Discard, resp.Body)
	return resp.Header.Get("ETag"), nil
}

// putParts uploads every part on its own group of the part queue. Each part
// is retried on its own, so a failing part never resends finished ones.
// The returned ETags are in part order.
func (u *Uploader) putParts(ctx context.Context, path string, size int64, plan beginMultipartResult) ([]string, error) {
	if len(plan.PartLinks) == 0 {
		return nil, fmt.Errorf("multipart upload %s has no part links", plan.UploadID)
	}
	partSize := plan.PartSize
	if partSize <= 0 {
		partSize = max(1, (size+int64(len(plan.PartLinks))-1)/int64(len(plan.PartLinks)))
	}
	if want := max(1, (size+partSize-1)/partSize); int64(len(plan.PartLinks)) != want {
		return nil, fmt.Errorf("multipart upload %s: %d part links of %d bytes for a %d byte artifact, want %d",
			plan.UploadID, len(plan.PartLinks), partSize, size, want)
	}

	group := u.parts.Fork()
	etags := make([]string, len(plan.PartLinks))
	handles := make([]*queue.Handle, len(plan.PartLinks))
	for i, link := range plan.PartLinks {
		offset := int64(i) * partSize
		length := min(partSize, size-offset)
		if length <= 0 {
			etags[i] = ""
			continue
		}
		handles[i] = group.Add(ctx, func(ctx context.Context) error {
			etag, err := retry.DoValue(ctx, u.cfg.PartRetry, func(ctx context.Context) (string, error) {
				return u.put(ctx, link, path, offset, length)
			}, u.notify(fmt.Sprintf("PUT part %d", i+1)))
			if err != nil {
				return fmt.Errorf("part %d: %w", i+1, err)
			}
			etags[i] = etag
			return nil
		})
	}

	if err := group.WaitUntilIdle(ctx); err != nil {
		return nil, err
	}
	for _, h := range handles {
		if h == nil {
			continue
		}
		if err := h.Err(); err != nil {
			return nil, err
		}
	}
	return etags, nil
}
