package recording

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchSeesAppends(t *testing.T) {
	dir := t.TempDir()
	log := NewLog(dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snaps := make(chan *Snapshot, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, 10*time.Millisecond, func(s *Snapshot) { snaps <- s })
	}()

	select {
	case s := <-snaps:
		if len(s.Recordings) != 0 {
			t.Fatalf("expected empty initial snapshot, got %d", len(s.Recordings))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}

	id := NewID()
	if err := log.Append(context.Background(), Entry{Kind: KindCreateRecording, ID: id}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-snaps:
			if s.Get(id) != nil {
				cancel()
				if err := <-done; err != nil {
					t.Errorf("watch returned %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("watcher never reported the new recording")
		}
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snaps := make(chan *Snapshot, 16)
	go Watch(ctx, dir, 10*time.Millisecond, func(s *Snapshot) { snaps <- s })

	select {
	case <-snaps:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}

	if err := os.WriteFile(filepath.Join(dir, "recording-1.dat"), []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-snaps:
		t.Fatal("reloaded for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}
