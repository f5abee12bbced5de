package recording

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"
)

// Snapshot is the result of replaying a recordings log.
type Snapshot struct {
	// Recordings ordered by creation time, then id.
	Recordings []*Recording
	// Orphans holds source maps whose recording never appeared, keyed by
	// recording id.
	Orphans map[string][]SourceMap
}

// Get returns the recording with the given id, or nil.
func (s *Snapshot) Get(id string) *Recording {
	for _, r := range s.Recordings {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Pending returns finished recordings that have not been uploaded yet.
func (s *Snapshot) Pending() []*Recording {
	var out []*Recording
	for _, r := range s.Recordings {
		if r.Status == StatusFinished && !r.Uploaded() {
			out = append(out, r)
		}
	}
	return out
}

// folder accumulates state while entries are applied in log order.
type folder struct {
	records map[string]*Recording
	// deferred holds non-sourcemap entries for ids with no creation line yet.
	deferred map[string][]Entry
	// maps holds source maps for ids with no creation line yet.
	maps map[string][]SourceMap
	// originals holds original sources whose parent source map is unknown.
	originals map[string][]OriginalSource
}

// Fold replays entries in order and returns the resulting snapshot. It reads
// nothing but the entries, so folding the same entries always gives the
// same snapshot.
func Fold(entries []Entry) *Snapshot {
	f := &folder{
		records:   make(map[string]*Recording),
		deferred:  make(map[string][]Entry),
		maps:      make(map[string][]SourceMap),
		originals: make(map[string][]OriginalSource),
	}
	for i := range entries {
		f.apply(&entries[i])
	}
	return f.snapshot()
}

func (f *folder) apply(e *Entry) {
	id := e.owner()
	if id == "" {
		slog.Warn("recording log entry has no id", "kind", e.Kind)
		return
	}

	switch e.Kind {
	case KindCreateRecording:
		f.create(id, e)
		return
	case KindSourcemapAdded:
		f.addSourceMap(id, e)
		return
	case KindOriginalSourceAdded:
		f.addOriginalSource(id, e)
		return
	}

	rec, ok := f.records[id]
	if !ok {
		f.deferred[id] = append(f.deferred[id], *e)
		return
	}
	f.mutate(rec, e)
}

func (f *folder) create(id string, e *Entry) {
	rec, ok := f.records[id]
	if ok {
		return
	}
	rec = &Recording{
		ID:            id,
		Status:        StatusRecording,
		BuildID:       e.BuildID,
		DriverVersion: e.DriverVersion,
		Metadata:      make(map[string]any),
		CreatedAt:     millis(e.Timestamp),
	}
	f.records[id] = rec

	if buffered, ok := f.maps[id]; ok {
		rec.SourceMaps = append(rec.SourceMaps, buffered...)
		delete(f.maps, id)
	}
	if buffered, ok := f.deferred[id]; ok {
		delete(f.deferred, id)
		for i := range buffered {
			f.mutate(rec, &buffered[i])
		}
	}
}

func (f *folder) mutate(rec *Recording, e *Entry) {
	switch e.Kind {
	case KindAddMetadata:
		for k, v := range e.Metadata {
			rec.Metadata[k] = cloneValue(v)
		}
	case KindWriteStarted:
		rec.Path = e.Path
	case KindWriteFinished:
		if rec.Status != StatusCrashed {
			rec.Status = StatusFinished
		}
	case KindCrashed, KindCrashData:
		rec.Status = StatusCrashed
	case KindRecordingUnusable:
		rec.Status = StatusCrashed
		rec.UnusableReason = e.Reason
	case KindUploadStarted:
		if !rec.Uploaded() {
			rec.Upload = &UploadState{Status: UploadStarted, Server: e.Server, UpdatedAt: millis(e.Timestamp)}
		}
	case KindUploadFinished:
		rec.Upload = &UploadState{Status: UploadFinished, Server: e.Server, RemoteID: e.RemoteID, UpdatedAt: millis(e.Timestamp)}
	case KindUploadFailed:
		if !rec.Uploaded() {
			rec.Upload = &UploadState{Status: UploadFailed, Server: e.Server, Error: e.Reason, UpdatedAt: millis(e.Timestamp)}
		}
	default:
		slog.Debug("ignoring unknown recording log entry", "kind", e.Kind, "id", rec.ID)
	}
}

func (f *folder) addSourceMap(owner string, e *Entry) {
	sm := SourceMap{
		ID:                e.ID,
		RecordingID:       owner,
		Path:              e.Path,
		URL:               e.URL,
		BaseURL:           e.BaseURL,
		TargetContentHash: e.TargetContentHash,
		TargetURLHash:     e.TargetURLHash,
		TargetMapURLHash:  e.TargetMapURLHash,
		Timestamp:         e.Timestamp,
	}
	if sm.ID == "" || sm.ID == owner {
		sm.ID = cmp.Or(e.TargetMapURLHash, e.Path)
	}
	if pending, ok := f.originals[sm.ID]; ok {
		sm.OriginalSources = append(sm.OriginalSources, pending...)
		delete(f.originals, sm.ID)
	}

	if rec, ok := f.records[owner]; ok {
		rec.SourceMaps = append(rec.SourceMaps, sm)
		return
	}
	f.maps[owner] = append(f.maps[owner], sm)
}

func (f *folder) addOriginalSource(owner string, e *Entry) {
	src := OriginalSource{Path: e.Path, ParentID: e.ParentID, ParentOffset: e.ParentOffset}

	var list []SourceMap
	if rec, ok := f.records[owner]; ok {
		list = rec.SourceMaps
	} else {
		list = f.maps[owner]
	}
	for i := range list {
		if list[i].ID == e.ParentID {
			list[i].OriginalSources = append(list[i].OriginalSources, src)
			return
		}
	}
	f.originals[e.ParentID] = append(f.originals[e.ParentID], src)
}

// snapshot copies the accumulated state so the result shares nothing with
// the folder.
func (f *folder) snapshot() *Snapshot {
	snap := &Snapshot{
		Recordings: make([]*Recording, 0, len(f.records)),
		Orphans:    make(map[string][]SourceMap, len(f.maps)),
	}
	for _, rec := range f.records {
		snap.Recordings = append(snap.Recordings, cloneRecording(rec))
	}
	slices.SortFunc(snap.Recordings, func(a, b *Recording) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	for id, list := range f.maps {
		snap.Orphans[id] = cloneSourceMaps(list)
	}
	return snap
}

func cloneRecording(r *Recording) *Recording {
	out := *r
	out.Metadata = cloneMap(r.Metadata)
	out.SourceMaps = cloneSourceMaps(r.SourceMaps)
	if r.Upload != nil {
		u := *r.Upload
		out.Upload = &u
	}
	return &out
}

func cloneSourceMaps(list []SourceMap) []SourceMap {
	out := make([]SourceMap, len(list))
	for i, sm := range list {
		sm.OriginalSources = slices.Clone(sm.OriginalSources)
		out[i] = sm
	}
	slices.SortStableFunc(out, func(a, b SourceMap) int {
		return cmp.Or(cmp.Compare(a.Timestamp, b.Timestamp), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// OrphanIDs returns the ids that own orphaned source maps, sorted.
func (s *Snapshot) OrphanIDs() []string {
	return slices.Sorted(maps.Keys(s.Orphans))
}
