package project

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wangnov/mcp-center/internal/layout"
	"github.com/wangnov/mcp-center/internal/mcperrors"
)

// fileStamp is the (mtime, size) pair tracked per file in a fingerprint.
type fileStamp struct {
	modTime time.Time
	size    int64
}

// fingerprintKind distinguishes the three states named in spec §4.3:
// Missing (directory absent), Unknown (must rescan unconditionally), and
// Known (a concrete file-path -> stamp map).
type fingerprintKind int

const (
	fingerprintMissing fingerprintKind = iota
	fingerprintUnknown
	fingerprintKnown
)

type fingerprint struct {
	kind  fingerprintKind
	files map[string]fileStamp
}

func (f fingerprint) equal(other fingerprint) bool {
	if f.kind != fingerprintKnown || other.kind != fingerprintKnown {
		return false
	}
	if len(f.files) != len(other.files) {
		return false
	}
	for path, stamp := range f.files {
		os, ok := other.files[path]
		if !ok || !os.modTime.Equal(stamp.modTime) || os.size != stamp.size {
			return false
		}
	}
	return true
}

const maxFingerprintRetries = 3

// Registry is the Project Registry: persistent per-project TOML records
// behind a cache consistent with the on-disk directory fingerprint (I5).
type Registry struct {
	layout layout.Layout

	mu          sync.RWMutex
	recordsByID map[string]*Record
	pathIndex   map[string]string // canonical path -> id
	fp          fingerprint
}

// NewRegistry builds an empty, unpopulated registry; the first read
// triggers the initial scan.
func NewRegistry(l layout.Layout) *Registry {
	return &Registry{
		layout:      l,
		recordsByID: map[string]*Record{},
		pathIndex:   map[string]string{},
		fp:          fingerprint{kind: fingerprintUnknown},
	}
}

func currentFingerprint(dir string) (fingerprint, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fingerprint{kind: fingerprintMissing}, nil, nil
		}
		return fingerprint{}, nil, mcperrors.Internalf(err, "failed to read directory %s", dir)
	}

	files := make(map[string]fileStamp, len(entries))
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue // file disappeared mid-scan; next fingerprint will differ and force a retry
		}
		files[path] = fileStamp{modTime: info.ModTime(), size: info.Size()}
		paths = append(paths, path)
	}
	return fingerprint{kind: fingerprintKnown, files: files}, paths, nil
}

// ensureFresh implements the refresh discipline of spec §4.3/I5: compare
// fingerprints, rescan on mismatch, retry up to 3 times, fall back to
// Unknown (forcing the next access to rescan) if the directory keeps
// changing underneath us.
func (r *Registry) ensureFresh() error {
	current, _, err := currentFingerprint(r.layout.ProjectsDir())
	if err != nil {
		return err
	}

	r.mu.RLock()
	cached := r.fp
	r.mu.RUnlock()

	if cached.kind != fingerprintUnknown && cached.equal(current) {
		return nil
	}

	var snapshot map[string]*Record
	var snapshotFP fingerprint
	for attempt := 0; attempt < maxFingerprintRetries; attempt++ {
		snapshot, err = r.scan()
		if err != nil {
			return err
		}
		after, _, err := currentFingerprint(r.layout.ProjectsDir())
		if err != nil {
			return err
		}
		if after.equal(current) || (current.kind == fingerprintMissing && after.kind == fingerprintMissing) {
			snapshotFP = after
			r.install(snapshot, snapshotFP)
			return nil
		}
		current = after
	}

	// Directory kept changing across every retry; install what we saw but
	// mark the fingerprint Unknown so the very next access re-scans.
	r.install(snapshot, fingerprint{kind: fingerprintUnknown})
	return nil
}

func (r *Registry) scan() (map[string]*Record, error) {
	entries, err := os.ReadDir(r.layout.ProjectsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Record{}, nil
		}
		return nil, mcperrors.Internalf(err, "failed to read directory %s", r.layout.ProjectsDir())
	}

	records := make(map[string]*Record, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		rec, err := loadRecordFile(filepath.Join(r.layout.ProjectsDir(), entry.Name()))
		if err != nil {
			return nil, err
		}
		records[rec.ID] = rec
	}
	return records, nil
}

func (r *Registry) install(records map[string]*Record, fp fingerprint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordsByID = records
	r.pathIndex = make(map[string]string, len(records))
	for id, rec := range records {
		r.pathIndex[rec.Path] = id
	}
	r.fp = fp
}

// List returns every project record, refreshing the cache first if needed.
func (r *Registry) List() ([]*Record, error) {
	if err := r.ensureFresh(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.recordsByID))
	for _, rec := range r.recordsByID {
		out = append(out, rec)
	}
	return out, nil
}

// Load returns a single record by id, refreshing the cache first if needed.
func (r *Registry) Load(id string) (*Record, error) {
	if err := r.ensureFresh(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recordsByID[id]
	if !ok {
		return nil, mcperrors.NotFoundf(id, "project configuration %q not found", id)
	}
	return rec, nil
}

// FindByPath returns the record for an exact canonical path, if any.
func (r *Registry) FindByPath(path string) (*Record, bool, error) {
	if err := r.ensureFresh(); err != nil {
		return nil, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.pathIndex[path]
	if !ok {
		return nil, false, nil
	}
	rec := r.recordsByID[id]
	return rec, true, nil
}

// Store persists rec and patches the cache in place (P3). On any patch
// failure the fingerprint is downgraded to Unknown so the next read
// re-syncs from disk, matching spec §4.3/§7's recovery policy.
func (r *Registry) Store(rec *Record) error {
	if err := saveRecordFile(r.layout.ProjectConfigPath(rec.ID), rec); err != nil {
		r.markUnknown()
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordsByID[rec.ID] = rec
	r.pathIndex[rec.Path] = rec.ID
	r.fp.kind = fingerprintUnknown
	return nil
}

// Delete removes a record by id and patches the cache (P4).
func (r *Registry) Delete(id string) error {
	path := r.layout.ProjectConfigPath(id)
	if _, err := os.Stat(path); err != nil {
		return mcperrors.NotFoundf(id, "project configuration %q not found", id)
	}
	if err := os.Remove(path); err != nil {
		r.markUnknown()
		return mcperrors.Internalf(err, "failed to remove %s", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.recordsByID[id]; ok {
		delete(r.pathIndex, rec.Path)
	}
	delete(r.recordsByID, id)
	r.fp.kind = fingerprintUnknown
	return nil
}

func (r *Registry) markUnknown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fp.kind = fingerprintUnknown
}

// LoadOrCreate implements the handshake-time load-or-create step of
// spec §4.2: an existing record for path keeps its policy fields and only
// has path/agent/timestamps refreshed; a brand new record is seeded with
// every currently known server id (default allow-all) plus metadata and
// bridge_pid.
func (r *Registry) LoadOrCreate(path string, knownServerIDs []string, agent string, bridgePID int, metadata map[string]string, now time.Time) (rec *Record, created bool, err error) {
	existing, found, err := r.FindByPath(path)
	if err != nil {
		return nil, false, err
	}
	if found {
		existing.Path = path
		if agent != "" {
			existing.Agent = agent
		}
		existing.Touch(now)
		if err := r.Store(existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	rec = &Record{
		ID:               string(FromPath(path)),
		Path:             path,
		Agent:            agent,
		AllowedServerIDs: append([]string(nil), knownServerIDs...),
		CreatedAt:        now.Unix(),
		LastSeenAt:       now.Unix(),
		Metadata:         map[string]string{},
	}
	for k, v := range metadata {
		rec.Metadata["meta_"+k] = v
	}
	if bridgePID != 0 {
		rec.Metadata["bridge_pid"] = strconv.Itoa(bridgePID)
	}
	if err := r.Store(rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}
