package keyword

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrNoSnapshot indicates that no snapshot file exists yet.
var ErrNoSnapshot = errors.New("keyword: no snapshot")

// snapshotVersion guards against decoding stale formats after an upgrade.
const snapshotVersion = 1

type snapshot struct {
	Version    int
	TermFreqs  map[string]map[string]int
	DocFreqs   map[string]int
	DocLengths map[string]int
	AvgDocLen  float64
	TotalDocs  int
}

// Save writes the index to path atomically. A file lock serializes
// concurrent writers across processes; the temp-file rename keeps readers
// from ever seeing a partial snapshot.
func (idx *Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock snapshot: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	idx.mu.RLock()
	snap := snapshot{
		Version:    snapshotVersion,
		TermFreqs:  idx.termFreqs,
		DocFreqs:   idx.docFreqs,
		DocLengths: idx.docLengths,
		AvgDocLen:  idx.avgDocLen,
		TotalDocs:  idx.totalDocs,
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".keyword-*")
	if err != nil {
		idx.mu.RUnlock()
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	encErr := gob.NewEncoder(tmp).Encode(snap)
	idx.mu.RUnlock()

	if closeErr := tmp.Close(); encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("encode snapshot: %w", encErr)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load replaces the index contents from a snapshot file. Returns
// ErrNoSnapshot when the file does not exist; callers fall back to a rebuild
// from the knowledge store. A corrupt or stale-format snapshot is also an
// error and leaves the index untouched.
func (idx *Index) Load(path string) error {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("lock snapshot: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNoSnapshot
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("snapshot version %d not supported", snap.Version)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.termFreqs = snap.TermFreqs
	idx.docFreqs = snap.DocFreqs
	idx.docLengths = snap.DocLengths
	idx.avgDocLen = snap.AvgDocLen
	idx.totalDocs = snap.TotalDocs
	if idx.termFreqs == nil {
		idx.reset()
	}
	return nil
}
