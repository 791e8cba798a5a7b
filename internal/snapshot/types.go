// Package snapshot manages the append-only backup arena. Before a batch
// mutates anything, every file it declares is copied into a run-scoped,
// timestamp-keyed directory together with its checksum.
package snapshot

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// TimestampFormat keys run arenas; it sorts lexically in time order
	TimestampFormat = "20060102T150405.000Z"

	// DefaultRetention is how long run arenas are kept before pruning
	DefaultRetention = 24 * time.Hour

	runMetaFile      = "run.json"
	snapshotMetaFile = "snapshot.json"
	filesDir         = "files"
	partialSuffix    = ".partial"
)

// Entry records one backed-up file
type Entry struct {
	Path     string      `json:"path"`
	Checksum string      `json:"checksum,omitempty"`
	Size     int64       `json:"size"`
	Mode     os.FileMode `json:"mode"`

	// Absent files did not exist before the batch; restoring removes them.
	Absent bool `json:"absent"`
}

// Snapshot is the published backup of one batch. It is never modified
// after publication.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	Batch     int       `json:"batch"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`

	dir string
}

// Dir returns the published batch directory
func (s *Snapshot) Dir() string { return s.dir }

// BlobPath returns where the backup content of e is stored
func (s *Snapshot) BlobPath(e Entry) string {
	return filepath.Join(s.dir, filesDir, filepath.FromSlash(e.Path))
}

// Files returns the recorded paths in order
func (s *Snapshot) Files() []string {
	out := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Path
	}
	return out
}

// Checksums maps every present file to its recorded checksum
func (s *Snapshot) Checksums() map[string]string {
	out := make(map[string]string, len(s.Entries))
	for _, e := range s.Entries {
		if !e.Absent {
			out[e.Path] = e.Checksum
		}
	}
	return out
}

// BatchMeta summarizes one published batch inside run.json
type BatchMeta struct {
	Index     int               `json:"index"`
	FileCount int               `json:"file_count"`
	Absent    []string          `json:"absent,omitempty"`
	Checksums map[string]string `json:"checksums"`
}

// RunMeta is the small per-run metadata record
type RunMeta struct {
	RunID      string      `json:"run_id"`
	RepoRoot   string      `json:"repo_root"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	FileCount  int         `json:"file_count"`
	Batches    []BatchMeta `json:"batches"`

	dir string
}

// Dir returns the run arena directory
func (m *RunMeta) Dir() string { return m.dir }
