package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/fsutil"
)

const (
	eventsFile = "events.jsonl"
	runsDir    = "runs"
)

// Recorder appends events and publishes run records under dir
type Recorder struct {
	mu   sync.Mutex
	dir  string
	file *os.File
}

// NewRecorder opens (or creates) the history directory
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Join(dir, runsDir), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(dir, eventsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	return &Recorder{dir: dir, file: file}, nil
}

// Dir returns the history directory
func (r *Recorder) Dir() string { return r.dir }

// Record appends one event. data is marshalled to JSON.
func (r *Recorder) Record(runID string, typ EventType, batch int, data any) error {
	ev := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      typ,
		RunID:     runID,
		Batch:     batch,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s event: %w", typ, err)
		}
		ev.Data = raw
	}

	sum, err := checksum(ev)
	if err != nil {
		return err
	}
	ev.Checksum = sum

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return fmt.Errorf("recorder is closed")
	}
	if _, err := r.file.Write(line); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "append event", err)
	}
	return r.file.Sync()
}

// WriteRun publishes a run record. Records are never rewritten.
func (r *Recorder) WriteRun(rec *RunRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	path := filepath.Join(r.dir, runsDir, rec.RunID+".json")
	if err := fsutil.WriteOnce(path, append(data, '\n'), 0o440); err != nil {
		if os.IsExist(err) {
			return errors.New(errors.ErrCodeFileWriteFailed,
				fmt.Sprintf("run record %s already exists", rec.RunID))
		}
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "write run record", err)
	}
	return nil
}

// LoadRun reads one run record
func (r *Recorder) LoadRun(runID string) (*RunRecord, error) {
	var rec RunRecord
	if err := fsutil.ReadJSON(filepath.Join(r.dir, runsDir, runID+".json"), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeFileNotFound, fmt.Sprintf("no run record for %s", runID))
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "read run record", err)
	}
	return &rec, nil
}

// ListRuns returns every run record, newest first
func (r *Recorder) ListRuns() ([]*RunRecord, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, runsDir))
	if err != nil {
		return nil, fmt.Errorf("read runs directory: %w", err)
	}

	var runs []*RunRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := r.LoadRun(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}

// Events returns the events of runID in append order (all runs when empty).
// Every event's checksum is verified; a tampered line fails the read.
func (r *Recorder) Events(runID string) ([]Event, error) {
	f, err := os.Open(filepath.Join(r.dir, eventsFile))
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileUnmarshal, fmt.Sprintf("event log line %d", line), err)
		}

		want := ev.Checksum
		ev.Checksum = ""
		got, err := checksum(ev)
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, errors.New(errors.ErrCodeFileUnmarshal,
				fmt.Sprintf("event log line %d failed checksum verification", line))
		}
		ev.Checksum = want

		if runID == "" || ev.RunID == runID {
			events = append(events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return events, nil
}

// Close closes the event log
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func checksum(ev Event) (string, error) {
	ev.Checksum = ""
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event for checksum: %w", err)
	}
	return fsutil.ChecksumBytes(data), nil
}
