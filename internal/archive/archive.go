// Package archive writes the escalation history of removed alarms to
// zstd-compressed JSON lines, partitioned by month:
//
//	<dir>/history/YYYY/MM/alarms-YYYY-MM-DD.jsonl.zst
//
// Each Archive call appends one independent zstd frame, so files stay
// readable after a crash mid-write and can be concatenated.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"escalarm/internal/escalation"
	"escalarm/internal/types"
)

// Reason explains why an alarm left the live set.
type Reason string

const (
	ReasonAcknowledged Reason = "acknowledged"
	ReasonExpired      Reason = "expired"
	ReasonRemoved      Reason = "removed"
)

// Record is one archived alarm.
type Record struct {
	Alarm      escalation.Alarm `json:"alarm"`
	Reason     Reason           `json:"reason"`
	ArchivedAt time.Time        `json:"archived_at"`
}

// Archiver persists records of alarms leaving the live set.
type Archiver interface {
	Archive(ctx context.Context, rec Record) error
}

// Nop discards records. It is used when ARCHIVE_DIR is empty.
type Nop struct{}

func (Nop) Archive(context.Context, Record) error { return nil }

var _ Archiver = (*FileArchive)(nil)

// FileArchive appends records under a root directory.
type FileArchive struct {
	root string

	mu  sync.Mutex
	enc *zstd.Encoder
}

// NewFileArchive creates the history root under dir.
func NewFileArchive(dir string) (*FileArchive, error) {
	root := filepath.Join(dir, "history")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", root, err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("archive: create encoder: %w", err)
	}
	return &FileArchive{root: root, enc: enc}, nil
}

// Path returns the file a record archived at t is written to.
func (a *FileArchive) Path(t time.Time) string { return partitionPath(a.root, t) }

// PathFor returns the archive file for day t under an archive directory,
// for readers that do not hold a FileArchive.
func PathFor(dir string, t time.Time) string {
	return partitionPath(filepath.Join(dir, "history"), t)
}

func partitionPath(root string, t time.Time) string {
	t = t.UTC()
	return filepath.Join(root,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("alarms-%s.jsonl.zst", t.Format("2006-01-02")),
	)
}

// Archive appends rec as a single compressed JSON line.
func (a *FileArchive) Archive(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalArchive, "failed to encode archive record", err)
	}
	line = append(line, '\n')

	path := a.Path(rec.ArchivedAt)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.NewAppError(types.ErrCodeInternalArchive, "failed to create archive partition", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalArchive, "failed to open archive file", err)
	}

	a.enc.Reset(f)
	_, werr := a.enc.Write(line)
	cerr := a.enc.Close()
	ferr := f.Close()
	if err := errors.Join(werr, cerr, ferr); err != nil {
		return types.NewAppError(types.ErrCodeInternalArchive, "failed to write archive record", err).
			WithDetails(map[string]any{"alarm_id": rec.Alarm.ID, "path": path})
	}
	return nil
}

// ReadFile decodes every record in an archive file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes records from a stream of concatenated zstd frames.
func Read(r io.Reader) ([]Record, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("archive: create decoder: %w", err)
	}
	defer dec.Close()

	var out []Record
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return out, fmt.Errorf("archive: decode record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("archive: read: %w", err)
	}
	return out, nil
}
