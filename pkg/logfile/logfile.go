package logfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/zhangyunhao116/skipset"
)

const (
	segmentPrefix = "txlog-"
	segmentSuffix = ".log"

	// DefaultSegmentSize is the rotation threshold for a single segment.
	DefaultSegmentSize uint64 = 256 * 1024 * 1024
)

// LogFile is the append-only transaction log, partitioned into versioned
// segments. All writes go through the single current segment; rotation bumps
// the version. Callers serialize Append/Force themselves (the appender holds
// the write lock); the internal mutex only guards against rotation racing
// readers of position/versions.
type LogFile struct {
	mu          sync.Mutex
	dir         string
	segmentSize uint64

	version uint64
	offset  uint64
	file    *os.File
	writer  *bufio.Writer

	versions *skipset.FuncSet[uint64]
}

func newVersionSet() *skipset.FuncSet[uint64] {
	return skipset.NewFunc[uint64](func(a, b uint64) bool {
		return a < b
	})
}

// Open opens the log in dir, creating it if needed. Appends continue at the
// tail of the highest existing segment.
func Open(dir string, segmentSize uint64) (*LogFile, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty log dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if segmentSize == 0 {
		segmentSize = DefaultSegmentSize
	}

	lf := &LogFile{
		dir:         dir,
		segmentSize: segmentSize,
		versions:    newVersionSet(),
	}

	existing, err := scanSegments(dir)
	if err != nil {
		return nil, err
	}
	version := uint64(0)
	for _, v := range existing {
		lf.versions.Add(v)
		if v > version {
			version = v
		}
	}

	if err := lf.openSegment(version); err != nil {
		return nil, err
	}
	return lf, nil
}

func scanSegments(dir string) ([]uint64, error) {
	matches, err := filepath.Glob(filepath.Join(dir, segmentPrefix+"*"+segmentSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list log segments: %w", err)
	}
	versions := make([]uint64, 0, len(matches))
	for _, m := range matches {
		var v uint64
		if _, err := fmt.Sscanf(filepath.Base(m), segmentPrefix+"%d"+segmentSuffix, &v); err != nil {
			slog.Warn("ignoring unparsable log segment", "file", m)
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

func (lf *LogFile) segmentPath(version uint64) string {
	return filepath.Join(lf.dir, fmt.Sprintf("%s%d%s", segmentPrefix, version, segmentSuffix))
}

// openSegment opens (or creates) the segment for the given version for
// appending, positioning the offset at its tail.
func (lf *LogFile) openSegment(version uint64) error {
	file, err := os.OpenFile(lf.segmentPath(version), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log segment %d: %w", version, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log segment %d: %w", version, err)
	}

	lf.file = file
	lf.writer = bufio.NewWriter(file)
	lf.version = version
	lf.offset = uint64(info.Size())
	lf.versions.Add(version)
	return nil
}

// Append writes a single transaction entry at the current position and
// returns the positions where the entry starts and ends. The entry is
// buffered; it is not durable until Force.
func (lf *LogFile) Append(entry *Entry) (start, end Position, err error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.writer == nil {
		return start, end, fmt.Errorf("log file is closed")
	}

	if lf.offset >= lf.segmentSize && lf.offset > 0 {
		if err := lf.rotate(); err != nil {
			return start, end, err
		}
	}

	start = Position{Version: lf.version, Offset: lf.offset}
	if err := writeEntry(lf.writer, entry); err != nil {
		return start, end, fmt.Errorf("failed to write log entry: %w", err)
	}
	lf.offset += entry.encodedSize()
	end = Position{Version: lf.version, Offset: lf.offset}
	return start, end, nil
}

// rotate flushes and syncs the current segment and starts a new one.
func (lf *LogFile) rotate() error {
	if err := lf.flushAndSync(); err != nil {
		return fmt.Errorf("failed to finish segment %d before rotation: %w", lf.version, err)
	}
	if err := lf.file.Close(); err != nil {
		return fmt.Errorf("failed to close segment %d: %w", lf.version, err)
	}
	next := lf.version + 1
	if err := lf.openSegment(next); err != nil {
		return err
	}
	slog.Info("rotated transaction log segment", "version", next)
	return nil
}

// Force makes everything appended so far durable. One call per batch.
func (lf *LogFile) Force() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.writer == nil {
		return fmt.Errorf("log file is closed")
	}
	return lf.flushAndSync()
}

func (lf *LogFile) flushAndSync() error {
	if err := lf.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush log: %w", err)
	}
	if err := lf.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log: %w", err)
	}
	return nil
}

// CurrentPosition returns where the next entry will be written.
func (lf *LogFile) CurrentPosition() Position {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return Position{Version: lf.version, Offset: lf.offset}
}

// Versions returns the live segment versions in ascending order.
func (lf *LogFile) Versions() []uint64 {
	versions := make([]uint64, 0, lf.versions.Len())
	lf.versions.Range(func(v uint64) bool {
		versions = append(versions, v)
		return true
	})
	return versions
}

// LowestVersion returns the oldest live segment version.
func (lf *LogFile) LowestVersion() uint64 {
	lowest := lf.version
	lf.versions.Range(func(v uint64) bool {
		lowest = v
		return false
	})
	return lowest
}

// Truncate discards everything at and after pos: later segments are removed
// and the segment at pos.Version is cut back to pos.Offset. Recovery uses
// this to drop a torn tail.
func (lf *LogFile) Truncate(pos Position) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.writer == nil {
		return fmt.Errorf("log file is closed")
	}
	if err := lf.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush before truncate: %w", err)
	}
	if err := lf.file.Close(); err != nil {
		return fmt.Errorf("failed to close segment before truncate: %w", err)
	}
	lf.file = nil
	lf.writer = nil

	for _, v := range lf.Versions() {
		if v <= pos.Version {
			continue
		}
		if err := os.Remove(lf.segmentPath(v)); err != nil {
			return fmt.Errorf("failed to remove log segment %d: %w", v, err)
		}
		lf.versions.Remove(v)
		slog.Warn("removed log segment past truncation point", "version", v)
	}

	if err := os.Truncate(lf.segmentPath(pos.Version), int64(pos.Offset)); err != nil {
		return fmt.Errorf("failed to truncate log segment %d: %w", pos.Version, err)
	}
	return lf.openSegment(pos.Version)
}

// Close flushes, syncs and closes the current segment.
func (lf *LogFile) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.writer != nil {
		if err := lf.flushAndSync(); err != nil {
			return err
		}
		lf.writer = nil
	}
	if lf.file != nil {
		if err := lf.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		lf.file = nil
	}
	return nil
}
