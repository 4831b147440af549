package logfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Reader replays transaction entries from a position onward, verifying each
// entry's checksum and crossing segment boundaries transparently. Offsets are
// tracked at the entry level since the format is deterministic.
type Reader struct {
	lf      *LogFile
	file    *os.File
	br      *bufio.Reader
	version uint64
	offset  uint64
}

// OpenReader starts reading at pos. The position must be an entry boundary.
func (lf *LogFile) OpenReader(pos Position) (*Reader, error) {
	r := &Reader{lf: lf}
	if err := r.openSegmentAt(pos.Version, pos.Offset); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) openSegmentAt(version, offset uint64) error {
	file, err := os.Open(r.lf.segmentPath(version))
	if err != nil {
		return fmt.Errorf("failed to open log segment %d for reading: %w", version, err)
	}
	if offset > 0 {
		if _, err := file.Seek(int64(offset), io.SeekStart); err != nil {
			file.Close()
			return fmt.Errorf("failed to seek log segment %d: %w", version, err)
		}
	}
	r.file = file
	r.br = bufio.NewReader(file)
	r.version = version
	r.offset = offset
	return nil
}

// Next reads the next entry. It returns the entry together with the
// positions where it starts and ends. io.EOF signals a clean end of the log;
// any other error means the tail is torn or corrupt at the start position.
func (r *Reader) Next() (Entry, Position, Position, error) {
	for {
		start := Position{Version: r.version, Offset: r.offset}

		entry, err := readEntry(r.br)
		if err == nil {
			r.offset += entry.encodedSize()
			return entry, start, Position{Version: r.version, Offset: r.offset}, nil
		}
		if !errors.Is(err, io.EOF) {
			// Includes io.ErrUnexpectedEOF: a partial entry is a torn
			// tail, not a segment boundary.
			return Entry{}, start, start, err
		}

		// Clean end of this segment; move to the next one if it exists.
		next, ok := r.nextVersion()
		if !ok {
			return Entry{}, start, start, io.EOF
		}
		if err := r.Close(); err != nil {
			return Entry{}, start, start, err
		}
		if err := r.openSegmentAt(next, 0); err != nil {
			return Entry{}, start, start, err
		}
	}
}

func (r *Reader) nextVersion() (uint64, bool) {
	var found uint64
	ok := false
	r.lf.versions.Range(func(v uint64) bool {
		if v > r.version {
			found = v
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// Position returns where the next entry will be read from.
func (r *Reader) Position() Position {
	return Position{Version: r.version, Offset: r.offset}
}

func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	if err := r.file.Close(); err != nil {
		slog.Warn("failed to close log reader", "error", err)
		return err
	}
	r.file = nil
	return nil
}
