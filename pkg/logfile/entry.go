package logfile

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"txlog/pkg/dberrors"
)

// Entry markers. Every transaction is a self-contained record: a start
// marker, the payload, and a commit marker carrying id and checksum.
const (
	markerStart  byte = 0x5B
	markerCommit byte = 0x5E
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Entry is a single transaction record in the log.
type Entry struct {
	ID                       int64
	TimeStarted              int64
	LastCommittedWhenStarted int64
	CommitTimestamp          int64
	Header                   []byte
	Payload                  []byte

	// Checksum covers everything from the start marker through the commit
	// timestamp. Filled in by writeEntry and verified by readEntry.
	Checksum uint32
}

// encodedSize returns the on-disk size of the entry including the trailing
// checksum.
func (e *Entry) encodedSize() uint64 {
	const fixed = 1 + 8 + 8 + 4 + // start marker, timeStarted, lastCommittedWhenStarted, header length
		4 + // payload length
		1 + 8 + 8 + // commit marker, id, commit timestamp
		4 // checksum
	return fixed + uint64(len(e.Header)) + uint64(len(e.Payload))
}

// writeEntry serializes a single entry and fills in its checksum.
func writeEntry(w io.Writer, e *Entry) error {
	if len(e.Header) > math.MaxUint32 {
		return fmt.Errorf("%w: header too large: %d", dberrors.ErrInvalidArgument, len(e.Header))
	}
	if len(e.Payload) > math.MaxUint32 {
		return fmt.Errorf("%w: payload too large: %d", dberrors.ErrInvalidArgument, len(e.Payload))
	}

	crc := crc32.New(castagnoli)
	mw := io.MultiWriter(w, crc)

	if _, err := mw.Write([]byte{markerStart}); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, e.TimeStarted); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, e.LastCommittedWhenStarted); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, uint32(len(e.Header))); err != nil {
		return err
	}
	if _, err := mw.Write(e.Header); err != nil {
		return err
	}

	if err := binary.Write(mw, binary.LittleEndian, uint32(len(e.Payload))); err != nil {
		return err
	}
	if _, err := mw.Write(e.Payload); err != nil {
		return err
	}

	if _, err := mw.Write([]byte{markerCommit}); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, e.ID); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, e.CommitTimestamp); err != nil {
		return err
	}

	e.Checksum = crc.Sum32()
	return binary.Write(w, binary.LittleEndian, e.Checksum)
}

// torn maps a clean EOF in the middle of an entry to ErrUnexpectedEOF: once
// the start marker has been read, running out of bytes means a torn tail.
func torn(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// readEntry reads a single entry and verifies its checksum.
func readEntry(r io.Reader) (Entry, error) {
	var e Entry

	crc := crc32.New(castagnoli)
	tr := io.TeeReader(r, crc)

	marker := make([]byte, 1)
	if _, err := io.ReadFull(tr, marker); err != nil {
		// A clean io.EOF here is the end of the segment, not a torn tail.
		return e, err
	}
	if marker[0] != markerStart {
		return e, fmt.Errorf("%w: expected start marker, got 0x%02X", dberrors.ErrChecksumMismatch, marker[0])
	}
	if err := binary.Read(tr, binary.LittleEndian, &e.TimeStarted); err != nil {
		return e, torn(err)
	}
	if err := binary.Read(tr, binary.LittleEndian, &e.LastCommittedWhenStarted); err != nil {
		return e, torn(err)
	}
	var headerLen uint32
	if err := binary.Read(tr, binary.LittleEndian, &headerLen); err != nil {
		return e, torn(err)
	}
	e.Header = make([]byte, headerLen)
	if _, err := io.ReadFull(tr, e.Header); err != nil {
		return e, torn(err)
	}

	var payloadLen uint32
	if err := binary.Read(tr, binary.LittleEndian, &payloadLen); err != nil {
		return e, torn(err)
	}
	e.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(tr, e.Payload); err != nil {
		return e, torn(err)
	}

	if _, err := io.ReadFull(tr, marker); err != nil {
		return e, torn(err)
	}
	if marker[0] != markerCommit {
		return e, fmt.Errorf("%w: expected commit marker, got 0x%02X", dberrors.ErrChecksumMismatch, marker[0])
	}
	if err := binary.Read(tr, binary.LittleEndian, &e.ID); err != nil {
		return e, torn(err)
	}
	if err := binary.Read(tr, binary.LittleEndian, &e.CommitTimestamp); err != nil {
		return e, torn(err)
	}

	expected := crc.Sum32()
	if err := binary.Read(r, binary.LittleEndian, &e.Checksum); err != nil {
		return e, torn(err)
	}
	if e.Checksum != expected {
		return e, fmt.Errorf("%w: transaction %d: stored 0x%08X, computed 0x%08X",
			dberrors.ErrChecksumMismatch, e.ID, e.Checksum, expected)
	}

	return e, nil
}
