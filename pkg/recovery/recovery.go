package recovery

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"txlog/pkg/dberrors"
	"txlog/pkg/health"
	"txlog/pkg/logfile"
	"txlog/pkg/poscache"
	"txlog/pkg/txstate"
)

// Result describes what recovery found and did.
type Result struct {
	LastTransaction txstate.TransactionID
	TailPosition    logfile.Position
	Scanned         int
	Truncated       bool
}

// Run scans the log tail from the store's closed watermark, verifies entry
// checksums, truncates a torn tail, and repositions the id store at the true
// end of the log. The position cache is primed with the scanned entries.
//
// The store passed in carries the watermarks recorded before the crash
// (e.g. read from the metadata store); if they claim transactions the log
// does not contain, recovery fails with ErrRecoveryInconsistency and normal
// operation must not start.
func Run(log *logfile.LogFile, store *txstate.TransactionIDStore, cache *poscache.Cache, monitor *health.Monitor) (Result, error) {
	lastClosed := store.LastClosedTransaction()

	start := lastClosed.Position
	if start == (logfile.Position{}) {
		start = logfile.Position{Version: log.LowestVersion()}
	}

	reader, err := log.OpenReader(start)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open log for recovery at %v: %w", start, err)
	}
	defer reader.Close()

	result := Result{
		LastTransaction: lastClosed.TransactionID,
		TailPosition:    start,
	}
	expected := lastClosed.ID + 1

	for {
		entry, entryStart, entryEnd, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, dberrors.ErrChecksumMismatch) {
			// Torn or corrupt tail: everything before it is intact, the
			// rest of the log cannot be trusted.
			slog.Warn("truncating transaction log tail",
				"position", entryStart, "reason", err)
			if err := log.Truncate(entryStart); err != nil {
				return result, fmt.Errorf("failed to truncate torn log tail: %w", err)
			}
			result.Truncated = true
			break
		}
		if err != nil {
			return result, fmt.Errorf("failed to read log during recovery: %w", err)
		}

		if entry.ID != expected {
			return result, fmt.Errorf(
				"%w: expected transaction %d at %v, found %d",
				dberrors.ErrRecoveryInconsistency, expected, entryStart, entry.ID)
		}
		expected++

		result.LastTransaction = txstate.TransactionID{
			ID:              entry.ID,
			Checksum:        entry.Checksum,
			CommitTimestamp: entry.CommitTimestamp,
		}
		result.TailPosition = entryEnd
		result.Scanned++

		cache.Put(entry.ID, poscache.Metadata{
			Checksum:        entry.Checksum,
			CommitTimestamp: entry.CommitTimestamp,
			StartPosition:   entryStart,
		})
	}

	// The recorded watermarks must not be ahead of what the log actually
	// contains.
	if recorded := store.LastCommittedTransactionID(); recorded > result.LastTransaction.ID {
		return result, fmt.Errorf(
			"%w: metadata claims committed transaction %d but the log ends at %d",
			dberrors.ErrRecoveryInconsistency, recorded, result.LastTransaction.ID)
	}

	store.SetLastCommittedAndClosedTransactionID(
		result.LastTransaction.ID,
		result.LastTransaction.Checksum,
		result.LastTransaction.CommitTimestamp,
		result.TailPosition.Version,
		result.TailPosition.Offset,
	)
	monitor.Clear()

	slog.Info("transaction log recovered",
		"last_id", result.LastTransaction.ID,
		"tail", result.TailPosition,
		"scanned", result.Scanned,
		"truncated", result.Truncated,
	)
	return result, nil
}
