package txstate

import (
	"fmt"
	"sync/atomic"

	"txlog/pkg/logfile"
)

// TransactionIDStore keeps the latest transaction ids for a single storage
// instance. There is one counter for committing transaction ids, one
// high-water mark for committed (durably logged) transactions and one
// gap-free watermark for closed (fully applied) transactions.
//
// A transaction id passes through the store like this:
//
//  1. NextCommittingTransactionID hands an id to a committer. The id is not
//     visible from any getter yet.
//  2. TransactionCommitted is called once the commit entry is forced to the
//     log. The highest id ever reported becomes LastCommittedTransactionID.
//  3. TransactionClosed is called once all changes the transaction imposes
//     have been applied to the store. Application may be asynchronous, so
//     calls can arrive out of id order.
//
// The three fields are synchronized independently; no global lock is held.
type TransactionIDStore struct {
	committing    atomic.Int64
	lastCommitted atomic.Pointer[TransactionID]
	closed        closedTracker
}

// New creates a store positioned at the given committed transaction and
// closed position. An empty database starts at Base with a zero position.
func New(lastCommitted TransactionID, lastClosedPos logfile.Position) *TransactionIDStore {
	s := &TransactionIDStore{}
	s.committing.Store(lastCommitted.ID)
	committed := lastCommitted
	s.lastCommitted.Store(&committed)
	s.closed.reset(ClosedTransaction{TransactionID: lastCommitted, Position: lastClosedPos})
	return s
}

// NextCommittingTransactionID atomically increments the committing counter
// and returns it. Returned ids are never reused, even if the transaction
// later fails. The id is not visible from LastCommittedTransactionID until
// reported via TransactionCommitted.
func (s *TransactionIDStore) NextCommittingTransactionID() int64 {
	return s.committing.Add(1)
}

// CommittingTransactionID returns the highest id ever handed out, including
// ids that have not committed yet.
func (s *TransactionIDStore) CommittingTransactionID() int64 {
	return s.committing.Load()
}

// TransactionCommitted records that the transaction's commit entry is durably
// on the log. Calls may come out of id order; the stored value is the maximum
// id ever reported.
func (s *TransactionIDStore) TransactionCommitted(id int64, checksum uint32, commitTimestamp int64) {
	tx := TransactionID{ID: id, Checksum: checksum, CommitTimestamp: commitTimestamp}
	for {
		current := s.lastCommitted.Load()
		if tx.ID <= current.ID {
			return
		}
		if s.lastCommitted.CompareAndSwap(current, &tx) {
			return
		}
	}
}

// LastCommittedTransactionID returns the highest id seen by
// TransactionCommitted.
func (s *TransactionIDStore) LastCommittedTransactionID() int64 {
	return s.lastCommitted.Load().ID
}

// LastCommittedTransaction returns the full record of the last committed
// transaction.
func (s *TransactionIDStore) LastCommittedTransaction() TransactionID {
	return *s.lastCommitted.Load()
}

// TransactionClosed records that the transaction's effects are fully applied.
// Calls may arrive out of id order; the closed watermark only advances when
// the run of closed ids is contiguous from the watermark forward.
//
// Closing an id above anything ever handed out is a programmer error and
// panics rather than silently corrupting the watermark.
func (s *TransactionIDStore) TransactionClosed(id int64, logVersion, byteOffset uint64, checksum uint32, commitTimestamp int64) {
	if committing := s.committing.Load(); id > committing {
		panic(fmt.Sprintf("closing transaction %d which is above the highest ever committing id %d", id, committing))
	}
	s.closed.transactionClosed(ClosedTransaction{
		TransactionID: TransactionID{ID: id, Checksum: checksum, CommitTimestamp: commitTimestamp},
		Position:      logfile.Position{Version: logVersion, Offset: byteOffset},
	})
}

// LastClosedTransactionID returns the highest gap-free closed id: every id in
// [BaseTransactionID, n] has been closed.
func (s *TransactionIDStore) LastClosedTransactionID() int64 {
	return s.closed.watermark().ID
}

// LastClosedTransaction returns the gap-free closed watermark together with
// the log position following its commit entry.
func (s *TransactionIDStore) LastClosedTransaction() ClosedTransaction {
	return s.closed.watermark()
}

// PendingClosedCount reports how many transactions are closed but waiting
// for a lower id to close before the watermark can advance past them.
func (s *TransactionIDStore) PendingClosedCount() int {
	return s.closed.pendingCount()
}

// SetLastCommittedAndClosedTransactionID forcibly positions the store at one
// consistent point, clearing any pending out-of-order closed ids. Recovery
// only.
func (s *TransactionIDStore) SetLastCommittedAndClosedTransactionID(id int64, checksum uint32, commitTimestamp int64, logVersion, byteOffset uint64) {
	tx := TransactionID{ID: id, Checksum: checksum, CommitTimestamp: commitTimestamp}
	s.committing.Store(id)
	s.lastCommitted.Store(&tx)
	s.closed.reset(ClosedTransaction{
		TransactionID: tx,
		Position:      logfile.Position{Version: logVersion, Offset: byteOffset},
	})
}

// ResetLastClosedTransaction forcibly overwrites only the closed watermark
// and position, clearing the pending set. Used when recovery derives the true
// gap-free point independently of the committed counter.
func (s *TransactionIDStore) ResetLastClosedTransaction(id int64, logVersion, byteOffset uint64, checksum uint32, commitTimestamp int64) {
	s.closed.reset(ClosedTransaction{
		TransactionID: TransactionID{ID: id, Checksum: checksum, CommitTimestamp: commitTimestamp},
		Position:      logfile.Position{Version: logVersion, Offset: byteOffset},
	})
}
