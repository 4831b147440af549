package txstate

import (
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

type pendingSet = skipmap.FuncMap[int64, ClosedTransaction]

func newPendingSet() *pendingSet {
	return skipmap.NewFunc[int64, ClosedTransaction](func(a, b int64) bool {
		return a < b
	})
}

// closedTracker folds out-of-order TransactionClosed calls into a gap-free
// watermark. Ids above the watermark that arrived before their predecessors
// wait in an ordered concurrent map and are collapsed into the watermark as
// soon as the run from the watermark forward is contiguous.
type closedTracker struct {
	mark    atomic.Pointer[ClosedTransaction]
	pending atomic.Pointer[pendingSet]
}

func (t *closedTracker) watermark() ClosedTransaction {
	return *t.mark.Load()
}

func (t *closedTracker) transactionClosed(closed ClosedTransaction) {
	if closed.ID <= t.mark.Load().ID {
		// Already folded, e.g. replayed during recovery.
		return
	}
	pending := t.pending.Load()
	pending.Store(closed.ID, closed)
	if closed.ID <= t.mark.Load().ID {
		// A concurrent fold passed this id between the check above and the
		// store; the entry is stale and would sit in the set forever.
		pending.Delete(closed.ID)
		return
	}
	t.fold(pending)
}

// fold advances the watermark while the next expected id is pending. The CAS
// makes concurrent folders cooperate: whoever wins the swap evicts the entry,
// losers reload and retry.
func (t *closedTracker) fold(pending *pendingSet) {
	for {
		current := t.mark.Load()
		next, ok := pending.Load(current.ID + 1)
		if !ok {
			return
		}
		if t.mark.CompareAndSwap(current, &next) {
			pending.Delete(next.ID)
		}
	}
}

// pendingCount reports how many closed ids are waiting for a predecessor.
func (t *closedTracker) pendingCount() int {
	return t.pending.Load().Len()
}

// reset positions the watermark and discards all pending ids.
func (t *closedTracker) reset(closed ClosedTransaction) {
	t.mark.Store(&closed)
	t.pending.Store(newPendingSet())
}
