package appender

import (
	"txlog/pkg/logfile"
	"txlog/pkg/poscache"
	"txlog/pkg/txstate"
)

// Commitment is the per-transaction commit callback. PublishAsCommitted is
// called once the entry is forced durable and advances the committed
// watermark; PublishAsClosed is called once the transaction's effects are
// applied and advances the gap-free closed watermark.
type Commitment interface {
	PublishAsCommitted(txID int64, checksum uint32, commitTimestamp int64, start, end logfile.Position)
	PublishAsClosed()
}

// TransactionCommitment binds a transaction to the id store and the position
// cache. One instance per transaction; PublishAsCommitted must happen before
// PublishAsClosed.
type TransactionCommitment struct {
	store *txstate.TransactionIDStore
	cache *poscache.Cache

	committed       bool
	txID            int64
	checksum        uint32
	commitTimestamp int64
	start           logfile.Position
	end             logfile.Position
}

func NewCommitment(store *txstate.TransactionIDStore, cache *poscache.Cache) *TransactionCommitment {
	return &TransactionCommitment{store: store, cache: cache}
}

func (c *TransactionCommitment) PublishAsCommitted(txID int64, checksum uint32, commitTimestamp int64, start, end logfile.Position) {
	c.txID = txID
	c.checksum = checksum
	c.commitTimestamp = commitTimestamp
	c.start = start
	c.end = end
	c.committed = true
	c.store.TransactionCommitted(txID, checksum, commitTimestamp)
}

func (c *TransactionCommitment) PublishAsClosed() {
	if !c.committed {
		panic("publishing a transaction as closed before it was committed")
	}
	c.store.TransactionClosed(c.txID, c.end.Version, c.end.Offset, c.checksum, c.commitTimestamp)
	c.cache.Put(c.txID, poscache.Metadata{
		Checksum:        c.checksum,
		CommitTimestamp: c.commitTimestamp,
		StartPosition:   c.start,
	})
}

// NopCommitment is used for read-only transactions and transactions whose
// lifecycle is tracked elsewhere.
type NopCommitment struct{}

func (NopCommitment) PublishAsCommitted(int64, uint32, int64, logfile.Position, logfile.Position) {}
func (NopCommitment) PublishAsClosed()                                                           {}
