package appender

import "txlog/pkg/logfile"

// PendingTransaction is one transaction waiting to be appended: the payload,
// its timing fields, the id source deciding how its committing id is
// resolved, and the commitment invoked once the entry is durable.
type PendingTransaction struct {
	Payload                  []byte
	Header                   []byte
	TimeStarted              int64
	LastCommittedWhenStarted int64
	CommitTimestamp          int64

	// ExternalID carries a pre-assigned committing id for transactions
	// replayed from an external ordered source. Zero for local transactions.
	ExternalID int64

	IDGenerator IDGenerator
	Commitment  Commitment

	txID     int64
	checksum uint32
	start    logfile.Position
	end      logfile.Position
}

// TransactionID returns the committing id resolved during append, or 0
// before the transaction has been appended.
func (p *PendingTransaction) TransactionID() int64 {
	return p.txID
}

// Checksum returns the checksum of the written entry.
func (p *PendingTransaction) Checksum() uint32 {
	return p.checksum
}

// StartPosition returns where the entry begins in the log.
func (p *PendingTransaction) StartPosition() logfile.Position {
	return p.start
}

// EndPosition returns the position right after the entry, i.e. where the
// next entry starts.
func (p *PendingTransaction) EndPosition() logfile.Position {
	return p.end
}

// Batch is an ordered run of transactions appended under one write-lock and
// flush cycle.
type Batch []*PendingTransaction
