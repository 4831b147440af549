package txstate

import "txlog/pkg/logfile"

const (
	// BaseTransactionID is where transaction id counting starts. This value
	// means no transaction has ever committed. A read-only transaction is
	// reported with id 0 and never participates in the watermarks.
	BaseTransactionID int64 = 1

	BaseChecksum        uint32 = 0xDEAD5EED
	BaseCommitTimestamp int64  = 0

	// Sentinels for records whose true checksum/timestamp could not be
	// recovered (e.g. metadata written by an older format).
	UnknownChecksum        uint32 = 1
	UnknownCommitTimestamp int64  = 1
)

// TransactionID describes a committed transaction: its id, the checksum of
// its commit log entry and the commit timestamp.
type TransactionID struct {
	ID              int64
	Checksum        uint32
	CommitTimestamp int64
}

// Base represents the state of an empty database.
var Base = TransactionID{
	ID:              BaseTransactionID,
	Checksum:        BaseChecksum,
	CommitTimestamp: BaseCommitTimestamp,
}

// Unknown marks a transaction whose checksum and timestamp are unrecoverable.
var Unknown = TransactionID{
	ID:              BaseTransactionID - 1,
	Checksum:        UnknownChecksum,
	CommitTimestamp: UnknownCommitTimestamp,
}

// ClosedTransaction is a committed transaction together with the log position
// right after its commit entry, i.e. where the next entry starts.
type ClosedTransaction struct {
	TransactionID
	Position logfile.Position
}
