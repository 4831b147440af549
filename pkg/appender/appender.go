package appender

import (
	"log/slog"
	"sync"

	"txlog/pkg/health"
	"txlog/pkg/logfile"
	"txlog/pkg/metrics"
)

// Log is the slice of the log file the appender needs: buffered append,
// durable force, and the current write position.
type Log interface {
	Append(entry *logfile.Entry) (start, end logfile.Position, err error)
	Force() error
	CurrentPosition() logfile.Position
}

// Publisher receives each transaction of a successfully forced batch, in
// batch order, and is responsible for eventually invoking its commitment's
// PublishAsClosed. The default publisher closes synchronously.
type Publisher func(*PendingTransaction)

// BatchAppender runs the commit protocol: it serializes whole batches under
// a single-writer lock per log stream, resolves ids in batch order, appends
// entries contiguously, forces once per batch, reports transactions
// committed strictly after the force, and publishes commit callbacks in the
// original batch order.
//
// On an append or force failure nothing is reported committed or closed for
// the failing transaction or anything after it in the batch, the original
// error is propagated unchanged, and the health monitor is panicked: a log
// that failed mid-write cannot be trusted until recovery inspects it. Ids
// already minted are never rolled back; recovery reconciles the counter
// against the true log tail.
type BatchAppender struct {
	writeLock sync.Mutex

	log       Log
	monitor   *health.Monitor
	collector metrics.Collector
	publish   Publisher
}

// Option configures a BatchAppender.
type Option func(*BatchAppender)

// WithCollector wires a metrics collector.
func WithCollector(c metrics.Collector) Option {
	return func(a *BatchAppender) { a.collector = c }
}

// WithPublisher replaces the synchronous close publisher, e.g. with a hand
// off to an asynchronous applier.
func WithPublisher(p Publisher) Option {
	return func(a *BatchAppender) { a.publish = p }
}

func New(log Log, monitor *health.Monitor, opts ...Option) *BatchAppender {
	a := &BatchAppender{
		log:       log,
		monitor:   monitor,
		collector: metrics.Nop{},
	}
	a.publish = func(tx *PendingTransaction) {
		tx.Commitment.PublishAsClosed()
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Append writes the batch to the log and makes it durable. It returns the
// committing id of the last transaction in the batch.
func (a *BatchAppender) Append(batch Batch) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	if err := a.monitor.AssertHealthy(); err != nil {
		return 0, err
	}

	a.writeLock.Lock()
	defer a.writeLock.Unlock()

	// Validate every carried id against the position it would occupy in
	// the commit sequence before consuming anything. A rejected batch
	// leaves the committing counter exactly where it was, so the gap-free
	// closed tracker never waits on an id that will never commit.
	for i, tx := range batch {
		if err := tx.IDGenerator.ValidateID(tx.ExternalID, i); err != nil {
			return 0, err
		}
	}
	for _, tx := range batch {
		id, err := tx.IDGenerator.NextID(tx.ExternalID)
		if err != nil {
			return 0, err
		}
		tx.txID = id
	}

	if err := a.appendBatch(batch); err != nil {
		a.monitor.Panic(err)
		a.collector.IncCounter("txlog_append_failures_total", nil, 1)
		return 0, err
	}

	if err := a.log.Force(); err != nil {
		a.monitor.Panic(err)
		a.collector.IncCounter("txlog_append_failures_total", nil, 1)
		return 0, err
	}
	a.collector.IncCounter("txlog_forces_total", nil, 1)

	// Strictly after the force: advance the committed watermark, then
	// publish the callbacks in the order the transactions were appended.
	for _, tx := range batch {
		tx.Commitment.PublishAsCommitted(tx.txID, tx.checksum, tx.CommitTimestamp, tx.start, tx.end)
	}
	for _, tx := range batch {
		a.publish(tx)
	}

	last := batch[len(batch)-1]
	a.collector.IncCounter("txlog_appended_transactions_total", nil, float64(len(batch)))
	a.collector.IncCounter("txlog_appended_batches_total", nil, 1)
	slog.Debug("appended transaction batch",
		"transactions", len(batch),
		"last_id", last.txID,
		"position", last.end,
	)
	return last.txID, nil
}

func (a *BatchAppender) appendBatch(batch Batch) error {
	for _, tx := range batch {
		entry := &logfile.Entry{
			ID:                       tx.txID,
			TimeStarted:              tx.TimeStarted,
			LastCommittedWhenStarted: tx.LastCommittedWhenStarted,
			CommitTimestamp:          tx.CommitTimestamp,
			Header:                   tx.Header,
			Payload:                  tx.Payload,
		}
		start, end, err := a.log.Append(entry)
		if err != nil {
			return err
		}
		tx.checksum = entry.Checksum
		tx.start = start
		tx.end = end
	}
	return nil
}

var _ Log = (*logfile.LogFile)(nil)
