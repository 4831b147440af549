package applier

import (
	"context"
	"log/slog"
	"sync"

	"txlog/pkg/appender"
	"txlog/pkg/health"
)

// ApplyFunc applies a committed transaction's effects to the store.
type ApplyFunc func(*appender.PendingTransaction) error

// Applier applies committed transactions asynchronously and publishes their
// close callbacks. With more than one worker, transactions close out of
// append order; the id store's gap-free tracker folds them back together.
type Applier struct {
	apply   ApplyFunc
	monitor *health.Monitor
	workers int

	in      chan *appender.PendingTransaction
	done    chan struct{}
	wg      sync.WaitGroup
	cancel  func()
	stopped sync.Once
}

func New(apply ApplyFunc, monitor *health.Monitor, workers, buffer int) *Applier {
	if workers <= 0 {
		workers = 1
	}
	return &Applier{
		apply:   apply,
		monitor: monitor,
		workers: workers,
		in:      make(chan *appender.PendingTransaction, buffer),
		done:    make(chan struct{}),
		cancel:  func() {},
	}
}

// Publisher adapts the applier as the appender's close publisher: the
// appender hands over each durably appended transaction instead of closing
// it synchronously. The appender should be quiesced before Stop; a straggler
// that still publishes afterwards is applied on its own goroutine rather
// than lost or blocked.
func (a *Applier) Publisher() appender.Publisher {
	return func(tx *appender.PendingTransaction) {
		select {
		case a.in <- tx:
		case <-a.done:
			a.handle(tx)
		}
	}
}

func (a *Applier) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.run(ctx)
		}()
	}
}

func (a *Applier) run(ctx context.Context) {
	for {
		select {
		case tx := <-a.in:
			a.handle(tx)
		case <-ctx.Done():
			// Drain what the appender already handed over; those
			// transactions are durable and must still close.
			for {
				select {
				case tx := <-a.in:
					a.handle(tx)
				default:
					return
				}
			}
		}
	}
}

func (a *Applier) handle(tx *appender.PendingTransaction) {
	if err := a.apply(tx); err != nil {
		// The transaction is durably logged but its effects did not reach
		// the store; the instance cannot serve consistent reads anymore.
		slog.Error("failed to apply committed transaction", "tx_id", tx.TransactionID(), "error", err)
		a.monitor.Panic(err)
		return
	}
	tx.Commitment.PublishAsClosed()
}

func (a *Applier) Stop() {
	a.stopped.Do(func() { close(a.done) })
	a.cancel()
	a.wg.Wait()
	// A publisher racing the shutdown can still land a transaction in the
	// buffer after the workers drained it; it is durable and must close.
	for {
		select {
		case tx := <-a.in:
			a.handle(tx)
		default:
			return
		}
	}
}
