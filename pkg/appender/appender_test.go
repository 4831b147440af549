package appender

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"txlog/pkg/dberrors"
	"txlog/pkg/health"
	"txlog/pkg/logfile"
	"txlog/pkg/metrics"
	"txlog/pkg/poscache"
	"txlog/pkg/txstate"
)

// fakeLog records appended entries in memory and can inject failures at the
// byte-write or force step.
type fakeLog struct {
	entries []logfile.Entry
	offset  uint64

	failAppendAt int // 1-based index of the append that fails; 0 = never
	appendErr    error
	forceErr     error
	forced       int
}

func (f *fakeLog) Append(entry *logfile.Entry) (logfile.Position, logfile.Position, error) {
	if f.failAppendAt > 0 && len(f.entries)+1 == f.failAppendAt {
		return logfile.Position{}, logfile.Position{}, f.appendErr
	}
	entry.Checksum = uint32(entry.ID) * 7
	start := logfile.Position{Version: 1, Offset: f.offset}
	f.offset += 64 + uint64(len(entry.Payload))
	f.entries = append(f.entries, *entry)
	return start, logfile.Position{Version: 1, Offset: f.offset}, nil
}

func (f *fakeLog) Force() error {
	if f.forceErr != nil {
		return f.forceErr
	}
	f.forced++
	return nil
}

func (f *fakeLog) CurrentPosition() logfile.Position {
	return logfile.Position{Version: 1, Offset: f.offset}
}

type testHarness struct {
	store    *txstate.TransactionIDStore
	cache    *poscache.Cache
	monitor  *health.Monitor
	log      *fakeLog
	appender *BatchAppender
}

func newHarness(last txstate.TransactionID, opts ...Option) *testHarness {
	h := &testHarness{
		store:   txstate.New(last, logfile.Position{}),
		cache:   poscache.New(100),
		monitor: health.NewMonitor(),
		log:     &fakeLog{},
	}
	h.appender = New(h.log, h.monitor, opts...)
	return h
}

func (h *testHarness) pending(payload string) *PendingTransaction {
	return &PendingTransaction{
		Payload:                  []byte(payload),
		Header:                   []byte{1, 2, 5},
		TimeStarted:              12345,
		LastCommittedWhenStarted: h.store.LastCommittedTransactionID(),
		CommitTimestamp:          12345 + 10,
		IDGenerator:              NewStoreIDGenerator(h.store),
		Commitment:               NewCommitment(h.store, h.cache),
	}
}

func TestAppendBatchMintsSequentialIDs(t *testing.T) {
	h := newHarness(txstate.Base)
	batch := Batch{h.pending("one"), h.pending("two"), h.pending("three")}

	lastID, err := h.appender.Append(batch)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if lastID != 4 {
		t.Fatalf("last id = %d, want 4", lastID)
	}
	for i, want := range []int64{2, 3, 4} {
		if got := batch[i].TransactionID(); got != want {
			t.Fatalf("batch[%d] id = %d, want %d", i, got, want)
		}
		if h.log.entries[i].ID != want {
			t.Fatalf("log entry %d carries id %d, want %d", i, h.log.entries[i].ID, want)
		}
	}
	if h.log.forced != 1 {
		t.Fatalf("forced %d times, want a single force per batch", h.log.forced)
	}
	if got := h.store.LastCommittedTransactionID(); got != 4 {
		t.Fatalf("committed watermark = %d, want 4", got)
	}
	if got := h.store.LastClosedTransactionID(); got != 4 {
		t.Fatalf("closed watermark = %d, want 4", got)
	}
	for _, id := range []int64{2, 3, 4} {
		if _, ok := h.cache.Get(id); !ok {
			t.Fatalf("position cache missing id %d", id)
		}
	}
}

func TestAppendEndToEndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	log, err := logfile.Open(dir, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	store := txstate.New(txstate.Base, logfile.Position{})
	cache := poscache.New(100)
	a := New(log, health.NewMonitor())

	payloads := []string{"first payload", "second payload", "third payload"}
	batch := make(Batch, 0, len(payloads))
	for _, p := range payloads {
		batch = append(batch, &PendingTransaction{
			Payload:                  []byte(p),
			Header:                   []byte{1, 2, 5},
			TimeStarted:              12345,
			LastCommittedWhenStarted: 1,
			CommitTimestamp:          12355,
			IDGenerator:              NewStoreIDGenerator(store),
			Commitment:               NewCommitment(store, cache),
		})
	}
	if _, err := a.Append(batch); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	reader, err := log.OpenReader(logfile.Position{})
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer reader.Close()

	for i, want := range batch {
		got, start, end, err := reader.Next()
		if err != nil {
			t.Fatalf("Next failed at %d: %v", i, err)
		}
		if got.ID != int64(i+2) {
			t.Fatalf("entry %d id = %d, want %d", i, got.ID, i+2)
		}
		if string(got.Payload) != payloads[i] {
			t.Fatalf("entry %d payload = %q, want %q", i, got.Payload, payloads[i])
		}
		if string(got.Header) != string(want.Header) {
			t.Fatalf("entry %d header mismatch", i)
		}
		if got.TimeStarted != want.TimeStarted || got.CommitTimestamp != want.CommitTimestamp {
			t.Fatalf("entry %d timing fields = (%d, %d)", i, got.TimeStarted, got.CommitTimestamp)
		}
		if start != want.StartPosition() || end != want.EndPosition() {
			t.Fatalf("entry %d positions = (%v, %v), want (%v, %v)",
				i, start, end, want.StartPosition(), want.EndPosition())
		}
		if got.Checksum != want.Checksum() {
			t.Fatalf("entry %d checksum mismatch", i)
		}
	}
}

func TestPreAssignedIDValidation(t *testing.T) {
	t.Run("NextExpectedIDAccepted", func(t *testing.T) {
		h := newHarness(txstate.TransactionID{ID: 4545, Checksum: 1, CommitTimestamp: 1})
		tx := h.pending("external")
		tx.ExternalID = 4546
		tx.IDGenerator = NewExternalIDValidator(h.store)

		lastID, err := h.appender.Append(Batch{tx})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if lastID != 4546 {
			t.Fatalf("last id = %d, want 4546", lastID)
		}
	})

	t.Run("ContiguousBatchAccepted", func(t *testing.T) {
		h := newHarness(txstate.TransactionID{ID: 4545, Checksum: 1, CommitTimestamp: 1})
		batch := Batch{h.pending("a"), h.pending("b"), h.pending("c")}
		for i, tx := range batch {
			tx.ExternalID = 4546 + int64(i)
			tx.IDGenerator = NewExternalIDValidator(h.store)
		}

		lastID, err := h.appender.Append(batch)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if lastID != 4548 {
			t.Fatalf("last id = %d, want 4548", lastID)
		}
		if got := h.store.LastClosedTransactionID(); got != 4548 {
			t.Fatalf("closed watermark = %d, want 4548", got)
		}
	})

	t.Run("OutOfSequenceIDRejected", func(t *testing.T) {
		h := newHarness(txstate.TransactionID{ID: 4545, Checksum: 1, CommitTimestamp: 1})
		tx := h.pending("external")
		tx.ExternalID = 4547
		tx.IDGenerator = NewExternalIDValidator(h.store)

		_, err := h.appender.Append(Batch{tx})
		if !errors.Is(err, dberrors.ErrOrderingViolation) {
			t.Fatalf("expected ordering violation, got %v", err)
		}
		if len(h.log.entries) != 0 {
			t.Fatalf("log written despite rejected batch")
		}
		if got := h.store.LastCommittedTransactionID(); got != 4545 {
			t.Fatalf("committed watermark moved to %d", got)
		}
		if got := h.store.LastClosedTransactionID(); got != 4545 {
			t.Fatalf("closed watermark moved to %d", got)
		}
		if got := h.store.CommittingTransactionID(); got != 4545 {
			t.Fatalf("id consumed for rejected transaction: counter = %d", got)
		}
		if !h.monitor.Healthy() {
			t.Fatalf("ordering violation must not panic the monitor")
		}
	})

	t.Run("RejectedBatchConsumesNoEarlierIDs", func(t *testing.T) {
		h := newHarness(txstate.TransactionID{ID: 4545, Checksum: 1, CommitTimestamp: 1})
		batch := Batch{h.pending("in sequence"), h.pending("skips one")}
		batch[0].ExternalID = 4546
		batch[1].ExternalID = 4548
		for _, tx := range batch {
			tx.IDGenerator = NewExternalIDValidator(h.store)
		}

		_, err := h.appender.Append(batch)
		if !errors.Is(err, dberrors.ErrOrderingViolation) {
			t.Fatalf("expected ordering violation, got %v", err)
		}
		if len(h.log.entries) != 0 {
			t.Fatalf("log written despite rejected batch")
		}
		// The valid first entry must not have consumed an id either; a
		// half-minted batch would leave a hole the closed tracker waits on
		// forever.
		if got := h.store.CommittingTransactionID(); got != 4545 {
			t.Fatalf("id consumed for rejected batch: counter = %d", got)
		}
		if !h.monitor.Healthy() {
			t.Fatalf("ordering violation must not panic the monitor")
		}

		// A locally originated transaction takes 4546 and the closed
		// watermark follows it.
		lastID, err := h.appender.Append(Batch{h.pending("local")})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if lastID != 4546 {
			t.Fatalf("next minted id = %d, want 4546", lastID)
		}
		if got := h.store.LastClosedTransactionID(); got != 4546 {
			t.Fatalf("closed watermark = %d, want 4546", got)
		}
		if got := h.store.PendingClosedCount(); got != 0 {
			t.Fatalf("%d closed ids still pending", got)
		}
	})
}

func TestAppendFailurePath(t *testing.T) {
	t.Run("WriteFailure", func(t *testing.T) {
		h := newHarness(txstate.Base)
		failure := fmt.Errorf("disk gone: %w", io.ErrClosedPipe)
		h.log.failAppendAt = 1
		h.log.appendErr = failure

		_, err := h.appender.Append(Batch{h.pending("doomed")})
		if err != failure { //nolint:errorlint // the original error must propagate unchanged
			t.Fatalf("got %v, want the injected failure", err)
		}
		if got := h.store.LastClosedTransactionID(); got != txstate.BaseTransactionID {
			t.Fatalf("closed watermark advanced on failure: %d", got)
		}
		if got := h.store.LastCommittedTransactionID(); got != txstate.BaseTransactionID {
			t.Fatalf("committed watermark advanced on failure: %d", got)
		}
		if h.monitor.Healthy() {
			t.Fatalf("monitor not panicked")
		}
		if got := h.monitor.Cause(); got != failure {
			t.Fatalf("panic cause = %v, want the injected failure", got)
		}
		// The minted id is never rolled back.
		if got := h.store.CommittingTransactionID(); got != 2 {
			t.Fatalf("counter = %d, want 2", got)
		}
	})

	t.Run("ForceFailure", func(t *testing.T) {
		h := newHarness(txstate.Base)
		failure := errors.New("force failed")
		h.log.forceErr = failure

		_, err := h.appender.Append(Batch{h.pending("appended but not durable")})
		if err != failure { //nolint:errorlint
			t.Fatalf("got %v, want the injected failure", err)
		}
		if got := h.store.LastClosedTransactionID(); got != txstate.BaseTransactionID {
			t.Fatalf("closed watermark advanced on failure: %d", got)
		}
		if h.monitor.Healthy() {
			t.Fatalf("monitor not panicked")
		}
	})

	t.Run("MidBatchFailureSkipsLaterEntries", func(t *testing.T) {
		h := newHarness(txstate.Base)
		failure := errors.New("second write failed")
		h.log.failAppendAt = 2
		h.log.appendErr = failure

		_, err := h.appender.Append(Batch{h.pending("ok"), h.pending("fails"), h.pending("never written")})
		if err != failure { //nolint:errorlint
			t.Fatalf("got %v, want the injected failure", err)
		}
		if len(h.log.entries) != 1 {
			t.Fatalf("%d entries written, want 1", len(h.log.entries))
		}
		// Nothing in the batch is reported committed or closed.
		if got := h.store.LastCommittedTransactionID(); got != txstate.BaseTransactionID {
			t.Fatalf("committed watermark = %d", got)
		}
		if got := h.cache.Len(); got != 0 {
			t.Fatalf("position cache polluted: %d entries", got)
		}
	})

	t.Run("StickyHealthBlocksNextAppend", func(t *testing.T) {
		h := newHarness(txstate.Base)
		h.log.forceErr = errors.New("force failed")
		if _, err := h.appender.Append(Batch{h.pending("poisons the log")}); err == nil {
			t.Fatalf("expected failure")
		}

		h.log.forceErr = nil
		_, err := h.appender.Append(Batch{h.pending("rejected fast")})
		if !errors.Is(err, dberrors.ErrStoreUnhealthy) {
			t.Fatalf("expected unhealthy error, got %v", err)
		}
		if len(h.log.entries) != 1 {
			t.Fatalf("append reached a log of unknown integrity")
		}
	})
}

func TestEmptyBatch(t *testing.T) {
	h := newHarness(txstate.Base)
	lastID, err := h.appender.Append(nil)
	if err != nil || lastID != 0 {
		t.Fatalf("empty batch: id=%d err=%v", lastID, err)
	}
	if len(h.log.entries) != 0 || h.log.forced != 0 {
		t.Fatalf("empty batch touched the log")
	}
}

func TestMetricsWiring(t *testing.T) {
	collector := metrics.NewInMemory()
	h := newHarness(txstate.Base, WithCollector(collector))

	if _, err := h.appender.Append(Batch{h.pending("a"), h.pending("b")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if got := collector.Counter("txlog_appended_transactions_total"); got != 2 {
		t.Fatalf("appended transactions counter = %v, want 2", got)
	}
	if got := collector.Counter("txlog_appended_batches_total"); got != 1 {
		t.Fatalf("appended batches counter = %v, want 1", got)
	}
}

func TestNopCommitmentAndGenerator(t *testing.T) {
	h := newHarness(txstate.Base)
	tx := h.pending("read only")
	tx.ExternalID = 0
	tx.IDGenerator = NopIDGenerator{}
	tx.Commitment = NopCommitment{}

	lastID, err := h.appender.Append(Batch{tx})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if lastID != 0 {
		t.Fatalf("read-only transaction got id %d, want 0", lastID)
	}
	if got := h.store.LastCommittedTransactionID(); got != txstate.BaseTransactionID {
		t.Fatalf("read-only transaction moved the committed watermark: %d", got)
	}
	if got := h.store.LastClosedTransactionID(); got != txstate.BaseTransactionID {
		t.Fatalf("read-only transaction moved the closed watermark: %d", got)
	}
}
