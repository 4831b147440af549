package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "txlog/internal/http"
	"txlog/pkg/appender"
	"txlog/pkg/applier"
	"txlog/pkg/health"
	"txlog/pkg/logfile"
	"txlog/pkg/metrics"
	"txlog/pkg/poscache"
	"txlog/pkg/recovery"
	"txlog/pkg/txstate"
)

func main() {
	configPath := flag.String("config", "txlog.yaml", "path to config file")
	flag.Parse()

	cfg, err := initConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	log, err := logfile.Open(cfg.Storage.LogDir, cfg.Storage.SegmentSizeBytes)
	if err != nil {
		slog.Error("failed to open transaction log", "error", err)
		os.Exit(1)
	}
	defer log.Close()

	collector := metrics.NewInMemory()
	monitor := health.NewMonitor()
	cache := poscache.New(cfg.Storage.PositionCacheSize)
	idStore := txstate.New(txstate.Base, logfile.Position{})

	result, err := recovery.Run(log, idStore, cache, monitor)
	if err != nil {
		slog.Error("recovery failed, refusing to start", "error", err)
		os.Exit(1)
	}
	slog.Info("storage instance recovered",
		"last_id", result.LastTransaction.ID, "scanned", result.Scanned)

	apply := applier.New(func(tx *appender.PendingTransaction) error {
		// Application of domain effects lives outside this subsystem; the
		// daemon only accounts for the applied bytes.
		collector.IncCounter("txlog_applied_bytes_total", nil, float64(len(tx.Payload)))
		return nil
	}, monitor, cfg.Applier.Workers, cfg.Applier.Buffer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	apply.Start(ctx)
	defer apply.Stop()

	batchAppender := appender.New(log, monitor,
		appender.WithCollector(collector),
		appender.WithPublisher(apply.Publisher()),
	)

	server := httpserver.NewServer(idStore, monitor, collector, log, cfg.HTTP.Port)
	server.SetAppender(batchAppender, func(payload, header []byte) appender.Batch {
		now := time.Now().UnixMilli()
		return appender.Batch{{
			Payload:                  payload,
			Header:                   header,
			TimeStarted:              now,
			LastCommittedWhenStarted: idStore.LastCommittedTransactionID(),
			CommitTimestamp:          now,
			IDGenerator:              appender.NewStoreIDGenerator(idStore),
			Commitment:               appender.NewCommitment(idStore, cache),
		}}
	})
	if err := server.Start(); err != nil {
		slog.Error("failed to start HTTP server", "error", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	if err := server.Stop(); err != nil {
		slog.Error("failed to stop HTTP server", "error", err)
	}
}
