// Command kaspalyticsd is the daemon entry point: it wires config,
// logging, the checkpoint-backed cache, the upstream node client, the
// pipeline-driving ingest loop, and the relational writer together, then
// waits for a shutdown signal.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kaspalytics/kaspalytics-go/internal/appsignal"
	"github.com/kaspalytics/kaspalytics-go/internal/config"
	"github.com/kaspalytics/kaspalytics-go/internal/ingest"
	"github.com/kaspalytics/kaspalytics-go/internal/logger"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
	"github.com/kaspalytics/kaspalytics-go/internal/nodeclient"
	"github.com/kaspalytics/kaspalytics-go/internal/panics"
	"github.com/kaspalytics/kaspalytics-go/internal/writer"
)

var log, _ = logger.Get(logger.SubsystemTags.CNFG)

func main() {
	defer panics.HandlePanic(log, nil)

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing configuration: %s\n", err)
		os.Exit(1)
	}

	logger.InitLogRotators(
		filepath.Join(cfg.AppDir, "logs", "kaspalyticsd.log"),
		filepath.Join(cfg.AppDir, "logs", "kaspalyticsd_err.log"),
	)
	logger.SetLogLevels(cfg.LogLevel)

	if err := run(cfg); err != nil {
		panics.Exit(log, err.Error())
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	client, err := nodeclient.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dialing upstream node: %w", err)
	}

	if err := writer.Migrate(cfg.DBURI); err != nil {
		return fmt.Errorf("running schema migrations: %w", err)
	}

	db, err := writer.Connect(cfg.DBURI, cfg.DBMaxPoolSize)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	c, err := ingest.InitCache(ctx, client, cfg.CheckpointRootDir, cfg.BlockRetentionSeconds, cfg.SecondMetricsRetention)
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}

	writerCh := make(chan []*model.PrunedBlock, cfg.WriterChannelCapacity)
	w := writer.New(db, writerCh, cfg.WriterChunkSize)

	shutdownCh := appsignal.InterruptListener()
	g := ingest.New(client, c, writerCh, cfg.CheckpointRootDir, shutdownCh)

	spawn := panics.GoroutineWrapperFunc(log)
	writerDone := make(chan error, 1)
	spawn(func() {
		writerDone <- w.Run(ctx)
	})

	runErr := g.Run(ctx)
	close(writerCh)

	if writerErr := <-writerDone; writerErr != nil && runErr == nil {
		runErr = writerErr
	}

	return runErr
}
