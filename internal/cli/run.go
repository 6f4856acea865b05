package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"idm-connector/internal/binlog"
	"idm-connector/internal/checkpoint"
	"idm-connector/internal/config"
	"idm-connector/internal/livesync"
	"idm-connector/internal/metrics"
	"idm-connector/internal/nats"
	"idm-connector/internal/output"
	"idm-connector/internal/processor"
	"idm-connector/internal/tracing"
	"idm-connector/internal/worker"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run sync passes continuously",
		Long: `Run sync passes for every configured entity kind on the configured
interval, and immediately after binlog row events when binlog triggers are
enabled. Each successful pass stores its checkpoint.

Example:
  idm-connector run --config config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, rootOpts)
		},
	}
}

func runWorker(cmd *cobra.Command, opts *RootOptions) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	st, cfg, logger, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	logger.Info("Starting idm-connector...")

	if err := tracing.Init(ctx, &cfg.Tracing, logger); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		tracing.Shutdown(shutdownCtx, logger)
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port, logger); err != nil {
				logger.Errorf("Metrics endpoint failed: %v", err)
			}
		}()
	}

	nc, err := connectNATS(cfg, logger)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Close()
	}

	cps, err := checkpoint.New(&cfg.Checkpoint, nc, logger)
	if err != nil {
		return err
	}

	transformer, err := processor.NewTransformer(&cfg.Processor, logger, nc)
	if err != nil {
		return err
	}

	sink, err := output.New(cfg, nc, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	var triggers worker.TriggerSource
	if cfg.Binlog.Enabled {
		watcher, err := binlog.NewWatcher(&cfg.Database, &cfg.Binlog, st.DB(), logger)
		if err != nil {
			return err
		}
		triggers = watcher
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Errorf("Binlog watcher stopped, falling back to interval passes: %v", err)
			}
		}()
	}

	syncer := livesync.NewSyncer(st.DB(), logger)
	runner, err := worker.NewRunner(&cfg.Sync, syncer, cps, processor.Wrap(sink, transformer, logger), triggers, logger)
	if err != nil {
		return err
	}

	go func() {
		select {
		case sig := <-sigChan:
			logger.Infof("Received signal %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return runner.Run(ctx)
}

// connectNATS dials NATS when the output, the checkpoint backend or a
// transform script needs it. It returns nil otherwise.
func connectNATS(cfg *config.Config, logger *logrus.Logger) (*natsgo.Conn, error) {
	needed := cfg.Output.Type == "nats" ||
		cfg.Checkpoint.Backend == "nats-kv" ||
		(cfg.Processor.Enabled && cfg.Processor.Script != "" && cfg.NATS.URL != "")
	if !needed {
		return nil, nil
	}
	url := cfg.NATS.URL
	if url == "" {
		url = natsgo.DefaultURL
	}
	return nats.Connect(url, cfg.NATS.MaxReconnect, cfg.NATS.ReconnectWait, logger)
}
