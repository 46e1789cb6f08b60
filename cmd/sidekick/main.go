package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/username/sidekick"
	"github.com/username/sidekick/pkg/config"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/logutil"
	"github.com/username/sidekick/pkg/metrics"
	"github.com/username/sidekick/pkg/spi"
	"github.com/username/sidekick/pkg/spi/eth"
	"github.com/username/sidekick/pkg/spi/store/pg"
	"github.com/username/sidekick/pkg/spi/store/redis"
	"github.com/username/sidekick/pkg/spi/store/sqlite"
	"github.com/username/sidekick/pkg/spi/store/stdout"
	"github.com/username/sidekick/pkg/util"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("prefix", "main")

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a YAML configuration file",
		EnvVars: []string{"SIDEKICK_CONFIG_PATH"},
	}
	rpcFlag = &cli.StringFlag{
		Name:  "rpc",
		Usage: "Node endpoint to watch and rewind (ws or ipc for head notifications)",
	}
	oracleRPCFlag = &cli.StringFlag{
		Name:  "oracle-rpc",
		Usage: "Endpoint serving the oracle contract, defaults to --rpc",
	}
	contractFlag = &cli.StringFlag{
		Name:  "contract",
		Usage: "Address of the checkpoint oracle contract",
	}
	intervalFlag = &cli.Int64Flag{
		Name:  "interval",
		Usage: "Number of blocks between checkpoints",
	}
	skipMissingFlag = &cli.BoolFlag{
		Name:  "skip-missing-history",
		Usage: "Skip checkpoints whose history is unavailable instead of stopping",
	}
	sinkFlag = &cli.StringFlag{
		Name:  "sink",
		Usage: "Checkpoint sink: stdout, postgres, sqlite or redis",
	}
	sinkDSNFlag = &cli.StringFlag{
		Name:  "sink-dsn",
		Usage: "Sink location: sqlite path, postgres DSN or redis URL",
	}
	echoFlag = &cli.BoolFlag{
		Name:  "echo",
		Usage: "Also print attested checkpoints to stdout when using a persistent sink",
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "Address serving Prometheus metrics, disabled when empty",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error)",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log format: text, json or fluentd",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Mirror logs to this file",
	}
)

func main() {
	app := &cli.App{
		Name:  "sidekick",
		Usage: "Validates chain checkpoints against an oracle contract and rewinds the node on mismatch",
		Flags: []cli.Flag{
			configFlag, rpcFlag, oracleRPCFlag, contractFlag, intervalFlag, skipMissingFlag,
			sinkFlag, sinkDSNFlag, echoFlag, metricsAddrFlag, verbosityFlag, logFormatFlag, logFileFlag,
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String(configFlag.Name); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if c.IsSet(rpcFlag.Name) {
		cfg.RPCURL = c.String(rpcFlag.Name)
	}
	if c.IsSet(oracleRPCFlag.Name) {
		cfg.OracleRPCURL = c.String(oracleRPCFlag.Name)
	}
	if c.IsSet(contractFlag.Name) {
		cfg.CheckpointContract = c.String(contractFlag.Name)
	}
	if c.IsSet(intervalFlag.Name) {
		cfg.CheckpointInterval = c.Int64(intervalFlag.Name)
	}
	if c.IsSet(skipMissingFlag.Name) {
		cfg.SkipMissingHistory = c.Bool(skipMissingFlag.Name)
	}
	if c.IsSet(sinkFlag.Name) {
		cfg.SinkDriver = c.String(sinkFlag.Name)
	}
	if c.IsSet(sinkDSNFlag.Name) {
		cfg.SinkDSN = c.String(sinkDSNFlag.Name)
	}
	if c.IsSet(metricsAddrFlag.Name) {
		cfg.MetricsAddr = c.String(metricsAddrFlag.Name)
	}
	if c.IsSet(verbosityFlag.Name) {
		cfg.LogLevel = c.String(verbosityFlag.Name)
	}
	if c.IsSet(logFormatFlag.Name) {
		cfg.LogFormat = c.String(logFormatFlag.Name)
	}
	if c.IsSet(logFileFlag.Name) {
		cfg.LogFile = c.String(logFileFlag.Name)
	}
	return cfg, nil
}

func openSink(cfg *config.Config, echo bool) (spi.CheckpointSink, io.Closer, error) {
	var store interface {
		spi.CheckpointStore
		io.Closer
	}
	var err error

	switch cfg.SinkDriver {
	case "stdout":
		return stdout.New(os.Stdout), nil, nil
	case "postgres":
		log.Info("Using PostgreSQL checkpoint store")
		store, err = pg.NewStore(cfg.SinkDSN)
	case "sqlite":
		log.WithField("path", cfg.SinkDSN).Info("Using SQLite checkpoint store")
		store, err = sqlite.NewStore(cfg.SinkDSN)
	case "redis":
		log.Info("Using Redis checkpoint store")
		store, err = redis.NewStoreFromURL(cfg.SinkDSN)
	default:
		return nil, nil, errors.Errorf("unknown sink driver %q, supported: stdout, sqlite, postgres, redis", cfg.SinkDriver)
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to initialize %s sink", cfg.SinkDriver)
	}

	if echo {
		return spi.MultiSink{store, stdout.New(os.Stdout)}, store, nil
	}
	return store, store, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	if err := logutil.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	if cfg.LogFile != "" {
		if err := logutil.ConfigurePersistentLogging(cfg.LogFile, cfg.LogFormat); err != nil {
			log.WithError(err).Error("Failed to configure logging to disk")
		}
	}

	checkpoint, err := cfg.Checkpoint()
	if err != nil {
		return err
	}
	from, err := cfg.From()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("Shutting down...")
		cancel()
	}()

	log.WithFields(logrus.Fields{
		"rpc":      cfg.RPCURL,
		"oracle":   cfg.OracleURL(),
		"contract": checkpoint.OracleTarget.Hex(),
		"interval": checkpoint.Interval,
		"sink":     cfg.SinkDriver,
	}).Info("Starting sidekick")

	node, err := eth.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer node.Close()

	oracleNode := node
	if cfg.OracleURL() != cfg.RPCURL {
		if oracleNode, err = eth.Dial(ctx, cfg.OracleURL()); err != nil {
			return err
		}
		defer oracleNode.Close()
	}

	backoff := util.NewBackoff(cfg.MaxRetries, cfg.RetryDelay)
	reader := spi.NewRetryingChainReader(node, backoff)
	oracle := spi.NewRetryingOracleClient(eth.NewOracle(oracleNode.Backend(), from), backoff)
	controller := eth.NewController(node.Backend(), node.RPC(), eth.ControllerConfig{
		PollInterval:    cfg.PollInterval,
		MinRewindHeight: cfg.MinRewindHeight,
	})

	sink, closer, err := openSink(cfg, c.Bool(echoFlag.Name))
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	watcher, err := sidekick.New(checkpoint, reader, oracle, controller, sink)
	if err != nil {
		return err
	}
	err = watcher.OnRollback(func(ctx context.Context, f core.Failure) error {
		log.WithFields(logrus.Fields{
			"attempted": f.AttemptedHeight,
			"target":    f.RollbackTarget,
		}).Warn("Rolling back to previous checkpoint")
		return nil
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsAddr)
		})
	}
	g.Go(func() error {
		defer cancel()
		return watcher.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "sidekick stopped")
	}
	log.Info("Goodbye.")
	return nil
}
