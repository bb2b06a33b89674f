// Package config loads daemon configuration: an environment-variable
// layer for the deployment-level settings the daemon's collaborators
// need, overlaid with CLI flags for everything else.
package config

import (
	"os"
	"strconv"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// Env identifies the deployment environment.
type Env string

// Supported environments.
const (
	EnvDev  Env = "dev"
	EnvUAT  Env = "uat"
	EnvProd Env = "prod"
)

// Config holds every piece of configuration the daemon needs. A
// *Config is constructed once at startup and never mutated afterward;
// the daemon entry point passes the relevant fields to each component
// constructor.
type Config struct {
	Env       Env    `long:"env" description:"deployment environment (dev, uat, prod)"`
	NetSuffix string `long:"netsuffix" description:"optional network suffix"`
	AppDir    string `long:"appdir" description:"application data directory"`

	LogLevel string `long:"loglevel" description:"log level (trace, debug, info, warn, error, critical)"`
	Network  string `long:"network" description:"kaspa network (mainnet, testnet, devnet, simnet)"`

	RPCURL string `long:"rpcurl" description:"upstream kaspad node RPC address"`

	DBURI         string `long:"dburi" description:"relational store connection string"`
	DBMaxPoolSize int    `long:"dbmaxpoolsize" description:"maximum relational connection pool size"`

	CheckpointRootDir string `long:"checkpointdir" description:"checkpoint store root directory"`

	BlockRetentionSeconds  int64 `long:"blockretention" description:"cache block retention window, seconds"`
	SecondMetricsRetention int64 `long:"metricsretention" description:"per-second metrics retention window, seconds"`
	WriterChannelCapacity  int   `long:"writerchancap" description:"writer channel capacity, in pruned batches"`
	WriterChunkSize        int   `long:"writerchunksize" description:"rows per batch insert chunk"`

	SMTPHost     string `long:"smtphost" description:"SMTP host for operator alerts"`
	SMTPUsername string `long:"smtpuser" description:"SMTP username"`
	SMTPPassword string `long:"smtppass" description:"SMTP password"`
}

// defaults are the daemon's out-of-the-box operating point: a 60s
// cache block retention (comfortably past the deepest practical
// reorg), a writer channel sized for roughly 60s of prune output at
// expected tip rate, and 1000-row insert chunks.
func defaults() *Config {
	return &Config{
		Env:                    EnvDev,
		LogLevel:               "info",
		Network:                "mainnet",
		DBMaxPoolSize:          16,
		BlockRetentionSeconds:  60,
		SecondMetricsRetention: int64((24 * 60 * 60) * 11 / 10), // 1.1 * 24h
		WriterChannelCapacity:  600,
		WriterChunkSize:        1000,
	}
}

// envOverlay applies the daemon's environment variables onto cfg,
// overriding defaults.
func envOverlay(cfg *Config) error {
	if v, ok := os.LookupEnv("ENV"); ok {
		cfg.Env = Env(v)
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("NETWORK"); ok {
		cfg.Network = v
	}
	if v, ok := os.LookupEnv("NETSUFFIX"); ok {
		cfg.NetSuffix = v
	}
	if v, ok := os.LookupEnv("APP_DIR"); ok {
		cfg.AppDir = v
	}
	if v, ok := os.LookupEnv("RPC_URL"); ok {
		cfg.RPCURL = v
	}
	if v, ok := os.LookupEnv("DB_URI"); ok {
		cfg.DBURI = v
	}
	if v, ok := os.LookupEnv("DB_MAX_POOL_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "invalid DB_MAX_POOL_SIZE")
		}
		cfg.DBMaxPoolSize = n
	}
	if v, ok := os.LookupEnv("CHECKPOINT_ROOT_DIR"); ok {
		cfg.CheckpointRootDir = v
	}
	if v, ok := os.LookupEnv("SMTP_HOST"); ok {
		cfg.SMTPHost = v
	}
	if v, ok := os.LookupEnv("SMTP_USERNAME"); ok {
		cfg.SMTPUsername = v
	}
	if v, ok := os.LookupEnv("SMTP_PASSWORD"); ok {
		cfg.SMTPPassword = v
	}
	return nil
}

// Parse builds a Config from defaults, the environment, and CLI flags
// (flags take precedence), then validates it. Configuration errors are
// fatal at startup, before the pipeline begins.
func Parse(args []string) (*Config, error) {
	cfg := defaults()

	if err := envOverlay(cfg); err != nil {
		return nil, err
	}

	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag|flags.IgnoreUnknown)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, errors.Wrap(err, "error parsing command-line arguments")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Env != EnvDev && c.Env != EnvUAT && c.Env != EnvProd {
		return errors.Errorf("invalid ENV %q: must be one of dev, uat, prod", c.Env)
	}
	if c.RPCURL == "" {
		return errors.New("RPC_URL is required")
	}
	if c.DBURI == "" {
		return errors.New("DB_URI is required")
	}
	if c.CheckpointRootDir == "" {
		return errors.New("CHECKPOINT_ROOT_DIR is required")
	}
	if c.BlockRetentionSeconds <= 0 {
		return errors.New("block retention must be positive")
	}
	return nil
}
