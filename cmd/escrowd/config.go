package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"Provability/internal/genesis"
	"Provability/internal/logger"
)

// Config holds the node configuration.
type Config struct {
	// Data is the directory for the ledger database.
	Data string `mapstructure:"data"`

	// HTTP is the HTTP API listen address.
	HTTP string `mapstructure:"http"`

	// Metrics exposes GET /metrics on the API.
	Metrics bool `mapstructure:"metrics"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log-level"`

	// PostgresURL enables the metadata index when set.
	PostgresURL string `mapstructure:"postgres-url"`

	// IPFSAPI is the IPFS HTTP API address backing ipfs:// blobs.
	IPFSAPI string `mapstructure:"ipfs-api"`

	// BlobDir is the directory backing file:// blobs.
	BlobDir string `mapstructure:"blob-dir"`

	// RateLimit is the per-client request rate; zero disables limiting.
	RateLimit float64 `mapstructure:"rate-limit"`

	// RateBurst is the per-client burst size.
	RateBurst int `mapstructure:"rate-burst"`

	// Verifier selects attestation verification: "bls", or "mock" for development.
	Verifier string `mapstructure:"verifier"`

	// Genesis lists the balances credited when the ledger is first opened.
	Genesis []genesis.Allocation `mapstructure:"genesis"`
}

// envPrefix namespaces environment overrides, e.g. ESCROWD_HTTP.
const envPrefix = "ESCROWD"

// app carries the viper instance shared by all subcommands.
type app struct {
	v   *viper.Viper
	cfg Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data", "./data")
	v.SetDefault("http", ":8080")
	v.SetDefault("metrics", true)
	v.SetDefault("log-level", "info")
	v.SetDefault("blob-dir", "./blobs")
	v.SetDefault("rate-limit", 50.0)
	v.SetDefault("rate-burst", 100)
	v.SetDefault("verifier", "bls")
}

// load reads the config file (if any), applies env overrides and initializes logging.
// An explicit --config must exist; the default escrowd.yaml is optional.
func (a *app) load(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags:\n%w", err)
	}

	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
	} else {
		a.v.SetConfigName("escrowd")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config:\n%w", err)
		}
	}

	if err := a.v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("decode config:\n%w", err)
	}

	level, err := logger.ParseLevel(a.cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.Init(level)

	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return v
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	root := &cobra.Command{
		Use:           "escrowd",
		Short:         "Attested bounty escrow node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().String("config", "", "config file (default ./escrowd.yaml)")
	root.PersistentFlags().String("data", "", "ledger database directory")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("blob-dir", "", "directory for file:// blobs")
	root.PersistentFlags().String("ipfs-api", "", "IPFS API address for ipfs:// blobs")

	root.AddCommand(
		newServeCmd(a),
		newKeygenCmd(a),
		newSnapshotCmd(a),
		newCommitCmd(a),
		newAttestCmd(a),
		newBlobCmd(a),
		newTxCmd(a),
	)

	return root
}
