// Package main provides the genomebrowser command-line tool.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/blockcache"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/duckdb"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/track"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const configName = ".genomebrowser"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if err := execute(args, os.Stdout); err != nil {
		return ExitError
	}
	return ExitSuccess
}

func execute(args []string, out io.Writer) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	return cmd.Execute()
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "genomebrowser",
		Short: "Block-indexed genomic track store",
		Long: `genomebrowser imports genomic tracks into a DuckDB dataset, partitions them
into blocks of contiguous rows and serves windows of features through a
shared block cache.`,
		Version:      fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cfgFile)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/"+configName+".yaml)")
	flags.String("database", "", "DuckDB dataset file")
	flags.Int("block-size", block.DefaultBlockSize, "rows per block for new indexes")
	flags.Int("cache-capacity", blockcache.DefaultCapacity, "blocks held in the cache")
	flags.BoolP("verbose", "v", false, "debug logging")
	viper.BindPFlag("database", flags.Lookup("database"))
	viper.BindPFlag("blocks.size", flags.Lookup("block-size"))
	viper.BindPFlag("cache.capacity", flags.Lookup("cache-capacity"))
	viper.BindPFlag("log.verbose", flags.Lookup("verbose"))

	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newTracksCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func setDefaults() {
	home, _ := os.UserHomeDir()
	viper.SetDefault("database", filepath.Join(home, configName, "genome.duckdb"))
	viper.SetDefault("blocks.size", block.DefaultBlockSize)
	viper.SetDefault("cache.capacity", blockcache.DefaultCapacity)
	viper.SetDefault("index.workers", 0)
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("log.level", "info")
}

func initConfig(cfgFile string) error {
	setDefaults()
	viper.SetEnvPrefix("GENOMEBROWSER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// newLogger builds a console logger writing to stderr at the configured level.
func newLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	if viper.GetBool("log.verbose") {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = level > zapcore.DebugLevel
	return cfg.Build()
}

// env is what every command needs: an open dataset and a logger.
type env struct {
	logger *zap.Logger
	store  *duckdb.Store
	ds     *track.DataSource
}

func openEnv() (*env, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	store, err := duckdb.Open(viper.GetString("database"))
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	store.SetLogger(logger)

	cache, err := blockcache.New(viper.GetInt("cache.capacity"))
	if err != nil {
		store.Close()
		return nil, err
	}
	cache.SetLogger(logger)

	ds := track.NewDataSource(store, cache,
		track.WithBlockSize(viper.GetInt("blocks.size")),
		track.WithWorkers(viper.GetInt("index.workers")))
	ds.SetLogger(logger)
	return &env{logger: logger, store: store, ds: ds}, nil
}

func (e *env) Close() error {
	e.logger.Sync()
	return e.store.Close()
}
