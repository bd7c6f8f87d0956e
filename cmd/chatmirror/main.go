// chatmirror is the local dialog/message cache daemon tooling: inspect the
// cached view, page through message history, and replay captured event
// streams through the ingest pipeline.
package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chatmirror/chatmirror/pkg/config"
	"github.com/chatmirror/chatmirror/pkg/dialogstore"
	"github.com/chatmirror/chatmirror/pkg/mirror"
	"github.com/chatmirror/chatmirror/pkg/remote"
)

var (
	flagConfig   string
	flagDBPath   string
	flagLogLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatmirror",
		Short: "Tiered local cache for dialogs and messages",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogging(flagLogLevel)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "sqlite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(newDialogsCommand())
	rootCmd.AddCommand(newMessagesCommand())
	rootCmd.AddCommand(newReplayCommand())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func initLogging(level string) error {
	if level == "" {
		level = "info"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(parsed)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	if flagDBPath != "" {
		cfg.DBPath = flagDBPath
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

func openStore(cfg config.Config) (dialogstore.Store, error) {
	if cfg.DBPath == "" {
		log.Warn().Msg("no db path configured, using in-memory store")
		return dialogstore.NewInMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "create db directory")
	}
	dsn, err := dialogstore.DSNForFile(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return dialogstore.NewSQLiteStore(dsn)
}

func openCache(cfg config.Config, store dialogstore.Store, fetcher remote.Fetcher) (*mirror.Cache, error) {
	return mirror.NewCache(mirror.CacheConfig{
		Store:         store,
		Fetcher:       fetcher,
		MessageTTL:    cfg.MessageTTL.Std(),
		DialogTTL:     cfg.DialogTTL.Std(),
		TopicTTL:      cfg.TopicTTL.Std(),
		RemoteTimeout: cfg.RemoteTimeout.Std(),
	})
}

// offlineFetcher is used by inspection commands that run without a backend
// session: cached data is served, anything requiring the backend surfaces
// not-connected instead of pretending the view is empty.
type offlineFetcher struct{}

var _ remote.Fetcher = offlineFetcher{}

func (offlineFetcher) FetchDialogs(context.Context, int) ([]remote.RawDialog, error) {
	return nil, remote.ErrNotConnected
}

func (offlineFetcher) FetchMessages(context.Context, string, int64, int, int64) ([]remote.RawMessage, error) {
	return nil, remote.ErrNotConnected
}

func (offlineFetcher) FetchTopics(context.Context, string) ([]remote.RawTopic, []remote.RawMessage, error) {
	return nil, nil, remote.ErrNotConnected
}

func (offlineFetcher) FetchAvatar(context.Context, string) (*remote.RawAvatar, error) {
	return nil, remote.ErrNotConnected
}
