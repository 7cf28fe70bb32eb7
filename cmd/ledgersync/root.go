package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"ledgersync/config"
)

// app carries state shared by every command.
type app struct {
	configPath string
	dataDir    string
	logLevel   string

	cfg     *config.Config
	log     *slog.Logger
	level   *slog.LevelVar
	closers []io.Closer
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// load reads the config file and installs the logger. Flags override the
// file.
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	logger, level, closer, err := newLogger(&cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	a.log = logger
	a.level = level
	slog.SetDefault(logger)
	return nil
}

// saveConfig persists the config, logging rather than failing since the
// running process already holds the values.
func (a *app) saveConfig() {
	if err := a.cfg.Save(a.configPath); err != nil {
		a.log.Warn("config: save failed", "path", a.configPath, "err", err)
	}
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ledgersync",
		Short:         "Offline-first replication for the business ledger",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "skip" {
				return nil
			}
			return a.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "ledgersync.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "local data directory (overrides config)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")

	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newHubCommand(a))
	cmd.AddCommand(newSyncCommand(a))
	cmd.AddCommand(newDownloadCommand(a))
	cmd.AddCommand(newStatusCommand(a))
	cmd.AddCommand(newStatsCommand(a))
	cmd.AddCommand(newResetCommand(a))
	cmd.AddCommand(newImportLegacyCommand(a))
	cmd.AddCommand(newConfigCommand(a))
	return cmd
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
