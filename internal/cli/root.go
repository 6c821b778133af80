// Package cli implements the sovereign command line interface. Every
// command goes through the same store handle the UI would use; nothing
// here touches the database file directly.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kittclouds/sovereign/internal/config"
	"github.com/kittclouds/sovereign/internal/store"
	"github.com/kittclouds/sovereign/pkg/conflict"
	"github.com/kittclouds/sovereign/pkg/discovery"
	"github.com/kittclouds/sovereign/pkg/syncgate"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Database   string // overrides the configured database path
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sovereign CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sovereign",
		Short: "sovereign - local-first reflection journal",
		Long: `sovereign is a personal, local-first reflection journal.

All data lives in a single SQLite file on this device. Nothing is
transmitted anywhere unless a layer's sync boundary is explicitly
opened.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to database file (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewBoundaryCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewThreadsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// app bundles everything a command needs: config, logger, the store
// handle and the components built on top of it.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *store.Store
	gate      *syncgate.Controller
	detector  *conflict.Detector
	discovery *discovery.Engine
}

// newApp loads config and opens the store. Callers must Close.
func newApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := cfg.Logging.Build()
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.DatabasePath, store.WithLogger(log))
	if err != nil {
		_ = log.Sync()
		return nil, err
	}

	gate := syncgate.NewController(s, log)
	return &app{
		cfg:      cfg,
		log:      log,
		store:    s,
		gate:     gate,
		detector: conflict.NewDetector(s, gate, log),
		discovery: discovery.NewEngine(s, discovery.Options{
			MinReflections: cfg.Discovery.MinReflections,
			MaxSuggestions: cfg.Discovery.MaxSuggestions,
		}, log),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", zap.Error(err))
	}
	_ = a.log.Sync()
}
