// Package cmd wires the plansync CLI. Commands stay thin: flag parsing and
// output shaping only, with all reconciliation logic behind the engine.
package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fernhill/plansync/internal/config"
	"github.com/fernhill/plansync/internal/errors"
	"github.com/fernhill/plansync/internal/log"
	"github.com/fernhill/plansync/internal/provider"
	"github.com/fernhill/plansync/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "plansync",
	Short: "Reconcile a declarative plan against a remote issue tracker",
	Long: `plansync reconciles a declarative plan of epics, stories, and tasks
against a remote issue tracker. Items are created and updated idempotently,
hierarchy and blocked-by links are derived from the plan's dependencies, and
a sync map records the plan-item to tracker-item mapping between runs.`,
}

var (
	cfgPath string
	verbose bool
)

// ExecuteContext runs the root command with the given context
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.SilenceUsage = true
}

// loadConfig loads the configuration named by the global flag
func loadConfig() (*config.Config, error) {
	return config.Load(cfgPath)
}

// newLogger builds the run logger from config and the verbose flag
func newLogger(cfg *config.Config) *log.Logger {
	logCfg := log.Config{
		Level:  log.ParseLevel(cfg.Log.Level),
		Format: log.ParseFormat(cfg.Log.Format),
		Output: log.DefaultConfig().Output,
	}
	if verbose {
		logCfg.Level = log.LevelDebug
	}
	logger := log.New(logCfg)
	log.SetDefaultLogger(logger)
	return logger
}

// newProvider builds the configured tracker provider with the retrying
// transport behind it
func newProvider(cfg *config.Config, logger *log.Logger) (provider.Provider, error) {
	switch cfg.Provider.Kind {
	case "memory":
		return provider.NewMemoryProvider(cfg.Provider.TeamKey), nil
	case "linear":
		rt := transport.New(transport.Options{
			MaxRetries: cfg.Sync.MaxRetries,
			Logger:     logger,
		})
		client := &http.Client{
			Transport: rt,
			Timeout:   time.Duration(cfg.Sync.TimeoutSeconds) * time.Second,
		}
		return provider.NewLinearProvider(provider.LinearOptions{
			APIKey:     cfg.APIKey(),
			TeamKey:    cfg.Provider.TeamKey,
			Endpoint:   cfg.Provider.Endpoint,
			HTTPClient: client,
			Logger:     logger,
		})
	default:
		return nil, errors.New(errors.ErrCodeProviderNotFound,
			"unknown provider kind: "+cfg.Provider.Kind)
	}
}
