package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"fiftycal/internal/config"
	appLog "fiftycal/internal/log"
)

// version is set at build time.
var version = "dev"

// globalFlags holds persistent flag values shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:   "fiftycal",
		Short: "Keep local copies of webmail calendars in sync",
		Long: `fiftycal logs in to a Roundcube webmail account, downloads the configured
calendars and reconciles each one with its local copy, keeping the most
recently modified version of every event.

Running fiftycal without a subcommand is the same as "fiftycal download".`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if gf.logLevel == "" {
				return nil
			}
			level, err := appLog.ParseLevel(gf.logLevel)
			if err != nil {
				return err
			}
			appLog.SetLevel(level)
			return nil
		},
	}
	root.SetVersionTemplate(`{{printf "fiftycal version %s\n" .Version}}`)

	root.PersistentFlags().StringVarP(&gf.configPath, "config", "c", "fiftycal.yaml", "path to the YAML or TOML config file")
	root.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	root.AddCommand(
		newDownloadCmd(&gf),
		newCalendarsCmd(&gf),
		newDiffCmd(),
		newMergeCmd(),
		newAgendaCmd(&gf),
		newWatchCmd(&gf),
	)
	return root
}

// loadConfig loads and validates the config file and applies its log level
// unless --log-level was given.
func loadConfig(gf *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(gf.configPath)
	if err != nil {
		return nil, err
	}
	if gf.logLevel == "" {
		level, _ := appLog.ParseLevel(cfg.LogLevel)
		appLog.SetLevel(level)
	}
	appLog.Debug("effective config",
		"config_path", gf.configPath,
		"calendar_url", cfg.CalendarURL,
		"output_path", cfg.OutputPath,
		"calendars", len(cfg.CalIDs),
		"http_timeout", cfg.HTTPTimeout,
		"headless", cfg.IsHeadless(),
		"tie_policy", cfg.TiePolicy,
	)
	return cfg, nil
}

// selectLabels restricts calIDs to the requested labels; none means all.
func selectLabels(calIDs map[string]string, labels []string) (map[string]string, error) {
	if len(labels) == 0 {
		return calIDs, nil
	}
	out := make(map[string]string, len(labels))
	var unknown []string
	for _, l := range labels {
		id, ok := calIDs[l]
		if !ok {
			unknown = append(unknown, l)
			continue
		}
		out[l] = id
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown calendar label(s): %v", unknown)
	}
	return out, nil
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	root := newRootCmd()
	if len(os.Args) == 1 {
		root.SetArgs([]string{"download"})
	}

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			appLog.Error("fiftycal failed", err)
		}
		cancel()
		os.Exit(1)
	}
}
