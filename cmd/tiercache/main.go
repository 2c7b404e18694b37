package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/jingo-vpn/tiercache/cache"
	"github.com/jingo-vpn/tiercache/config"
	"github.com/jingo-vpn/tiercache/logger"
	"github.com/jingo-vpn/tiercache/tui"
	"github.com/spf13/cobra"
)

// app carries the global flags and the configuration they resolve to.
type app struct {
	configPath string
	dir        string
	logLevel   string
	cfg        *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, newRootCmd()); err != nil {
		os.Exit(1)
	}
}

// run executes cmd and reports a failure on its error stream.
func run(ctx context.Context, cmd *cobra.Command) error {
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		tui.Output = cmd.ErrOrStderr()
		tui.ShowError("%s", err)
	}
	return err
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "tiercache",
		Short:         "Inspect and maintain a tiercache directory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			tui.Output = cmd.OutOrStdout()
			return a.load()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: config.yaml in the user config dir)")
	rootCmd.PersistentFlags().StringVar(&a.dir, "dir", "", "cache directory (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(
		statsCmd(a),
		keysCmd(a),
		getCmd(a),
		setCmd(a),
		rmCmd(a),
		cleanupCmd(a),
		clearCmd(a),
		configCmd(a),
	)
	return rootCmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dir != "" {
		cfg.Directory = a.dir
	}
	if a.logLevel != "" {
		if _, ok := logger.ParseLevel(a.logLevel); !ok {
			return errors.Newf("invalid --log-level %q", a.logLevel)
		}
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	return nil
}

// withManager opens the cache directory with the background sweep disabled,
// runs fn and closes the manager so the index is flushed.
func (a *app) withManager(ctx context.Context, fn func(m *cache.Manager) error) (err error) {
	opts := append(a.cfg.Options(), cache.WithDiskCache(true), cache.WithCleanupInterval(0))
	m := cache.New(ctx, opts...)
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if m.Directory() == "" {
		return errors.New("no usable cache directory, set --dir or directory in the config file")
	}
	return fn(m)
}
