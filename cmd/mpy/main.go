package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"micropython-service/internal/config"
	"micropython-service/internal/discovery"
	"micropython-service/internal/fileops"
	"micropython-service/internal/protocol"
	"micropython-service/internal/repl"
	"micropython-service/internal/utils"
)

type portScanner interface {
	Scan(ctx context.Context) ([]*discovery.DiscoveredDevice, error)
}

type rootOptions struct {
	configPath string
	port       string
	timeout    time.Duration
	verbose    bool

	config  *config.Config
	logger  *zap.Logger
	factory protocol.Factory
	scanner portScanner
	local   afero.Fs
}

func (r *rootOptions) prepare() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	if r.port != "" {
		cfg.Serial.Port = r.port
	}
	if r.timeout > 0 {
		cfg.Repl.Timeout = r.timeout
	}
	r.config = cfg

	if r.logger == nil {
		logging := cfg.Logging
		logging.Output = "stderr"
		logging.Format = "console"
		if r.verbose {
			logging.Level = "debug"
		} else {
			logging.Level = "warn"
		}
		if r.logger, err = utils.NewLogger(&logging); err != nil {
			return err
		}
	}
	if r.local == nil {
		r.local = afero.NewOsFs()
	}
	if r.factory == nil {
		r.factory = protocol.SerialFactory(cfg.SerialTemplate(), r.logger)
	}
	if r.scanner == nil {
		r.scanner = discovery.NewScanner(r.logger, discovery.WithAllPorts(cfg.Serial.ListAll))
	}
	return nil
}

// open connects to the configured port. The caller closes the session.
func (r *rootOptions) open(ctx context.Context) (*repl.Session, error) {
	session := repl.NewSession(r.config.ReplSessionConfig(), r.factory, r.logger, repl.WithFs(r.local))
	if err := session.Open(ctx, r.config.Serial.Port); err != nil {
		if errors.Is(err, repl.ErrNoDeviceSpecified) {
			return nil, fmt.Errorf("%w (use --port or %s_SERIAL_PORT)", err, config.EnvPrefix)
		}
		return nil, err
	}
	return session, nil
}

// withFiles opens the board and runs fn against its filesystem.
func (r *rootOptions) withFiles(ctx context.Context, fn func(fs *fileops.FS) error) error {
	session, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(fileops.New(session, r.config.FileOptions(), r.local, r.logger))
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mpy",
		Short:         "Run code and manage files on a MicroPython board over its raw REPL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.port, "port", "p", "", "serial device (overrides serial.port)")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./config.yaml, $HOME/.mpy/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "REPL read timeout (overrides repl.timeout)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log protocol traffic to stderr")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return opts.prepare()
	}

	rootCmd.AddCommand(newPortsCmd(opts))
	rootCmd.AddCommand(newExecCmd(opts))
	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newStopCmd(opts))
	rootCmd.AddCommand(newResetCmd(opts))
	rootCmd.AddCommand(newPromptCmd(opts))
	rootCmd.AddCommand(newLsCmd(opts))
	rootCmd.AddCommand(newCatCmd(opts))
	rootCmd.AddCommand(newGetCmd(opts))
	rootCmd.AddCommand(newPutCmd(opts))
	rootCmd.AddCommand(newSaveCmd(opts))
	rootCmd.AddCommand(newRmCmd(opts))
	rootCmd.AddCommand(newRmdirCmd(opts))
	rootCmd.AddCommand(newMkdirCmd(opts))
	rootCmd.AddCommand(newMvCmd(opts))
	rootCmd.AddCommand(newExistsCmd(opts))
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := &rootOptions{}
	err := newRootCmd(opts).ExecuteContext(ctx)
	if opts.logger != nil {
		_ = utils.CloseLogger(opts.logger)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "mpy:", err)
		os.Exit(1)
	}
}
