// Package cli provides the mailfiles command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/mailfiles/internal/config"
	"github.com/garyjia/mailfiles/internal/container"
	"github.com/garyjia/mailfiles/internal/fileutil"
	"github.com/garyjia/mailfiles/pkg/utils"
)

// Version is set by the main package at startup
var Version = "1.0.0-dev"

// app holds global flags and the lazily started container for one invocation.
type app struct {
	cfgFile string
	verbose bool

	container *container.Container
}

// Run executes the command line in args and releases everything it opened.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

// NewRootCmd creates the root command tree. Commands executed through it do
// not close the container; use Run for that.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mailfiles",
		Short:         "Manage mail attachment files and transfers",
		Long:          `Inspect, open and delete files in the mail sandbox, and upload or download attachments over HTTP.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.AddCommand(
		newOpenCmd(a),
		newDeleteCmd(a),
		newNameCmd(a),
		newMimeCmd(a),
		newSizeCmd(a),
		newExistsCmd(a),
		newFoldersCmd(a),
		newUploadCmd(a),
		newDownloadCmd(a),
		newHistoryCmd(a),
	)

	return rootCmd
}

// start loads configuration and starts the container on first use.
func (a *app) start(ctx context.Context) (*container.Container, error) {
	if a.container != nil {
		return a.container, nil
	}

	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return nil, err
	}
	if a.verbose {
		cfg.Logger.Level = "debug"
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	a.container = c
	return c, nil
}

func (a *app) files(cmd *cobra.Command) (*fileutil.FileUtil, error) {
	c, err := a.start(cmd.Context())
	if err != nil {
		return nil, err
	}
	return c.FileUtil(), nil
}

func (a *app) close() error {
	if a.container == nil {
		return nil
	}
	logger := a.container.Logger()
	err := a.container.Close()
	_ = logger.Sync()
	a.container = nil
	if err != nil {
		logger.Warn("Failed to close container", zap.Error(err))
	}
	return err
}
