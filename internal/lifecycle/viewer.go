package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"go.uber.org/zap"
)

// Viewer hands a file to whatever the platform uses to present it.
type Viewer interface {
	Open(ctx context.Context, path string) error
}

// ViewerFunc adapts a function to Viewer.
type ViewerFunc func(ctx context.Context, path string) error

func (f ViewerFunc) Open(ctx context.Context, path string) error { return f(ctx, path) }

// ErrNoOpener is returned by ExecViewer when the platform opener is missing.
var ErrNoOpener = errors.New("platform opener not found")

// ExecViewer launches the desktop opener command (xdg-open, open or the
// Windows URL handler). The hand-off is complete once the process started.
type ExecViewer struct {
	command  string
	args     []string
	lookPath func(string) (string, error)
	logger   *zap.Logger
}

// NewExecViewer returns the opener for the running platform.
func NewExecViewer(logger *zap.Logger) *ExecViewer {
	v := &ExecViewer{lookPath: exec.LookPath, logger: logger}
	switch runtime.GOOS {
	case "darwin":
		v.command = "open"
	case "windows":
		v.command = "rundll32"
		v.args = []string{"url.dll,FileProtocolHandler"}
	default:
		v.command = "xdg-open"
	}
	return v
}

// Open starts the opener for path and reaps it in the background.
func (v *ExecViewer) Open(ctx context.Context, path string) error {
	bin, err := v.lookPath(v.command)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNoOpener, v.command, err)
	}

	args := append(append([]string{}, v.args...), path)
	cmd := exec.CommandContext(context.WithoutCancel(ctx), bin, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", v.command, err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			v.logger.Warn("Viewer exited with error",
				zap.String("command", v.command),
				zap.String("path", path),
				zap.Error(err))
		}
	}()
	return nil
}
