// Package local implements backends that run optimization tools installed
// on the machine.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jamesainslie/shrink/pkg/shrink/logging"
	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
)

// DefaultTimeout applies when no <NAME>_TIMEOUT variable is set.
const DefaultTimeout = 2 * time.Minute

// ErrToolNotFound is returned when none of a tool's executables resolve.
var ErrToolNotFound = errors.New("tool not found")

var logger = logging.Get("local")

var lookPath = exec.LookPath

// ArgsFunc builds the command line for optimizing src into out.
type ArgsFunc func(src, out string) []string

// Tool is a backend that shells out to an optimizer executable. The tool
// writes into a temporary file carrying the source's extension; the
// registry copies it to the output path.
type Tool struct {
	name        string
	envPrefix   string
	extensions  []string
	executables []string
	args        ArgsFunc

	// noGain lists exit codes meaning the image could not be reduced.
	noGain []int

	pathOverride string
	timeout      time.Duration
	maxFileSize  int64
}

// NewTool returns a Tool. envPrefix selects the <PREFIX>_PATH,
// <PREFIX>_TIMEOUT and <PREFIX>_FILESIZE variables.
func NewTool(name, envPrefix string, extensions, executables []string, args ArgsFunc) *Tool {
	return &Tool{
		name:        name,
		envPrefix:   envPrefix,
		extensions:  extensions,
		executables: executables,
		args:        args,
		timeout:     DefaultTimeout,
	}
}

// Name implements optimizer.Backend.
func (t *Tool) Name() string { return t.name }

// Extensions implements optimizer.Backend.
func (t *Tool) Extensions() []string { return slices.Clone(t.extensions) }

// MaxFileSize implements optimizer.Backend.
func (t *Tool) MaxFileSize() int64 { return t.maxFileSize }

// Timeout returns the per-run timeout.
func (t *Tool) Timeout() time.Duration { return t.timeout }

// Supports implements optimizer.Backend.
func (t *Tool) Supports(ext string) bool {
	return optimizer.SupportsExtension(t.extensions, ext)
}

// Configure implements optimizer.Backend.
func (t *Tool) Configure(env optimizer.Environment) {
	t.pathOverride = strings.TrimSpace(env.Getenv(t.envPrefix + "_PATH"))
	t.timeout = optimizer.EnvDuration(env, t.envPrefix+"_TIMEOUT", DefaultTimeout)
	t.maxFileSize = optimizer.EnvSize(env, t.envPrefix+"_FILESIZE")
}

// Clone implements optimizer.Backend.
func (t *Tool) Clone() optimizer.Backend {
	c := *t
	c.extensions = slices.Clone(t.extensions)
	c.executables = slices.Clone(t.executables)
	c.noGain = slices.Clone(t.noGain)
	return &c
}

// Executable resolves the tool's executable path.
func (t *Tool) Executable() (string, error) {
	if t.pathOverride != "" {
		info, err := os.Stat(t.pathOverride)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrToolNotFound, t.pathOverride, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%w: %s is a directory", ErrToolNotFound, t.pathOverride)
		}
		return t.pathOverride, nil
	}

	for _, name := range t.executables {
		if path, err := lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s (tried %s)", ErrToolNotFound, t.name, strings.Join(t.executables, ", "))
}

// Available reports whether the executable resolves.
func (t *Tool) Available() bool {
	_, err := t.Executable()
	return err == nil
}

// Optimize runs the tool on sourcePath.
func (t *Tool) Optimize(ctx context.Context, sourcePath string) optimizer.Outcome {
	exe, err := t.Executable()
	if err != nil {
		return optimizer.Failed(t.name, sourcePath, err.Error())
	}

	src, err := filepath.Abs(sourcePath)
	if err != nil {
		return optimizer.Failed(t.name, sourcePath, err.Error())
	}
	info, err := os.Stat(src)
	if err != nil {
		return optimizer.Failed(t.name, sourcePath, err.Error())
	}

	tmp, err := os.CreateTemp("", "shrink-*"+filepath.Ext(src))
	if err != nil {
		return optimizer.Failed(t.name, sourcePath, fmt.Sprintf("failed to create temp file: %v", err))
	}
	out := tmp.Name()
	_ = tmp.Close()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, exe, t.args(src, out)...) //nolint:gosec
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	logger.Debug("running tool", "service", t.name, "exe", exe, "path", src)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && slices.Contains(t.noGain, exitErr.ExitCode()) && ctx.Err() == nil {
			_ = os.Remove(out)
			return optimizer.Outcome{}
		}
		_ = os.Remove(out)
		return optimizer.Failed(t.name, sourcePath, t.runError(ctx, err, stderr.String()))
	}

	result, err := os.Stat(out)
	if err != nil {
		_ = os.Remove(out)
		return optimizer.Failed(t.name, sourcePath, err.Error())
	}
	if result.Size() == 0 {
		_ = os.Remove(out)
		return optimizer.Failed(t.name, sourcePath, "tool produced no output")
	}

	return optimizer.Outcome{
		SizeBefore: float64(info.Size()),
		SizeAfter:  float64(result.Size()),
		Location:   out,
	}
}

func (t *Tool) runError(ctx context.Context, err error, stderr string) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("%s timed out after %s", t.name, t.timeout)
	}
	if msg := strings.TrimSpace(stderr); msg != "" {
		return msg
	}
	return err.Error()
}
