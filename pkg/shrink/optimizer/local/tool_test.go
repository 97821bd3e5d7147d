package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// fakeTool writes an executable shell script and returns a Tool pointing
// at it through FAKE_PATH. Tests using it stay sequential: writing an
// executable while another goroutine forks can fail with ETXTBSY.
func fakeTool(t *testing.T, script string, env optimizer.MapEnv) *Tool {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}

	exe := filepath.Join(t.TempDir(), "fake-tool")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	tool := NewTool("Fake", "FAKE", []string{".png"}, []string{"shrink-no-such-tool"},
		func(src, out string) []string { return []string{src, out} })

	if env == nil {
		env = optimizer.MapEnv{}
	}
	env["FAKE_PATH"] = exe
	tool.Configure(env)
	return tool
}

func source(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "image.png")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestToolSuccess(t *testing.T) {
	tool := fakeTool(t, `printf 'small' > "$2"`, nil)
	src := source(t, 100)

	out := tool.Optimize(context.Background(), src)
	require.False(t, out.HasError(), out.Error)
	t.Cleanup(func() { _ = os.Remove(out.Location) })

	assert.Equal(t, 100.0, out.SizeBefore)
	assert.Equal(t, 5.0, out.SizeAfter)
	assert.Equal(t, ".png", filepath.Ext(out.Location))

	data, err := os.ReadFile(out.Location)
	require.NoError(t, err)
	assert.Equal(t, "small", string(data))

	original, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Len(t, original, 100, "source is never modified")
}

func TestToolFailureUsesStderr(t *testing.T) {
	tool := fakeTool(t, `echo "  corrupt image  " >&2; exit 1`, nil)

	out := tool.Optimize(context.Background(), source(t, 10))
	assert.Equal(t, "corrupt image", out.Error)
	assert.Empty(t, out.Location)
}

func TestToolFailureWithoutStderr(t *testing.T) {
	tool := fakeTool(t, `exit 3`, nil)

	out := tool.Optimize(context.Background(), source(t, 10))
	assert.Contains(t, out.Error, "exit status 3")
}

func TestToolNoGainExitCode(t *testing.T) {
	tool := fakeTool(t, `exit 2`, nil)
	tool.noGain = []int{2}

	out := tool.Optimize(context.Background(), source(t, 10))
	assert.False(t, out.HasError())
	assert.Zero(t, out.SizeBefore)
	assert.Zero(t, out.SizeAfter)
}

func TestToolEmptyOutput(t *testing.T) {
	tool := fakeTool(t, `exit 0`, nil)

	out := tool.Optimize(context.Background(), source(t, 10))
	assert.Equal(t, "tool produced no output", out.Error)
}

func TestToolTimeout(t *testing.T) {
	tool := fakeTool(t, `exec sleep 5`, optimizer.MapEnv{"FAKE_TIMEOUT": "100"})
	assert.Equal(t, 100*time.Millisecond, tool.Timeout())

	start := time.Now()
	out := tool.Optimize(context.Background(), source(t, 10))
	assert.Equal(t, "Fake timed out after 100ms", out.Error)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestToolNotFound(t *testing.T) {
	t.Parallel()

	tool := NewTool("Missing", "MISSING", []string{".png"}, []string{"shrink-no-such-tool"},
		func(src, out string) []string { return nil })
	assert.False(t, tool.Available())

	_, err := tool.Executable()
	assert.True(t, errors.Is(err, ErrToolNotFound))

	out := tool.Optimize(context.Background(), source(t, 10))
	assert.Contains(t, out.Error, "tool not found")

	tool.Configure(optimizer.MapEnv{"MISSING_PATH": filepath.Join(t.TempDir(), "absent")})
	_, err = tool.Executable()
	assert.ErrorIs(t, err, ErrToolNotFound)

	tool.Configure(optimizer.MapEnv{"MISSING_PATH": t.TempDir()})
	_, err = tool.Executable()
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestToolConfigureAndClone(t *testing.T) {
	t.Parallel()

	tool := NewJpegTran()
	assert.Equal(t, DefaultTimeout, tool.Timeout())

	tool.Configure(optimizer.MapEnv{"JPEGTRAN_FILESIZE": "5MB", "JPEGTRAN_TIMEOUT": "30s"})
	assert.Equal(t, int64(5*types.MiB), tool.MaxFileSize())
	assert.Equal(t, 30*time.Second, tool.Timeout())

	clone, ok := tool.Clone().(*Tool)
	require.True(t, ok)
	assert.Equal(t, tool.MaxFileSize(), clone.MaxFileSize())

	clone.Configure(optimizer.MapEnv{})
	assert.Equal(t, int64(0), clone.MaxFileSize())
	assert.Equal(t, int64(5*types.MiB), tool.MaxFileSize())
}

func TestBuiltinTools(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tool     *Tool
		name     string
		exts     []string
		wantArgs []string
	}{
		{
			tool: NewGifsicle(),
			name: GifsicleName,
			exts: []string{".gif"},
			wantArgs: []string{
				"--crop-transparency", "--no-comments", "--no-extensions", "--no-names",
				"--optimize=3", "--batch", "/in/a.gif", "--output", "/tmp/o.gif",
			},
		},
		{
			tool:     NewJpegTran(),
			name:     JpegTranName,
			exts:     []string{".jpg", ".jpeg"},
			wantArgs: []string{"-copy", "none", "-optimize", "-progressive", "-outfile", "/tmp/o.gif", "/in/a.gif"},
		},
		{
			tool:     NewPngOut(),
			name:     PngOutName,
			exts:     []string{".png"},
			wantArgs: []string{"/in/a.gif", "/tmp/o.gif", "-y"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.name, tt.tool.Name())
			assert.Equal(t, tt.exts, tt.tool.Extensions())
			assert.Equal(t, tt.wantArgs, tt.tool.args("/in/a.gif", "/tmp/o.gif"))
			for _, ext := range tt.exts {
				assert.True(t, tt.tool.Supports(ext))
			}
			assert.False(t, tt.tool.Supports(".bmp"))
		})
	}

	assert.Equal(t, []int{2}, NewPngOut().noGain)
	assert.Equal(t, []string{"pngout", "png.cmd"}, NewPngOut().executables)
}

var _ optimizer.Backend = (*Tool)(nil)
