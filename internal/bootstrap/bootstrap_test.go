package bootstrap

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// installFake places an executable shell script named name on the fake
// bin dir that logs its invocation to callLog and exits with code.
func installFake(t *testing.T, binDir, callLog, name string, code int) {
	t.Helper()
	script := "#!/bin/sh\necho \"" + name + " $@\" >> " + callLog + "\nexit " + strconv.Itoa(code) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(binDir, name), []byte(script), 0755))
}

// setupFakes shadows uv, git and op.sh with logging stubs. The real
// PATH stays appended so sh and friends keep working.
func setupFakes(t *testing.T) (binDir, dir, callLog string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are POSIX shell scripts")
	}
	binDir = t.TempDir()
	dir = t.TempDir()
	callLog = filepath.Join(dir, "calls.log")
	installFake(t, binDir, callLog, "uv", 0)
	installFake(t, binDir, callLog, "git", 0)
	installFake(t, binDir, callLog, "op.sh", 0)
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return binDir, dir, callLog
}

func TestRun(t *testing.T) {
	_, dir, callLog := setupFakes(t)

	var out bytes.Buffer
	r := NewRunner(dir, "op.sh", zap.NewNop(), WithOutput(&out))
	require.NoError(t, r.Run(context.Background()))

	calls, err := os.ReadFile(callLog)
	require.NoError(t, err)
	assert.Equal(t,
		"git submodule update --init --recursive\nop.sh setup\nop.sh build\n",
		string(calls))
}

func TestRun_InstallsUVWhenMissing(t *testing.T) {
	binDir, dir, callLog := setupFakes(t)

	require.NoError(t, os.Remove(filepath.Join(binDir, "uv")))
	if _, err := exec.LookPath("uv"); err == nil {
		t.Skip("a real uv is installed on this machine")
	}
	// Stub curl so the installer pipeline succeeds without the network.
	installFake(t, binDir, callLog, "curl", 0)

	r := NewRunner(dir, "op.sh", zap.NewNop(), WithOutput(&bytes.Buffer{}))
	require.NoError(t, r.Run(context.Background()))

	calls, err := os.ReadFile(callLog)
	require.NoError(t, err)
	assert.Contains(t, string(calls), "curl -LsSf "+DefaultUVInstallURL)
	assert.Contains(t, string(calls), "op.sh build")
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	binDir, dir, callLog := setupFakes(t)
	installFake(t, binDir, callLog, "git", 3)

	r := NewRunner(dir, "op.sh", zap.NewNop(), WithOutput(&bytes.Buffer{}))
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submodule sync failed")

	calls, readErr := os.ReadFile(callLog)
	require.NoError(t, readErr)
	assert.NotContains(t, string(calls), "op.sh")
}

func TestRun_StepTimeout(t *testing.T) {
	binDir, dir, _ := setupFakes(t)
	script := "#!/bin/sh\nsleep 30\n"
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "git"), []byte(script), 0755))

	r := NewRunner(dir, "op.sh", zap.NewNop(),
		WithOutput(&bytes.Buffer{}),
		WithStepTimeout(100*time.Millisecond))
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
