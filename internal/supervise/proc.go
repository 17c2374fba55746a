// Package supervise implements the redeploy lifecycle: find the
// previous daemon by command-line pattern, terminate it best-effort,
// wait for things to settle, and relaunch detached so the new instance
// outlives the deploy pipeline. Instances carry a BUILD_ID marker in
// their environment so a re-run of the same build leaves its own
// launch alone.
package supervise

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// BuildIDVar is the environment marker checked during the kill pass.
const BuildIDVar = "BUILD_ID"

// Process is a running process matched by the kill pattern.
type Process struct {
	PID     int
	Cmdline string
}

// FindMatching scans procfs for processes whose command line contains
// pattern. The calling process is always skipped, as is any process
// whose environment carries BUILD_ID equal to exemptBuildID (when
// non-empty).
func FindMatching(procfs, pattern, exemptBuildID string) ([]Process, error) {
	entries, err := os.ReadDir(procfs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", procfs, err)
	}

	self := os.Getpid()
	var matches []Process
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}

		cmdline, err := readCmdline(procfs, pid)
		if err != nil || cmdline == "" {
			// Process went away or is unreadable; either way it is not
			// ours to kill.
			continue
		}
		if !strings.Contains(cmdline, pattern) {
			continue
		}
		if exemptBuildID != "" && processBuildID(procfs, pid) == exemptBuildID {
			continue
		}

		matches = append(matches, Process{PID: pid, Cmdline: cmdline})
	}
	return matches, nil
}

// KillMatching sends SIGTERM to every match. Missing processes and
// permission errors are not failures: the pass is best-effort, exactly
// like `pkill ... || true`.
func KillMatching(procfs, pattern, exemptBuildID string, logger *zap.Logger) (int, error) {
	matches, err := FindMatching(procfs, pattern, exemptBuildID)
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, p := range matches {
		if err := syscall.Kill(p.PID, syscall.SIGTERM); err != nil {
			logger.Debug("could not signal process",
				zap.Int("pid", p.PID),
				zap.Error(err))
			continue
		}
		logger.Info("terminated previous instance",
			zap.Int("pid", p.PID),
			zap.String("cmdline", p.Cmdline))
		killed++
	}
	return killed, nil
}

// readCmdline returns the NUL-separated command line as one
// space-joined string.
func readCmdline(procfs string, pid int) (string, error) {
	raw, err := os.ReadFile(filepath.Join(procfs, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ReplaceAll(string(raw), "\x00", " ")), nil
}

// processBuildID extracts BUILD_ID from a process's environment, or "".
func processBuildID(procfs string, pid int) string {
	raw, err := os.ReadFile(filepath.Join(procfs, strconv.Itoa(pid), "environ"))
	if err != nil {
		return ""
	}
	for _, kv := range strings.Split(string(raw), "\x00") {
		if v, ok := strings.CutPrefix(kv, BuildIDVar+"="); ok {
			return v
		}
	}
	return ""
}
