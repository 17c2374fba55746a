package supervise

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Deployer performs the kill / settle / relaunch sequence.
type Deployer struct {
	procfs string
	delay  time.Duration
	logger *zap.Logger
}

// NewDeployer creates a Deployer scanning the given procfs root
// (normally "/proc"; tests point it elsewhere).
func NewDeployer(procfs string, settleDelay time.Duration, logger *zap.Logger) *Deployer {
	if procfs == "" {
		procfs = "/proc"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deployer{procfs: procfs, delay: settleDelay, logger: logger}
}

// Spec describes one redeploy.
type Spec struct {
	// Pattern selects the previous instance's command line.
	Pattern string

	// BuildID marks the new instance and exempts same-build instances
	// from the kill pass.
	BuildID string

	// Command and Args relaunch the daemon.
	Command string
	Args    []string

	// LogFile receives the detached process's stdout and stderr.
	LogFile string

	// ExtraEnv entries ("KEY=value") are appended to the inherited
	// environment; the injected credential travels here.
	ExtraEnv []string
}

// Redeploy kills matching processes, waits the settle delay, then
// starts the replacement detached. The returned PID is the new
// instance's.
func (d *Deployer) Redeploy(ctx context.Context, spec Spec) (int, error) {
	if spec.Pattern == "" {
		return 0, fmt.Errorf("deploy pattern must not be empty")
	}
	if spec.Command == "" {
		return 0, fmt.Errorf("deploy command must not be empty")
	}

	killed, err := KillMatching(d.procfs, spec.Pattern, spec.BuildID, d.logger)
	if err != nil {
		// Scan failures degrade to "nothing to kill"; the relaunch is
		// the part that matters.
		d.logger.Warn("process scan failed, continuing", zap.Error(err))
	}
	d.logger.Info("kill pass complete", zap.Int("killed", killed))

	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	pid, err := d.StartDetached(spec)
	if err != nil {
		d.logger.Error("deploy failed", zap.Error(err))
		return 0, err
	}
	d.logger.Info("deploy succeeded", zap.Int("pid", pid), zap.String("build_id", spec.BuildID))
	return pid, nil
}

// StartDetached launches the command in its own session with stdio
// pointed at the log file, so it survives this process and its
// controlling terminal.
func (d *Deployer) StartDetached(spec Spec) (int, error) {
	logFile, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	cmd.Env = os.Environ()
	if spec.BuildID != "" {
		cmd.Env = append(cmd.Env, BuildIDVar+"="+spec.BuildID)
	}
	cmd.Env = append(cmd.Env, spec.ExtraEnv...)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", spec.Command, err)
	}

	pid := cmd.Process.Pid
	// Detach: the new session must not become our zombie to reap.
	if err := cmd.Process.Release(); err != nil {
		d.logger.Warn("could not release process handle", zap.Error(err))
	}
	return pid, nil
}
