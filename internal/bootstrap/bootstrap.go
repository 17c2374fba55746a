// Package bootstrap prepares a fresh checkout for rendering: it
// installs uv, syncs git submodules, then runs the openpilot build
// tool's setup and build phases.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// DefaultUVInstallURL is the upstream installer script for uv.
const DefaultUVInstallURL = "https://astral.sh/uv/install.sh"

// Runner executes the bootstrap sequence. Steps run in order; the
// first failure aborts the rest.
type Runner struct {
	dir          string
	buildTool    string
	uvInstallURL string
	stepTimeout  time.Duration
	out          io.Writer
	logger       *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithUVInstallURL overrides the uv installer location.
func WithUVInstallURL(url string) Option {
	return func(r *Runner) { r.uvInstallURL = url }
}

// WithStepTimeout bounds each individual step.
func WithStepTimeout(d time.Duration) Option {
	return func(r *Runner) { r.stepTimeout = d }
}

// WithOutput redirects step output away from stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// NewRunner builds a Runner operating in dir. buildTool is the
// repository's build entry point, e.g. "tools/op.sh".
func NewRunner(dir, buildTool string, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		dir:          dir,
		buildTool:    buildTool,
		uvInstallURL: DefaultUVInstallURL,
		stepTimeout:  30 * time.Minute,
		out:          os.Stdout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type step struct {
	name    string
	command string
	args    []string
}

// Run executes the full bootstrap sequence.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.ensureUV(ctx); err != nil {
		return err
	}

	steps := []step{
		{"submodule sync", "git", []string{"submodule", "update", "--init", "--recursive"}},
		{"build setup", r.buildTool, []string{"setup"}},
		{"build", r.buildTool, []string{"build"}},
	}
	for _, s := range steps {
		if err := r.runStep(ctx, s); err != nil {
			return err
		}
	}
	r.logger.Info("bootstrap complete", zap.String("dir", r.dir))
	return nil
}

// ensureUV installs uv when it is not already on PATH.
func (r *Runner) ensureUV(ctx context.Context) error {
	if path, err := exec.LookPath("uv"); err == nil {
		r.logger.Info("uv already installed", zap.String("path", path))
		return nil
	}
	return r.runStep(ctx, step{
		name:    "install uv",
		command: "sh",
		args:    []string{"-c", "curl -LsSf " + r.uvInstallURL + " | sh"},
	})
}

func (r *Runner) runStep(ctx context.Context, s step) error {
	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()

	r.logger.Info("bootstrap step",
		zap.String("step", s.name),
		zap.String("command", s.command))

	cmd := exec.CommandContext(stepCtx, s.command, s.args...)
	cmd.Dir = r.dir
	cmd.Stdout = r.out
	cmd.Stderr = r.out

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if stepCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s timed out after %s", s.name, r.stepTimeout)
		}
		return fmt.Errorf("%s failed: %w", s.name, err)
	}
	r.logger.Info("step finished",
		zap.String("step", s.name),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
