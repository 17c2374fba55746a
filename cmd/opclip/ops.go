package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"opclip/internal/bootstrap"
	"opclip/internal/supervise"
)

var bootstrapDir string

// bootstrapCmd prepares the openpilot checkout for rendering.
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Install tooling and build the openpilot checkout",
	Long: `Prepares a fresh checkout for rendering: installs uv if it is
missing, syncs git submodules, then runs the build tool's setup and
build phases. Steps run in order and stop at the first failure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := bootstrap.NewRunner(bootstrapDir, cfg.Deploy.BuildTool, logger)
		return r.Run(cmd.Context())
	},
}

// deployCmd replaces a running daemon with a fresh one.
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Restart the daemon, replacing any previous instance",
	Long: `Terminates running instances matching the configured pattern,
waits for them to settle, then relaunches the daemon detached with its
output appended to the log file.

Instances whose BUILD_ID matches the current one are left alone, so a
deploy never kills the process it is part of. DISCORD_TOKEN must be in
the environment; the relaunched daemon inherits it.`,
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	if cfg.Discord.Token == "" {
		logger.Warn("DISCORD_TOKEN is not set, the relaunched daemon will refuse to serve")
	}

	d := supervise.NewDeployer("/proc", cfg.GetSettleDelay(), logger)
	pid, err := d.Redeploy(cmd.Context(), supervise.Spec{
		Pattern: cfg.Deploy.Pattern,
		BuildID: cfg.Deploy.BuildID,
		Command: cfg.Deploy.Command,
		Args:    cfg.Deploy.Args,
		LogFile: cfg.Deploy.LogFile,
	})
	if err != nil {
		return err
	}
	logger.Info("daemon relaunched", zap.Int("pid", pid))
	fmt.Printf("started pid %d, logging to %s\n", pid, cfg.Deploy.LogFile)
	return nil
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapDir, "dir", "openpilot", "Checkout directory to bootstrap")
}
