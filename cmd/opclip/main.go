package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"opclip/internal/bot"
	"opclip/internal/clip"
	"opclip/internal/commaapi"
	"opclip/internal/config"
	"opclip/internal/store"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "opclip",
	Short: "opclip - Discord bot that renders openpilot route clips",
	Long: `opclip turns openpilot drives into shareable video clips.

It runs as a Discord bot (the serve command) answering /clip and
/bookmarks, and doubles as a CLI for one-shot rendering, route link
parsing, segment downloads and deploy automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		zc := zap.NewProductionConfig()
		if level, parseErr := zapcore.ParseLevel(cfg.Logging.Level); parseErr == nil {
			zc.Level = zap.NewAtomicLevelAt(level)
		}
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the Discord bot daemon.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Discord bot and render queue",
	Long: `Connects to Discord and serves clip requests until interrupted.

Requires DISCORD_TOKEN in the environment. Jobs interrupted by a
previous shutdown are marked failed on startup. Edits to the config
file apply live where the setting allows it.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Discord.Token == "" {
		return errors.New("DISCORD_TOKEN is not set")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening job store: %w", err)
	}
	defer jobs.Close()

	if n, err := jobs.MarkInterrupted(ctx); err != nil {
		logger.Warn("could not mark interrupted jobs", zap.Error(err))
	} else if n > 0 {
		logger.Info("marked interrupted jobs as failed", zap.Int64("count", n))
	}

	api := newAPIClient()
	renderer := clip.NewRenderer(cfg.Render.Renderer, cfg.Render.Args, cfg.GetRenderTimeout(), logger)
	queue := clip.NewQueue(renderer, jobs, cfg.Render.QueueDepth, cfg.Render.MaxClipLength, logger)

	b, err := bot.New(cfg.Discord.Token, queue, api, bot.Options{
		WatchMessages:      cfg.Discord.WatchMessages,
		DefaultClipSeconds: cfg.Discord.DefaultClipSeconds,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	logger.Info("starting",
		zap.Int("workers", cfg.Render.Workers),
		zap.Int("queue_depth", cfg.Render.QueueDepth),
		zap.String("build_id", os.Getenv("BUILD_ID")))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		queue.Run(ctx, cfg.Render.Workers)
		return nil
	})
	g.Go(func() error {
		return b.Run(ctx)
	})
	g.Go(func() error {
		return config.Watch(ctx, cfgPath, logger, func(next *config.Config) {
			queue.SetMaxClipLength(next.Render.MaxClipLength)
			b.SetDefaultClipSeconds(next.Discord.DefaultClipSeconds)
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newAPIClient() *commaapi.Client {
	return commaapi.New(cfg.API.BaseURL,
		commaapi.WithJWT(cfg.API.JWTToken),
		commaapi.WithTimeout(cfg.GetAPITimeout()),
		commaapi.WithRetries(cfg.API.Retries),
		commaapi.WithLogger(logger),
	)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "opclip.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(clipCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(deployCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode surfaces a failed external tool's own exit status, so a
// bootstrap runs exit with whatever the delegated tool returned.
func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() > 0 {
		return ee.ExitCode()
	}
	return 1
}
