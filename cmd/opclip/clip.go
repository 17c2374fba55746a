package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"opclip/internal/clip"
	"opclip/internal/route"
	"opclip/internal/segments"
	"opclip/internal/store"
)

var (
	clipTitle  string
	clipOutput string

	downloadTypes string
	downloadSmear int

	historyLimit int
)

// clipCmd renders a single clip without going through Discord.
var clipCmd = &cobra.Command{
	Use:   "clip [route/start/end]",
	Short: "Render one clip to a local file",
	Long: `Renders a clip of an openpilot route to an mp4.

The argument is a connect URL or a route name with timing, e.g.
  a2a0ccea32023010/2023-07-27--13-01-19/120/150
Absolute-time connect links ("/<dongle>/<startMillis>/<endMillis>")
are resolved through the comma API, which needs COMMA_JWT for
non-public routes.`,
	Args: cobra.ExactArgs(1),
	RunE: runClip,
}

func runClip(cmd *cobra.Command, args []string) error {
	c, err := resolveClipArg(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	renderer := clip.NewRenderer(cfg.Render.Renderer, cfg.Render.Args, cfg.GetRenderTimeout(), logger)
	logger.Info("rendering",
		zap.String("clip", c.String()),
		zap.Int("length_seconds", c.Window.Length()))

	out, err := renderer.Render(cmd.Context(), c, clipTitle)
	if err != nil {
		return err
	}
	defer out.Cleanup()

	dest := clipOutput
	if dest == "" {
		dest = c.Route.OutputFileName()
	}
	if err := copyFile(out.Path, dest); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	fmt.Printf("wrote %s (%d bytes)\n", dest, out.Size)
	return nil
}

// parseCmd explains how an input is interpreted.
var parseCmd = &cobra.Command{
	Use:   "parse [route or connect URL]",
	Short: "Show how a route or clip link is interpreted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if aw, ok := route.ParseAbsolute(args[0]); ok {
			fmt.Printf("dongle:          %s\n", aw.DongleID)
			fmt.Printf("absolute window: %d to %d millis\n", aw.StartMillis, aw.EndMillis)
			fmt.Println("route:           resolved through the comma API at render time")
			return nil
		}

		r, err := route.Parse(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("dongle:      %s\n", r.DongleID)
		fmt.Printf("canonical:   %s\n", r.Canonical())
		fmt.Printf("connect url: %s\n", r.ConnectURL())
		fmt.Printf("output file: %s\n", r.OutputFileName())
		if c, clipErr := route.ParseClip(args[0]); clipErr == nil {
			fmt.Printf("window:      %s to %s (%ds)\n",
				route.FormatTimestamp(c.Window.StartSeconds),
				route.FormatTimestamp(c.Window.EndSeconds),
				c.Window.Length())
			fmt.Printf("segments:    %v\n", segments.Plan(c.Window, cfg.Download.SmearSeconds))
		}
		return nil
	},
}

// downloadCmd fetches route data without rendering.
var downloadCmd = &cobra.Command{
	Use:   "download [route/start/end]",
	Short: "Download the segment files covering a clip window",
	Long: `Downloads camera and log files for the segments covering the
given window into the configured data directory. Logs are decompressed
in place.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := resolveClipArg(ctx, args[0])
	if err != nil {
		return err
	}

	kinds, err := segments.ParseKinds(strings.Split(downloadTypes, ","))
	if err != nil {
		return err
	}
	ids := segments.Plan(c.Window, downloadSmear)

	api := newAPIClient()
	files, err := api.RouteFiles(ctx, c.Route)
	if err != nil {
		return err
	}
	if err := segments.Validate(files, c.Route, ids, kinds); err != nil {
		return err
	}

	dl := segments.NewDownloader(cfg.Download.DataDir, cfg.Download.MaxConnections, logger)
	if err := dl.Fetch(ctx, files, c.Route, ids, kinds); err != nil {
		return err
	}
	if slices.Contains(kinds, segments.KindLogs) {
		if err := dl.DecompressLogs(c.Route, ids); err != nil {
			return err
		}
	}
	fmt.Printf("downloaded segments %v of %s to %s\n", ids, c.Route.Canonical(), cfg.Download.DataDir)
	return nil
}

// historyCmd lists recent jobs from the store.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent clip jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer jobs.Close()

		recent, err := jobs.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		pending, err := jobs.PendingCount(cmd.Context())
		if err != nil {
			return err
		}
		if len(recent) == 0 {
			fmt.Println("no jobs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tSTATUS\tCLIP\tREQUESTER\tDETAIL")
		for _, j := range recent {
			detail := j.Error
			if j.Status == store.StatusDone {
				detail = fmt.Sprintf("%d bytes", j.OutputBytes)
			}
			window := fmt.Sprintf("%s/%d/%d", j.Route, j.StartSeconds, j.EndSeconds)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				j.CreatedAt.Local().Format(time.DateTime),
				j.Status, window, j.Requester, detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("%d pending\n", pending)
		return nil
	},
}

// resolveClipArg parses a clip argument, resolving absolute-time
// connect links through the comma API.
func resolveClipArg(ctx context.Context, input string) (route.Clip, error) {
	c, err := route.ParseClip(input)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, route.ErrNoTiming) {
		if aw, ok := route.ParseAbsolute(input); ok {
			return newAPIClient().ResolveAbsolute(ctx, aw)
		}
	}
	return route.Clip{}, err
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func init() {
	clipCmd.Flags().StringVarP(&clipTitle, "title", "t", "", "Overlay title for the clip")
	clipCmd.Flags().StringVarP(&clipOutput, "output", "o", "", "Output file (default <route>.mp4)")

	downloadCmd.Flags().StringVar(&downloadTypes, "types", "cameras,ecameras,logs", "Comma-separated file kinds: cameras, ecameras, dcameras, logs")
	downloadCmd.Flags().IntVar(&downloadSmear, "smear", 5, "Seconds of lead-in before the window start")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of jobs to show")
}
