package clip

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"opclip/internal/route"
)

// defaultFramerate matches what Discord previews tolerate.
const defaultFramerate = 9

// Renderer invokes the external clip renderer. The command receives
// the fixed args, then "<route>/<start>/<end>", "-o" <output>,
// "-f" <framerate>, and "-t" <title> when a title is set.
type Renderer struct {
	command   string
	args      []string
	timeout   time.Duration
	framerate int
	logger    *zap.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(command string, args []string, timeout time.Duration, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		command:   command,
		args:      args,
		timeout:   timeout,
		framerate: defaultFramerate,
		logger:    logger,
	}
}

// Output is a rendered clip on disk. Call Cleanup once the file has
// been consumed.
type Output struct {
	Path string
	Size int64

	dir string
}

// Cleanup removes the temp directory holding the output.
func (o *Output) Cleanup() {
	if o.dir != "" {
		os.RemoveAll(o.dir)
	}
}

// Render runs the renderer for one clip.
func (r *Renderer) Render(ctx context.Context, c route.Clip, title string) (*Output, error) {
	dir, err := os.MkdirTemp("", "opclip-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	outPath := filepath.Join(dir, c.Route.OutputFileName())

	args := append([]string{}, r.args...)
	args = append(args, c.String(), "-o", outPath, "-f", fmt.Sprint(r.framerate))
	if title != "" {
		args = append(args, "-t", title)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	r.logger.Info("rendering clip", zap.String("clip", c.String()), zap.String("command", r.command))

	if err := cmd.Run(); err != nil {
		os.RemoveAll(dir)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("render timed out after %s", r.timeout)
		}
		return nil, fmt.Errorf("renderer failed: %w\n%s", err, tail(stderr.String(), 2000))
	}

	info, err := os.Stat(outPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("renderer produced no output: %w", err)
	}

	r.logger.Info("render finished",
		zap.String("clip", c.String()),
		zap.Int64("bytes", info.Size()),
		zap.Duration("took", time.Since(start)))

	return &Output{Path: outPath, Size: info.Size(), dir: dir}, nil
}

// tail keeps the last n bytes of renderer stderr for error messages.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
