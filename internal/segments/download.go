package segments

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"opclip/internal/commaapi"
	"opclip/internal/route"
)

// Downloader fetches segment files into a local data directory laid
// out as <dataDir>/<routeDate>--<segmentID>/<file>.
type Downloader struct {
	dataDir  string
	maxConns int
	client   *http.Client
	logger   *zap.Logger
}

// NewDownloader creates a Downloader writing under dataDir with at
// most maxConns concurrent fetches.
func NewDownloader(dataDir string, maxConns int, logger *zap.Logger) *Downloader {
	if maxConns < 1 {
		maxConns = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		dataDir:  dataDir,
		maxConns: maxConns,
		client:   &http.Client{Timeout: 10 * time.Minute},
		logger:   logger,
	}
}

// SegmentDir returns the local directory for one segment of a route.
func (d *Downloader) SegmentDir(r route.Route, id int) string {
	return filepath.Join(d.dataDir, fmt.Sprintf("%s--%d", r.Date, id))
}

// Fetch downloads the requested kinds for every planned segment.
// Files already on disk are skipped; each file lands via a temp name
// and rename so an interrupted run never leaves partial files behind.
func (d *Downloader) Fetch(ctx context.Context, files commaapi.FileList, r route.Route, ids []int, kinds []FileKind) error {
	// Resolve the full work list before starting any transfer, so an
	// error here never leaves downloads running unawaited.
	type transfer struct {
		srcURL string
		dest   string
	}
	var work []transfer
	for _, id := range ids {
		dir := d.SegmentDir(r, id)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating segment dir: %w", err)
		}

		for _, kind := range kinds {
			srcURL := segmentFile(files, id, kind)
			if srcURL == "" {
				// Validate runs first; a hole here means the file list
				// changed underneath us.
				return fmt.Errorf("%w: segment %d kind %s", ErrMissingUpload, id, kind)
			}

			dest := filepath.Join(dir, remoteFileName(srcURL))
			if kind == KindLogs && fileExists(filepath.Join(dir, "rlog")) {
				d.logger.Debug("log already decompressed, skipping", zap.Int("segment", id))
				continue
			}
			if fileExists(dest) {
				d.logger.Debug("file already present, skipping", zap.String("path", dest))
				continue
			}
			work = append(work, transfer{srcURL: srcURL, dest: dest})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxConns)
	for _, tr := range work {
		tr := tr
		g.Go(func() error {
			return d.fetchOne(ctx, tr.srcURL, tr.dest)
		})
	}
	return g.Wait()
}

func (d *Downloader) fetchOne(ctx context.Context, srcURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", filepath.Base(dest), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: status %d", filepath.Base(dest), resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("finalizing %s: %w", dest, err)
	}

	d.logger.Info("downloaded segment file",
		zap.String("file", dest),
		zap.Int64("bytes", n))
	return nil
}

// remoteFileName strips the query string and path off a signed blob
// URL, leaving the segment file name (fcamera.hevc, rlog.bz2, ...).
func remoteFileName(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return filepath.Base(u.Path)
	}
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		raw = raw[:idx]
	}
	return filepath.Base(raw)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
