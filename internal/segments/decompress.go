package segments

import (
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"opclip/internal/route"
)

// DecompressLogs expands each downloaded rlog.bz2 / rlog.zst into a
// bare "rlog" next to it, removing the compressed file on success.
// Segments whose rlog already exists are skipped.
func (d *Downloader) DecompressLogs(r route.Route, ids []int) error {
	for _, id := range ids {
		dir := d.SegmentDir(r, id)
		dest := filepath.Join(dir, "rlog")
		if fileExists(dest) {
			d.logger.Debug("rlog already decompressed", zap.Int("segment", id))
			continue
		}

		var src string
		var decompress func(io.Reader) (io.Reader, func(), error)
		switch {
		case fileExists(filepath.Join(dir, "rlog.bz2")):
			src = filepath.Join(dir, "rlog.bz2")
			decompress = bzip2Reader
		case fileExists(filepath.Join(dir, "rlog.zst")):
			src = filepath.Join(dir, "rlog.zst")
			decompress = zstdReader
		default:
			return fmt.Errorf("log for segment %d not found in %s", id, dir)
		}

		if err := expandFile(src, dest, decompress); err != nil {
			return fmt.Errorf("decompressing segment %d log: %w", id, err)
		}
		if err := os.Remove(src); err != nil {
			d.logger.Warn("could not remove compressed log", zap.String("path", src), zap.Error(err))
		}
		d.logger.Info("decompressed log", zap.Int("segment", id), zap.String("path", dest))
	}
	return nil
}

func bzip2Reader(r io.Reader) (io.Reader, func(), error) {
	return bzip2.NewReader(r), func() {}, nil
}

func zstdReader(r io.Reader) (io.Reader, func(), error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr, zr.Close, nil
}

func expandFile(src, dest string, open func(io.Reader) (io.Reader, func(), error)) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	reader, closeReader, err := open(in)
	if err != nil {
		return err
	}
	defer closeReader()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, reader)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dest)
}
