package fs

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/ports"
)

// OutputFile implements ports.OutputSink as an NDJSON file.
type OutputFile struct {
	path string
}

// NewOutputFile creates a sink writing path.
func NewOutputFile(path string) *OutputFile {
	return &OutputFile{path: path}
}

// Path returns the file path.
func (f *OutputFile) Path() string {
	return f.path
}

// Write replaces the file with outs.
// Uses atomic write (write to temp file, then rename) so readers never see a
// partial recording.
func (f *OutputFile) Write(ctx context.Context, outs []domain.Output) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if err := encodeOutputs(ctx, file, outs, strings.HasSuffix(f.path, ".gz")); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, f.path)
}

func encodeOutputs(ctx context.Context, w io.Writer, outs []domain.Output, compress bool) error {
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(w)
		w = gz
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	for _, o := range outs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(o); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if gz != nil {
		return gz.Close()
	}
	return nil
}

var _ ports.OutputSink = (*OutputFile)(nil)
