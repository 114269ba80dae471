// Package fs implements the file-backed log source and output sink.
//
// Both use newline-delimited JSON: one domain.Message (source) or
// domain.Output (sink) per line. Files ending in ".gz" are gzip compressed.
package fs

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/ports"
)

// maxLineBytes bounds a single NDJSON record.
const maxLineBytes = 16 << 20

// LogFile implements ports.LogSource over an NDJSON recording.
// Every call to Messages re-reads the file.
type LogFile struct {
	path string
}

// NewLogFile creates a source reading path.
func NewLogFile(path string) *LogFile {
	return &LogFile{path: path}
}

// Path returns the file path.
func (f *LogFile) Path() string {
	return f.path
}

// Messages reads every message in file order.
func (f *LogFile) Messages(ctx context.Context) ([]domain.Message, error) {
	var msgs []domain.Message
	err := readLines(ctx, f.path, func(line []byte) error {
		var m domain.Message
		if err := json.Unmarshal(line, &m); err != nil {
			return err
		}
		if m.Topic == "" {
			return fmt.Errorf("message without topic")
		}
		msgs = append(msgs, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// ReadOutputs reads a recording written by OutputFile.
func ReadOutputs(ctx context.Context, path string) ([]domain.Output, error) {
	var outs []domain.Output
	err := readLines(ctx, path, func(line []byte) error {
		var o domain.Output
		if err := json.Unmarshal(line, &o); err != nil {
			return err
		}
		outs = append(outs, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outs, nil
}

func readLines(ctx context.Context, path string, fn func(line []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

var _ ports.LogSource = (*LogFile)(nil)
