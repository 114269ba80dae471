package fs

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/lockstep/internal/domain"
)

const sampleLog = `{"topic":"can","mono_time":200,"valid":true,"frames":[{"address":1093,"src":1}]}

{"topic":"model","mono_time":100,"valid":true,"fields":{"speed":12.5}}
{"topic":"ubloxRaw","mono_time":300,"raw":"tWIBcA=="}
`

func TestLogFile_Messages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rlog.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))

	src := NewLogFile(path)
	msgs, err := src.Messages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	// file order, not sorted
	assert.Equal(t, "can", msgs[0].Topic)
	assert.Equal(t, []domain.BusFrame{{Address: 0x445, Src: 1}}, msgs[0].Frames)
	assert.Equal(t, 12.5, msgs[1].Fields["speed"])
	assert.Equal(t, []byte{0xb5, 0x62, 0x01, 0x70}, msgs[2].Raw)

	again, err := src.Messages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, msgs, again)
}

func TestLogFile_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rlog.ndjson.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(sampleLog))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	msgs, err := NewLogFile(path).Messages(context.Background())
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestLogFile_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"bad json", "{\"topic\":\"can\"}\n{nope\n", ":2:"},
		{"missing topic", "{\"mono_time\":1}\n", "without topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".ndjson")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := NewLogFile(path).Messages(context.Background())
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}

	_, err := NewLogFile(filepath.Join(dir, "absent")).Messages(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOutputFile_RoundTrip(t *testing.T) {
	for _, name := range []string{"out.ndjson", "nested/out.ndjson.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			outs := []domain.Output{
				{Message: domain.Message{Topic: "radarState", MonoTime: 10, Valid: true, Fields: map[string]any{"v": 1.5}}, InputIndex: 3},
				{Message: domain.Message{Topic: "liveTracks", MonoTime: 10}, InputIndex: 3},
			}

			sink := NewOutputFile(path)
			require.NoError(t, sink.Write(context.Background(), outs))

			_, err := os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

			got, err := ReadOutputs(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, outs, got)
		})
	}
}

func TestOutputFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	sink := NewOutputFile(path)

	first := []domain.Output{{Message: domain.Message{Topic: "a"}}, {Message: domain.Message{Topic: "b"}}}
	require.NoError(t, sink.Write(context.Background(), first))
	require.NoError(t, sink.Write(context.Background(), first[:1]))

	got, err := ReadOutputs(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
