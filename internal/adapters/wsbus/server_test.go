package wsbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/lockstep/internal/domain"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dial(t *testing.T, s *Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.URL(), "radard", []string{"can", "model"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitReady(t *testing.T, s *Server) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("service never became ready")
	}
}

func TestServer_Handshake(t *testing.T) {
	s := newServer(t)
	assert.Contains(t, s.URL(), "ws://127.0.0.1:")

	select {
	case <-s.Ready():
		t.Fatal("ready before any service connected")
	default:
	}

	dial(t, s)
	waitReady(t, s)

	hello := s.Hello()
	assert.Equal(t, FrameHello, hello.Type)
	assert.Equal(t, "radard", hello.Service)
	assert.Equal(t, []string{"can", "model"}, hello.Subscribe)
}

func TestServer_PublishAndPoll(t *testing.T) {
	s := newServer(t)
	c := dial(t, s)
	waitReady(t, s)

	ctx := context.Background()
	in := domain.Message{Topic: "can", MonoTime: 42, Frames: []domain.BusFrame{{Address: 0x19f, Src: 1}}}
	require.NoError(t, s.Publish(ctx, in))

	got, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, in, got)

	require.NoError(t, c.Send(domain.Message{Topic: "radarState", MonoTime: 1}))
	require.NoError(t, c.Send(domain.Message{Topic: "liveTracks", MonoTime: 2}))

	var outs []domain.Message
	require.Eventually(t, func() bool {
		msgs, err := s.Poll(ctx, 20*time.Millisecond)
		require.NoError(t, err)
		outs = append(outs, msgs...)
		return len(outs) == 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "radarState", outs[0].Topic)
	assert.Equal(t, "liveTracks", outs[1].Topic)
}

func TestServer_PollEmptyWindow(t *testing.T) {
	s := newServer(t)

	start := time.Now()
	msgs, err := s.Poll(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestServer_PollZeroWindowDrains(t *testing.T) {
	s := newServer(t)
	c := dial(t, s)
	waitReady(t, s)

	ctx := context.Background()
	msgs, err := s.Poll(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, c.Send(domain.Message{Topic: "radarState", MonoTime: 7}))

	var outs []domain.Message
	require.Eventually(t, func() bool {
		msgs, err := s.Poll(ctx, 0)
		require.NoError(t, err)
		outs = append(outs, msgs...)
		return len(outs) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(7), outs[0].MonoTime)
}

func TestServer_PollCanceled(t *testing.T) {
	s := newServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Poll(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServer_PublishWithoutService(t *testing.T) {
	s := newServer(t)
	err := s.Publish(context.Background(), domain.Message{Topic: "can"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestServer_SingleService(t *testing.T) {
	s := newServer(t)
	dial(t, s)
	waitReady(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, s.URL(), "other", nil)
	assert.Error(t, err)
}

func TestServer_Close(t *testing.T) {
	s, err := NewServer()
	require.NoError(t, err)
	c := dial(t, s)
	waitReady(t, s)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Publish(context.Background(), domain.Message{Topic: "can"}), ErrClosed)

	_, err = c.Receive()
	assert.Error(t, err)

	_, err = s.Poll(context.Background(), time.Minute)
	assert.ErrorIs(t, err, ErrClosed)
}
