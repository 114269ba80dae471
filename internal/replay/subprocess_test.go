package replay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/ports"
	"github.com/bft-labs/lockstep/internal/registry"
	"github.com/bft-labs/lockstep/internal/supervisor"
)

type fakeProcess struct {
	interrupts atomic.Int32
	kills      atomic.Int32
	done       chan struct{}
	once       sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) Interrupt() error {
	p.interrupts.Add(1)
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.done
	return nil
}

type fakeLauncher struct {
	starts atomic.Int32
	proc   *fakeProcess
	env    []string
}

func (l *fakeLauncher) Start(_ context.Context, _ string, _ []string, env []string) (ports.Process, error) {
	l.starts.Add(1)
	l.env = env
	return l.proc, nil
}

// fakeBus answers published inputs through respond, buffering the answers
// until the next poll.
type fakeBus struct {
	mu         sync.Mutex
	ready      chan struct{}
	published  []domain.Message
	pending    []domain.Message
	respond    func(domain.Message) []domain.Message
	failAfter  int
	publishErr error
}

func newFakeBus(respond func(domain.Message) []domain.Message) *fakeBus {
	ready := make(chan struct{})
	close(ready)
	return &fakeBus{ready: ready, respond: respond, failAfter: -1}
}

func (b *fakeBus) URL() string            { return "ws://127.0.0.1:0/bus" }
func (b *fakeBus) Ready() <-chan struct{} { return b.ready }
func (b *fakeBus) Close() error           { return nil }

func (b *fakeBus) Publish(_ context.Context, msg domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAfter >= 0 && len(b.published) >= b.failAfter {
		return b.publishErr
	}
	b.published = append(b.published, msg)
	if b.respond != nil {
		b.pending = append(b.pending, b.respond(msg)...)
	}
	return nil
}

func (b *fakeBus) Poll(_ context.Context, _ time.Duration) ([]domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out, nil
}

func ubloxConfig() registry.ServiceConfig {
	return registry.ServiceConfig{
		Name:      "gnss",
		Transport: registry.Subprocess,
		Command:   []string{"./gnss"},
		PubSub:    map[string][]string{"ubloxRaw": {"ubloxGnss"}},
		Policy:    registry.RawProtocolMatch{Rules: registry.UbloxRules()},
	}
}

func rawInputs() []domain.Message {
	return []domain.Message{
		{Topic: "ubloxRaw", MonoTime: 1, Raw: []byte{0xb5, 0x62, 0x01, 0x70}},
		{Topic: "ubloxRaw", MonoTime: 2, Raw: []byte{0xb5, 0x62, 0x02, 0x13}},
		{Topic: "ubloxRaw", MonoTime: 3, Raw: []byte{0xb5, 0x62, 0x0a, 0x09}},
	}
}

func translate(msg domain.Message) []domain.Message {
	if msg.Raw[2] == 0x02 && msg.Raw[3] == 0x13 {
		return nil
	}
	return []domain.Message{{Topic: "ubloxGnss", Fields: map[string]any{"class": msg.Raw[2]}}}
}

func runSubprocess(t *testing.T, svc registry.ServiceConfig, bus *fakeBus, msgs []domain.Message) (*Session, *fakeLauncher, *supervisor.Subprocess, error) {
	t.Helper()
	pred, err := registry.Compile(svc, registry.Topics{})
	require.NoError(t, err)

	launcher := &fakeLauncher{proc: newFakeProcess()}
	sup := supervisor.NewSubprocess(svc, launcher, bus, supervisor.WithShutdownTimeout(time.Second))
	sched := New(svc, pred, WithStepSettle(0), WithPollWindow(time.Millisecond))

	sess := NewSession(svc, msgs)
	err = sched.Run(context.Background(), sess, sup)
	return sess, launcher, sup, err
}

func TestScheduler_Subprocess(t *testing.T) {
	bus := newFakeBus(translate)
	sess, launcher, sup, err := runSubprocess(t, ubloxConfig(), bus, rawInputs())
	require.NoError(t, err)

	require.Len(t, sess.Outputs(), 2)
	assert.Equal(t, 0, sess.Outputs()[0].InputIndex)
	assert.Equal(t, int64(3), sess.Outputs()[1].MonoTime)
	assert.Len(t, bus.published, 3)

	assert.Equal(t, int32(1), launcher.starts.Load())
	assert.Equal(t, int32(1), launcher.proc.interrupts.Load())
	assert.Equal(t, int32(0), launcher.proc.kills.Load())
	assert.Contains(t, launcher.env, supervisor.EnvBusURL+"=ws://127.0.0.1:0/bus")
	assert.Equal(t, supervisor.StateStopped, sup.State())
}

func TestScheduler_SubprocessStopsOnceOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		bus     func() *fakeBus
		wantErr error
	}{
		{
			name: "missing output",
			bus: func() *fakeBus {
				return newFakeBus(func(domain.Message) []domain.Message { return nil })
			},
			wantErr: domain.ErrMissingOutput,
		},
		{
			name: "publish fails mid run",
			bus: func() *fakeBus {
				b := newFakeBus(translate)
				b.failAfter = 1
				b.publishErr = errors.New("connection reset")
				return b
			},
		},
		{
			name: "undeclared output topic",
			bus: func() *fakeBus {
				return newFakeBus(func(domain.Message) []domain.Message {
					return []domain.Message{{Topic: "gpsLocation"}}
				})
			},
			wantErr: domain.ErrUnexpectedTopic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, launcher, sup, err := runSubprocess(t, ubloxConfig(), tt.bus(), rawInputs())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			assert.Equal(t, int32(1), launcher.starts.Load())
			assert.Equal(t, int32(1), launcher.proc.interrupts.Load())
			assert.Equal(t, supervisor.StateStopped, sup.State())
		})
	}
}

func TestScheduler_SubprocessMissingOutputCarriesInput(t *testing.T) {
	bus := newFakeBus(func(domain.Message) []domain.Message { return nil })
	_, _, _, err := runSubprocess(t, ubloxConfig(), bus, rawInputs())

	var missing *MissingOutputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, 0, missing.Index)
	assert.Equal(t, int64(1), missing.Input.MonoTime)
	assert.Equal(t, []string{"ubloxGnss"}, missing.Missing)
}

func TestScheduler_SubprocessDropsStrayOutputs(t *testing.T) {
	// answers every packet, including the ones no output is expected for
	chatty := func(msg domain.Message) []domain.Message {
		return []domain.Message{{Topic: "ubloxGnss", Fields: map[string]any{"class": msg.Raw[2]}}}
	}
	bus := newFakeBus(chatty)
	sess, _, _, err := runSubprocess(t, ubloxConfig(), bus, rawInputs())
	require.NoError(t, err)

	outs := sess.Outputs()
	require.Len(t, outs, 2)
	assert.Equal(t, 0, outs[0].InputIndex)
	assert.Equal(t, 2, outs[1].InputIndex)
	assert.Equal(t, int64(3), outs[1].MonoTime)
	assert.Equal(t, byte(0x0a), outs[1].Fields["class"])
}
