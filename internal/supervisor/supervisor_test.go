package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/gate"
	"github.com/bft-labs/lockstep/internal/mirror"
	"github.com/bft-labs/lockstep/internal/ports"
	"github.com/bft-labs/lockstep/internal/registry"
	"github.com/bft-labs/lockstep/pkg/log"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "Stopped"},
		{StateStarting, "Starting"},
		{StateInitializing, "Initializing"},
		{StateRunning, "Running"},
		{StateStopping, "Stopping"},
		{StateCrashed, "Crashed"},
		{State(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr error
	}{
		{"full run", []State{StateStarting, StateInitializing, StateRunning, StateStopping, StateStopped}, nil},
		{"skip initializer", []State{StateStarting, StateRunning, StateStopping, StateStopped}, nil},
		{"crash then stop", []State{StateStarting, StateCrashed, StateStopping, StateStopped}, nil},
		{"restart after crash", []State{StateStarting, StateCrashed, StateStarting}, nil},
		{"run from stopped", []State{StateRunning}, domain.ErrNotRunning},
		{"start twice", []State{StateStarting, StateRunning, StateStarting}, domain.ErrAlreadyRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := newLifecycle(log.NoopLogger{}, clock.New())
			var err error
			for _, s := range tt.path {
				if err = lc.TransitionTo(s, "test"); err != nil {
					break
				}
			}
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], lc.State())
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func inProcessConfig() registry.ServiceConfig {
	return registry.ServiceConfig{
		Name:      "svc",
		Transport: registry.InProcess,
		PubSub:    map[string][]string{"in": {"out"}},
	}
}

func newSet(svc registry.ServiceConfig) *mirror.Set {
	return mirror.NewSet(svc.SubscribedTopics(), svc.OutputTopics(), svc.BusTopic, gate.WithTimeout(time.Second))
}

func TestInProcess_StartStop(t *testing.T) {
	svc := inProcessConfig()
	var started atomic.Bool
	entry := func(ctx context.Context, h ports.Handles) error {
		started.Store(true)
		assert.Nil(t, h.Bus)
		<-ctx.Done()
		return ctx.Err()
	}
	p := NewInProcess(svc, entry, newSet(svc))

	assert.ErrorIs(t, p.Stop(), domain.ErrNotRunning)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), domain.ErrAlreadyRunning)
	require.NoError(t, p.RunInitializer(context.Background(), nil))
	assert.Equal(t, StateRunning, p.State())

	require.Eventually(t, started.Load, time.Second, time.Millisecond)
	require.NoError(t, p.Stop())
	assert.Equal(t, StateStopped, p.State())
	assert.NoError(t, p.Err())
}

func TestInProcess_NoEntryPoint(t *testing.T) {
	svc := inProcessConfig()
	p := NewInProcess(svc, nil, newSet(svc))
	assert.ErrorIs(t, p.Start(context.Background()), domain.ErrNoEntryPoint)
	assert.Equal(t, StateStopped, p.State())
}

func TestInProcess_EntryError(t *testing.T) {
	svc := inProcessConfig()
	boom := errors.New("boom")
	p := NewInProcess(svc, func(context.Context, ports.Handles) error { return boom }, newSet(svc))

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.Err() != nil }, time.Second, time.Millisecond)
	assert.ErrorIs(t, p.Err(), boom)
	require.NoError(t, p.Stop())
}

func TestInProcess_ShutdownTimeout(t *testing.T) {
	svc := inProcessConfig()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stubborn := func(context.Context, ports.Handles) error {
		<-release
		return nil
	}
	p := NewInProcess(svc, stubborn, newSet(svc), WithShutdownTimeout(20*time.Millisecond))

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Stop(), domain.ErrShutdownTimeout)
	assert.Equal(t, StateCrashed, p.State())
}

func TestInProcess_Fingerprint(t *testing.T) {
	svc := registry.ServiceConfig{
		Name:        "controls",
		Transport:   registry.InProcess,
		BusTopic:    "can",
		PubSub:      map[string][]string{"can": {}, "pathPlan": {}},
		Initializer: &registry.Fingerprint{BusTopic: "can", Count: 3, PinTopic: "pathPlan"},
	}
	set := newSet(svc)

	var mu sync.Mutex
	var got []int64
	detected := make(chan struct{})
	entry := func(ctx context.Context, h ports.Handles) error {
		for {
			msg, ok := h.Bus.Receive(ctx, false)
			if !ok {
				break
			}
			mu.Lock()
			got = append(got, msg.MonoTime)
			mu.Unlock()
		}
		h.Sub.Get("pathPlan")
		close(detected)
		<-ctx.Done()
		return nil
	}
	p := NewInProcess(svc, entry, set)

	msgs := []domain.Message{
		{Topic: "can", MonoTime: 1},
		{Topic: "model", MonoTime: 2},
		{Topic: "can", MonoTime: 3},
		{Topic: "can", MonoTime: 4},
		{Topic: "can", MonoTime: 5},
	}

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.RunInitializer(context.Background(), msgs))
	assert.Equal(t, StateRunning, p.State())

	select {
	case <-detected:
	case <-time.After(time.Second):
		t.Fatal("pinned read was not released")
	}

	mu.Lock()
	assert.Equal(t, []int64{1, 3, 4}, got)
	mu.Unlock()
	assert.True(t, set.Bus.Strict())
	assert.Equal(t, 0, set.Bus.Pending())

	require.NoError(t, p.Stop())
}

type fakeProcess struct {
	ignoreInterrupt bool
	exitEarly       bool

	interrupts atomic.Int32
	kills      atomic.Int32
	done       chan struct{}
	once       sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int { return 7 }

func (p *fakeProcess) Interrupt() error {
	p.interrupts.Add(1)
	if !p.ignoreInterrupt {
		p.exit()
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	p.exit()
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.done
	return nil
}

func (p *fakeProcess) exit() {
	p.once.Do(func() { close(p.done) })
}

type fakeLauncher struct {
	proc   *fakeProcess
	starts atomic.Int32
	dir    string
	argv   []string
	env    []string
	err    error
}

func (l *fakeLauncher) Start(_ context.Context, dir string, argv, env []string) (ports.Process, error) {
	l.starts.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	l.dir, l.argv, l.env = dir, argv, env
	if l.proc.exitEarly {
		l.proc.exit()
	}
	return l.proc, nil
}

type fakeBus struct {
	ready chan struct{}
}

func (b *fakeBus) URL() string                                  { return "ws://bus" }
func (b *fakeBus) Ready() <-chan struct{}                       { return b.ready }
func (b *fakeBus) Publish(context.Context, domain.Message) error { return nil }
func (b *fakeBus) Close() error                                 { return nil }

func (b *fakeBus) Poll(context.Context, time.Duration) ([]domain.Message, error) {
	return nil, nil
}

func subprocessConfig() registry.ServiceConfig {
	return registry.ServiceConfig{
		Name:      "gnss",
		Transport: registry.Subprocess,
		PubSub:    map[string][]string{"raw": {"fix"}},
		Command:   []string{"./gnss", "-v"},
		Dir:       "locationd",
	}
}

func TestSubprocess_HandshakeStartStop(t *testing.T) {
	launcher := &fakeLauncher{proc: newFakeProcess()}
	bus := &fakeBus{ready: make(chan struct{})}
	close(bus.ready)

	p := NewSubprocess(subprocessConfig(), launcher, bus, WithBaseDir("/opt/svc"))

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.RunInitializer(context.Background(), nil))
	assert.Equal(t, StateRunning, p.State())

	assert.Equal(t, "/opt/svc/locationd", launcher.dir)
	assert.Equal(t, []string{"./gnss", "-v"}, launcher.argv)
	assert.ElementsMatch(t, []string{EnvBusURL + "=ws://bus", EnvService + "=gnss"}, launcher.env)

	require.NoError(t, p.Stop())
	assert.Equal(t, int32(1), launcher.proc.interrupts.Load())
	assert.Equal(t, int32(0), launcher.proc.kills.Load())
	assert.Equal(t, StateStopped, p.State())
	assert.ErrorIs(t, p.Stop(), domain.ErrNotRunning)
}

func TestSubprocess_SettleFallback(t *testing.T) {
	mock := clock.NewMock()
	launcher := &fakeLauncher{proc: newFakeProcess()}
	bus := &fakeBus{ready: make(chan struct{})}

	p := NewSubprocess(subprocessConfig(), launcher, bus, WithClock(mock), WithSettleDelay(5*time.Second))

	var started atomic.Bool
	go func() {
		assert.NoError(t, p.Start(context.Background()))
		started.Store(true)
	}()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return started.Load()
	}, time.Second, time.Millisecond)

	require.NoError(t, p.Stop())
	assert.Equal(t, int32(1), launcher.proc.interrupts.Load())
}

func TestSubprocess_ExitsDuringStartup(t *testing.T) {
	proc := newFakeProcess()
	proc.exitEarly = true
	launcher := &fakeLauncher{proc: proc}
	bus := &fakeBus{ready: make(chan struct{})}

	p := NewSubprocess(subprocessConfig(), launcher, bus)

	err := p.Start(context.Background())
	assert.ErrorIs(t, err, ErrExitedEarly)
	assert.Equal(t, StateCrashed, p.State())
	assert.Equal(t, int32(0), proc.interrupts.Load())
}

func TestSubprocess_LaunchFailure(t *testing.T) {
	launcher := &fakeLauncher{proc: newFakeProcess(), err: errors.New("no such file")}
	p := NewSubprocess(subprocessConfig(), launcher, &fakeBus{})

	err := p.Start(context.Background())
	assert.ErrorContains(t, err, "no such file")
	assert.Equal(t, StateCrashed, p.State())
}

func TestSubprocess_KillAfterTimeout(t *testing.T) {
	proc := newFakeProcess()
	proc.ignoreInterrupt = true
	launcher := &fakeLauncher{proc: proc}
	bus := &fakeBus{ready: make(chan struct{})}
	close(bus.ready)

	p := NewSubprocess(subprocessConfig(), launcher, bus, WithShutdownTimeout(20*time.Millisecond))

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())
	assert.Equal(t, int32(1), proc.interrupts.Load())
	assert.Equal(t, int32(1), proc.kills.Load())
	assert.Equal(t, StateStopped, p.State())
}

func TestSubprocess_RejectsInitializer(t *testing.T) {
	svc := subprocessConfig()
	svc.Initializer = &registry.Fingerprint{BusTopic: "raw", PinTopic: "raw"}
	launcher := &fakeLauncher{proc: newFakeProcess()}
	bus := &fakeBus{ready: make(chan struct{})}
	close(bus.ready)

	p := NewSubprocess(svc, launcher, bus)
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.RunInitializer(context.Background(), nil), domain.ErrConfigMismatch)
	require.NoError(t, p.Stop())
}
