package wsbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/ports"
	"github.com/bft-labs/lockstep/pkg/log"
)

const (
	defaultAddr  = "127.0.0.1:0"
	inboxSize    = 4096
	writeTimeout = 5 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. Defaults to a random loopback port.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Server) { s.logger = log.OrNoop(l) }
}

// WithClock sets the clock used for poll windows.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// Server implements ports.BusTransport for a single subprocess connection.
type Server struct {
	addr   string
	logger log.Logger
	clock  clock.Clock

	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conn  *websocket.Conn
	hello Frame

	writeMu sync.Mutex

	inbox     chan domain.Message
	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// NewServer listens and starts serving in the background.
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		addr:   defaultAddr,
		logger: log.NoopLogger{},
		clock:  clock.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
		},
		inbox:  make(chan domain.Message, inboxSize),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("wsbus: listen %s: %w", s.addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handle)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("bus server stopped", log.Err(err))
		}
	}()

	return s, nil
}

// URL returns the websocket URL services dial.
func (s *Server) URL() string {
	return "ws://" + s.ln.Addr().String() + Path
}

// Ready is closed once a service has sent its hello frame.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Hello returns the hello frame of the connected service.
func (s *Server) Hello() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hello
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	busy := s.conn != nil
	s.mu.Unlock()
	if busy {
		http.Error(w, "bus already has a service", http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.Err(err))
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Debug("bus connection closed", log.Err(err))
			}
			return
		}

		switch f.Type {
		case FrameHello:
			s.mu.Lock()
			s.hello = f
			s.mu.Unlock()
			s.readyOnce.Do(func() { close(s.ready) })
			s.logger.Debug("service connected", log.Service(f.Service), log.Int("subscribe", len(f.Subscribe)))
		case FrameMsg:
			if f.Message == nil {
				continue
			}
			select {
			case s.inbox <- *f.Message:
			case <-s.closed:
				return
			}
		default:
			s.logger.Warn("unknown bus frame", log.String("type", f.Type))
		}
	}
}

// Publish writes msg to the connected service.
func (s *Server) Publish(ctx context.Context, msg domain.Message) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := conn.WriteJSON(Frame{Type: FrameMsg, Message: &msg}); err != nil {
		return fmt.Errorf("wsbus: publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Poll collects every message the service publishes until window elapses.
func (s *Server) Poll(ctx context.Context, window time.Duration) ([]domain.Message, error) {
	var out []domain.Message
	if window <= 0 {
		return drain(s.inbox, out), nil
	}

	timer := s.clock.Timer(window)
	defer timer.Stop()

	for {
		select {
		case m := <-s.inbox:
			out = append(out, m)
		case <-timer.C:
			return drain(s.inbox, out), nil
		case <-ctx.Done():
			return out, ctx.Err()
		case <-s.closed:
			return out, ErrClosed
		}
	}
}

func drain(ch <-chan domain.Message, out []domain.Message) []domain.Message {
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

// Close stops the server and drops the connection.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.writeMu.Unlock()
			conn.Close()
		}
		err = s.srv.Close()
	})
	return err
}

var _ ports.BusTransport = (*Server)(nil)
