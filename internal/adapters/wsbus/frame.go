// Package wsbus is the socket bus used to replay into subprocess services.
//
// The harness runs a Server on a loopback websocket endpoint and exports its
// URL to the service. The service connects, announces itself with a hello
// frame and then exchanges msg frames: the harness publishes recorded inputs
// and the service publishes its outputs.
package wsbus

import (
	"errors"

	"github.com/bft-labs/lockstep/internal/domain"
)

// Frame types.
const (
	FrameHello = "hello"
	FrameMsg   = "msg"
)

// Path is the HTTP path the server upgrades on.
const Path = "/bus"

var (
	// ErrNotConnected is returned when publishing before a service connected.
	ErrNotConnected = errors.New("wsbus: no service connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("wsbus: closed")
)

// Frame is the JSON envelope exchanged over the connection.
type Frame struct {
	Type string `json:"type"`

	// Service and Subscribe are set on hello frames
	Service   string   `json:"service,omitempty"`
	Subscribe []string `json:"subscribe,omitempty"`

	// Message is set on msg frames
	Message *domain.Message `json:"message,omitempty"`
}
