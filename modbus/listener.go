package modbus

import (
	"net"
	"time"
)

// Listener describes a Modbus listener.
type Listener interface {
	// Addr returns the local address the listener accepts connections on.
	Addr() net.Addr

	// Close closes the listener, stopping it from accepting new requests
	// and, for connection-based protocols, closing existing connections as well.
	Close() error
}

// Observer receives notifications about listener activity, e. g., to export
// metrics. Implementations must be safe for concurrent use.
type Observer interface {
	// ConnectionOpened is called when a connection has been accepted.
	ConnectionOpened(remote net.Addr)

	// ConnectionClosed is called when an accepted connection has been closed.
	ConnectionClosed(remote net.Addr)

	// ConnectionRejected is called when a connection has been closed right
	// after accepting it, e. g., because the remote host is not allowed.
	ConnectionRejected(remote net.Addr, reason string)

	// RequestServed is called for each answered request. exception is zero
	// for regular responses.
	RequestServed(fc FunctionCode, exception ExceptionCode, elapsed time.Duration)
}

// nopObserver is the Observer used if none is configured.
type nopObserver struct{}

func (nopObserver) ConnectionOpened(net.Addr)                                {}
func (nopObserver) ConnectionClosed(net.Addr)                                {}
func (nopObserver) ConnectionRejected(net.Addr, string)                      {}
func (nopObserver) RequestServed(FunctionCode, ExceptionCode, time.Duration) {}
