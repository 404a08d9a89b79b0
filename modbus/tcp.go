package modbus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// defaultTCPAddr is the default listening address for the MBAP protocol.
	defaultTCPAddr = "127.0.0.1:502"

	// defaultTimeout is the default request timeout.
	// Since we allow multiple parallel connections, i. e., a crashed client can
	// reconnect immediately after a restart, the considerations in § 4.2.2.3 of
	// the Modbus TCP/IP messaging implementation guide do not apply and we can
	// afford a longer timeout. The user can still set a custom timeout using
	// WithTCPTimeout.
	defaultTimeout = 75 * time.Second
)

// tcpAddress describes a TCP address.
type tcpAddress struct {
	// protocol is the Modbus protocol used (mbap or mbaps).
	protocol string

	// addr is the underlying TCP address.
	underlying net.Addr
}

// Protocol implements Address.
func (addr *tcpAddress) Protocol() string {
	return addr.protocol
}

// String implements Address.
func (addr *tcpAddress) String() string {
	return fmt.Sprintf("%s://%s", addr.protocol, addr.underlying)
}

// tcpMessage describes a TCP message.
type tcpMessage struct {
	// tlsConfig is the TLS configuration based on which this message was sent.
	// If no TLS was used, this is nil.
	tlsConfig *tls.Config

	// from and to are the origin and destination of this message, respectively.
	from, to net.Addr

	// adu is the decoded request.
	adu *ADU
}

// protocol returns the protocol over which this message was sent.
func (m *tcpMessage) protocol() string {
	if m.tlsConfig == nil {
		return "mbap"
	}
	return "mbaps"
}

// From implements Message.
func (m *tcpMessage) From() Address {
	return &tcpAddress{
		protocol:   m.protocol(),
		underlying: m.from,
	}
}

// To implements Message.
func (m *tcpMessage) To() Address {
	return &tcpAddress{
		protocol:   m.protocol(),
		underlying: m.to,
	}
}

// ADU implements Message.
func (m *tcpMessage) ADU() *ADU {
	return m.adu
}

// tcpOptions describes options for Modbus/TCP servers.
type tcpOptions struct {
	// addr is the local address the TCP listener should listen on.
	addr string

	// timeout is the request timeout.
	timeout time.Duration

	// insecure determines whether the listener is permitted to be insecure.
	insecure bool

	// tlsConfig is the server TLS configuration.
	tlsConfig *tls.Config

	// allowed lists the networks clients may connect from. Empty means any.
	allowed []*net.IPNet

	// maxConns limits the number of concurrent connections. Zero means no limit.
	maxConns int

	// logger receives connection and request logs.
	logger *zerolog.Logger

	// observer is notified about connections and requests.
	observer Observer

	// responseUnit is the unit identifier of responses.
	responseUnit *UnitID
}

// Validate performs cursory validation of these TCP options.
// It also fills in default values where appropriate.
func (opt *tcpOptions) Validate() error {
	if opt.tlsConfig == nil && !opt.insecure {
		return errors.New("need WithInsecure() option for insecure operation")
	}
	if opt.addr == "" {
		opt.addr = defaultTCPAddr
	}
	if opt.timeout == 0 {
		opt.timeout = defaultTimeout
	}
	if opt.logger == nil {
		nop := zerolog.Nop()
		opt.logger = &nop
	}
	if opt.observer == nil {
		opt.observer = nopObserver{}
	}
	if opt.responseUnit == nil {
		unit := UnitTCP
		opt.responseUnit = &unit
	}
	return nil
}

// TCPOption describes an option to be passed to ListenTCP.
type TCPOption func(*tcpOptions) error

// WithListenAddress instructs ListenTCP to use the specified local
// TCP address to listen on.
func WithListenAddress(addr string) TCPOption {
	return func(opt *tcpOptions) error {
		if opt.addr != "" {
			return errors.New("duplicate specification of listen address")
		}
		if addr == "" {
			return errors.New("empty listen address")
		}
		opt.addr = addr
		return nil
	}
}

// WithTCPTimeout selects the request timeout to be used for a TCP connection.
// The timeout is applied in two situations. First, if the client does not send
// a request for the given duration, the connection is closed. Second, the
// processing time of the request itself is limited by timeout. If it is
// exceeded, ExceptionServerDeviceBusy will be sent back to the client.
func WithTCPTimeout(timeout time.Duration) TCPOption {
	return func(opt *tcpOptions) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", timeout)
		}
		if opt.timeout != 0 {
			return errors.New("WithTCPTimeout specified multiple times")
		}
		opt.timeout = timeout
		return nil
	}
}

// WithInsecure instructs ListenTCP to use the insecure mbap protocol.
func WithInsecure() TCPOption {
	return func(opt *tcpOptions) error {
		if opt.tlsConfig != nil {
			return errors.New("cannot use WithInsecure together with TLS config")
		}
		opt.insecure = true
		return nil
	}
}

// WithTLSConfig instructs ListenTCP to use the secure mbaps protocol with the
// given server configuration.
func WithTLSConfig(config *tls.Config) TCPOption {
	return func(opt *tcpOptions) error {
		if config == nil {
			return errors.New("nil TLS config")
		}
		if opt.insecure {
			return errors.New("cannot use WithInsecure together with TLS config")
		}
		if opt.tlsConfig != nil {
			return errors.New("duplicate specification of TLS config")
		}
		if len(config.Certificates) == 0 && config.GetCertificate == nil &&
			config.GetConfigForClient == nil {
			return errors.New("TLS config without server certificate")
		}
		opt.tlsConfig = config
		return nil
	}
}

// WithAllowedHosts restricts the clients which may connect. Each host is an
// IP address or a CIDR network. Connections from other addresses are closed
// without a response. Without this option, all clients are allowed.
func WithAllowedHosts(hosts ...string) TCPOption {
	return func(opt *tcpOptions) error {
		for _, host := range hosts {
			network, err := parseHost(host)
			if err != nil {
				return err
			}
			opt.allowed = append(opt.allowed, network)
		}
		return nil
	}
}

// parseHost parses an IP address or CIDR network.
func parseHost(host string) (*net.IPNet, error) {
	if strings.Contains(host, "/") {
		_, network, err := net.ParseCIDR(host)
		if err != nil {
			return nil, fmt.Errorf("parse allowed network: %w", err)
		}
		return network, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("invalid allowed host '%s'", host)
	}
	bits := 8 * net.IPv6len
	if ip4 := ip.To4(); ip4 != nil {
		ip, bits = ip4, 8*net.IPv4len
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// WithMaxConnections limits the number of concurrent connections. Further
// connections are closed right after accepting them.
func WithMaxConnections(n int) TCPOption {
	return func(opt *tcpOptions) error {
		if n <= 0 {
			return fmt.Errorf("maximum connections must be positive, got %d", n)
		}
		opt.maxConns = n
		return nil
	}
}

// WithLogger sets the logger for connection and request events. By default,
// nothing is logged.
func WithLogger(logger zerolog.Logger) TCPOption {
	return func(opt *tcpOptions) error {
		opt.logger = &logger
		return nil
	}
}

// WithObserver registers an observer for connection and request events.
func WithObserver(observer Observer) TCPOption {
	return func(opt *tcpOptions) error {
		if observer == nil {
			return errors.New("nil observer")
		}
		opt.observer = observer
		return nil
	}
}

// WithResponseUnitID sets the unit identifier of all responses. The default
// is UnitTCP.
func WithResponseUnitID(unit UnitID) TCPOption {
	return func(opt *tcpOptions) error {
		opt.responseUnit = &unit
		return nil
	}
}

// tcpListener describes a Modbus/TCP listener (optionally secure).
type tcpListener struct {
	// underlying is the underlying net.Listener.
	underlying net.Listener

	// opts holds the validated listener options.
	opts *tcpOptions

	// activeConns keeps track of the active connections for this listener,
	// plus the accept loop.
	activeConns sync.WaitGroup

	// closed is a sentry channel which will be closed when this listener is
	// closed.
	closed chan struct{}

	// closeOnce guards closing.
	closeOnce sync.Once

	// handlers tracks running handler goroutines, which may outlive the
	// request they were started for if they ignore their context.
	handlers sync.WaitGroup

	// ctx is the parent of all handler contexts. It is cancelled by Close.
	ctx context.Context

	// cancel cancels ctx.
	cancel context.CancelFunc

	// mx protects numConns.
	mx sync.Mutex

	// numConns is the number of admitted connections.
	numConns int
}

// ListenTCP creates a mbap or mbaps TCP listener and forwards all incoming
// requests to the given server.
func ListenTCP(srv *Server, opts ...TCPOption) (Listener, error) {
	localOpts := &tcpOptions{}
	for _, opt := range opts {
		if err := opt(localOpts); err != nil {
			return nil, err
		}
	}
	if err := localOpts.Validate(); err != nil {
		return nil, err
	}
	result := &tcpListener{
		opts:   localOpts,
		closed: make(chan struct{}),
	}
	result.ctx, result.cancel = context.WithCancel(context.Background())
	var err error
	if localOpts.tlsConfig != nil {
		result.underlying, err = tls.Listen("tcp", localOpts.addr, localOpts.tlsConfig)
	} else {
		result.underlying, err = net.Listen("tcp", localOpts.addr)
	}
	if err != nil {
		result.cancel()
		return nil, fmt.Errorf("listen on tcp socket '%s': %w", localOpts.addr, err)
	}
	localOpts.logger.Info().
		Stringer("addr", result.underlying.Addr()).
		Bool("tls", localOpts.tlsConfig != nil).
		Msg("listening")
	result.activeConns.Add(1)
	go result.handleConnections(srv)
	return result, nil
}

// Addr implements Listener.
func (l *tcpListener) Addr() net.Addr {
	return l.underlying.Addr()
}

// Close closes this listener and all its connections. Handler contexts are
// cancelled, and Close returns only after all handlers have returned.
func (l *tcpListener) Close() error {
	err := errors.New("already closed")
	l.closeOnce.Do(func() {
		err = l.underlying.Close()
		close(l.closed)
		l.cancel()
	})
	l.activeConns.Wait()
	l.handlers.Wait()
	return err
}

// handleConnections handles incoming connections for this listener.
func (l *tcpListener) handleConnections(srv *Server) {
	defer l.activeConns.Done()
	for {
		conn, err := l.underlying.Accept()
		if err != nil {
			select {
			case <-l.closed:
			default:
				l.opts.logger.Error().Err(err).Msg("accept failed")
			}
			return
		}
		if reason := l.admit(conn.RemoteAddr()); reason != "" {
			l.opts.logger.Warn().
				Stringer("remote", conn.RemoteAddr()).
				Str("reason", reason).
				Msg("connection rejected")
			l.opts.observer.ConnectionRejected(conn.RemoteAddr(), reason)
			conn.Close()
			continue
		}
		l.activeConns.Add(1)
		go l.handleConnection(srv, conn)
	}
}

// admit decides whether a connection from remote may be served. It returns
// the reason for rejecting the connection, or the empty string.
func (l *tcpListener) admit(remote net.Addr) string {
	if !l.allowed(remote) {
		return "host not allowed"
	}
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.opts.maxConns > 0 && l.numConns >= l.opts.maxConns {
		return "too many connections"
	}
	l.numConns++
	return ""
}

// release undoes a successful admit.
func (l *tcpListener) release() {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.numConns--
}

// allowed checks remote against the allowed hosts.
func (l *tcpListener) allowed(remote net.Addr) bool {
	if len(l.opts.allowed) == 0 {
		return true
	}
	addr, ok := remote.(*net.TCPAddr)
	if !ok {
		return false
	}
	for _, network := range l.opts.allowed {
		if network.Contains(addr.IP) {
			return true
		}
	}
	return false
}

// handleConnection handles an incoming connection for this listener.
// It will serve requests until either this listener is closed, there
// is an error on the connection, or a timeout occurs.
func (l *tcpListener) handleConnection(srv *Server, conn net.Conn) {
	defer l.activeConns.Done()
	defer l.release()
	defer conn.Close()
	remote := conn.RemoteAddr()
	log := l.opts.logger.With().
		Str("conn", uuid.NewString()).
		Stringer("remote", remote).
		Logger()
	log.Info().Msg("connection opened")
	l.opts.observer.ConnectionOpened(remote)
	defer func() {
		l.opts.observer.ConnectionClosed(remote)
		log.Info().Msg("connection closed")
	}()
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.serveRequests(srv, conn, log)
	}()
	select {
	case <-l.closed:
		// Unblock reads and writes, then wait for the request in progress.
		conn.Close()
		<-done
	case <-done:
	}
}

// serveRequests serves incoming requests on the specified connection to
// the specified Modbus server. Pipelined requests are answered in order.
func (l *tcpListener) serveRequests(srv *Server, conn net.Conn, log zerolog.Logger) {
	var (
		frames = NewFrameBuffer()
		in     = make([]byte, MaxADULen)
		out    = make([]byte, MaxADULen)
	)
	for {
		for frames.Complete() {
			frame := frames.Frame()
			n := l.serveFrame(srv, conn, frame, out, log)
			frames.Consume(len(frame))
			if n == 0 {
				continue
			}
			deadline := time.Now().Add(l.opts.timeout)
			if err := conn.SetWriteDeadline(deadline); err != nil {
				return
			}
			if _, err := conn.Write(out[:n]); err != nil {
				log.Debug().Err(err).Msg("write failed")
				return
			}
		}
		if err := frames.Err(); err != nil {
			log.Warn().Err(err).Msg("dropping connection")
			return
		}
		deadline := time.Now().Add(l.opts.timeout)
		if err := conn.SetReadDeadline(deadline); err != nil {
			return
		}
		n, err := conn.Read(in)
		frames.Feed(in[:n])
		if err != nil {
			var netErr net.Error
			if !errors.Is(err, io.EOF) &&
				!(errors.As(err, &netErr) && netErr.Timeout()) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
	}
}

// serveFrame answers the request ADU in frame. The response is written to out
// and its length returned. Zero means no response is to be sent.
func (l *tcpListener) serveFrame(
	srv *Server, conn net.Conn, frame, out []byte, log zerolog.Logger,
) int {
	start := time.Now()
	reqHeader := mbapOf(frame).Header()
	respHeader := Header{
		TransactionID: reqHeader.TransactionID,
		ProtocolID:    reqHeader.ProtocolID,
		UnitID:        *l.opts.responseUnit,
	}
	fc := FunctionCode(frame[HeaderLen])
	reject := func(exception ExceptionCode) int {
		n, err := FormatError(out, respHeader, fc, exception)
		if err != nil {
			log.Error().Err(err).Msg("format exception response")
			return 0
		}
		l.opts.observer.RequestServed(fc, exception, time.Since(start))
		return n
	}
	if !fc.IsSupported() {
		log.Debug().Stringer("function", fc).Msg("unsupported function")
		return reject(ExceptionIllegalFunction)
	}
	adu, _, err := ParseRequest(frame)
	if err != nil {
		exception, ok := ExceptionOf(err)
		if !ok {
			exception = ExceptionIllegalDataValue
		}
		logCodecError(log, err)
		return reject(exception)
	}
	msg := &tcpMessage{
		tlsConfig: l.opts.tlsConfig,
		from:      conn.RemoteAddr(),
		to:        conn.LocalAddr(),
		adu:       adu,
	}
	response, err := l.sendRequest(srv, msg, start.Add(l.opts.timeout))
	if err != nil {
		log.Warn().Err(err).Stringer("function", fc).Msg("handler failed")
	}
	if response == nil {
		return 0
	}
	n, err := FormatResponse(out, &ADU{Header: respHeader, PDU: response})
	if err != nil {
		log.Error().Err(err).Stringer("function", fc).Msg("invalid handler response")
		return reject(ExceptionServerDeviceFailure)
	}
	var exception ExceptionCode
	if e, ok := response.(*ExceptionResponse); ok {
		exception = e.Exception
	}
	l.opts.observer.RequestServed(fc, exception, time.Since(start))
	log.Debug().Stringer("request", adu).Stringer("unit", adu.UnitID).
		Stringer("exception", exception).
		Dur("elapsed", time.Since(start)).Msg("request served")
	return n
}

// logCodecError logs the diagnostic detail of a malformed request.
func logCodecError(log zerolog.Logger, err error) {
	var ce *CodecError
	if !errors.As(err, &ce) {
		log.Debug().Err(err).Msg("malformed request")
		return
	}
	log.Debug().
		Stringer("function", ce.Function).
		Str("field", ce.Field).
		Str("reason", ce.Reason).
		Stringer("exception", ce.Exception).
		Msg("malformed request")
}

// sendRequest sends the request message msg to the given server.
// This method will give up waiting for an answer once the given deadline is
// exceeded and answer with ExceptionServerDeviceBusy instead.
func (l *tcpListener) sendRequest(
	srv *Server, msg Message, deadline time.Time,
) (ResponsePDU, error) {
	ctx, cancel := context.WithDeadline(l.ctx, deadline)
	defer cancel()
	type result struct {
		response ResponsePDU
		err      error
	}
	done := make(chan result, 1)
	fc := msg.ADU().PDU.Function()
	l.handlers.Add(1)
	go func() {
		defer l.handlers.Done()
		defer func() {
			if r := recover(); r != nil {
				done <- result{
					response: exceptionResponse(fc, ExceptionServerDeviceFailure),
					err:      fmt.Errorf("handler panic: %v", r),
				}
			}
		}()
		response, err := srv.Serve(ctx, msg)
		done <- result{response, err}
	}()
	select {
	case r := <-done:
		return r.response, r.err
	case <-ctx.Done():
		return exceptionResponse(fc, ExceptionServerDeviceBusy), nil
	}
}
