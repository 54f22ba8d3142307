package rudt

import (
	"net"
	"sync"
)

// bufferPool minimises allocation churn on the socket read path: one
// byte slice per read, recycled once the datagram has been dispatched.
var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 65535)
		return &b
	},
}

// Listener owns a UDP socket and demultiplexes inbound datagrams across
// one Connection per remote address. It is the sole writer to the
// socket; every Connection reaches the network through the Listener's
// connOwner handle.
type Listener struct {
	local  *net.UDPAddr
	socket *net.UDPConn
	cfg    Config

	mu          sync.Mutex
	connections map[string]*Connection
	closed      bool

	accepted chan *Connection
	done     chan struct{}
	stopOnce sync.Once

	newConnHandler func(payload []byte, conn *Connection) bool
}

// Listen resolves addr on network ("udp", "udp4", or "udp6"), binds a UDP
// socket, and returns a Listener that is not yet reading datagrams. Call
// Start to begin serving.
func Listen(network, addr string, cfg Config) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	socket, err := net.ListenUDP(network, udpAddr)
	if err != nil {
		return nil, err
	}

	return &Listener{
		local:       socket.LocalAddr().(*net.UDPAddr),
		socket:      socket,
		cfg:         cfg,
		connections: make(map[string]*Connection),
		accepted:    make(chan *Connection),
		done:        make(chan struct{}),
	}, nil
}

// OnNewConnection registers the handler invoked with a peer's Hello
// payload the first time it arrives. Returning false rejects the peer
// and tears its half-open Connection down without ever surfacing it
// through Accept. Must be called before Start.
func (l *Listener) OnNewConnection(fn func(payload []byte, conn *Connection) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.newConnHandler = fn
}

// LocalAddr returns the address the listener's socket is bound to.
func (l *Listener) LocalAddr() *net.UDPAddr { return l.local }

// Start begins the socket-reading goroutine. It returns immediately;
// call Accept to retrieve connections as their handshakes complete.
func (l *Listener) Start() error {
	go l.readLoop()
	return nil
}

// Accept blocks until a new connection finishes its handshake, or the
// listener is stopped.
func (l *Listener) Accept() (*Connection, error) {
	select {
	case c, ok := <-l.accepted:
		if !ok {
			return nil, ErrClosed
		}
		return c, nil
	case <-l.done:
		return nil, ErrClosed
	}
}

// Stop closes the socket and tears down every connection accepted
// through this listener. It is safe to call more than once.
func (l *Listener) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		conns := make([]*Connection, 0, len(l.connections))
		for _, c := range l.connections {
			conns = append(conns, c)
		}
		l.mu.Unlock()

		for _, c := range conns {
			c.forceClose([]byte("listener stopped"))
		}

		err = l.socket.Close()
		close(l.done)
		close(l.accepted)
	})
	return err
}

// readLoop is the listener's single socket-reading goroutine: it reads
// one datagram at a time and either feeds an existing Connection's
// inbound pipeline or creates a new half-open Connection.
func (l *Listener) readLoop() {
	for {
		bufPtr := bufferPool.Get().(*[]byte)
		buf := *bufPtr

		n, remote, err := l.socket.ReadFromUDP(buf)
		if err != nil {
			bufferPool.Put(bufPtr)
			select {
			case <-l.done:
				return
			default:
				l.cfg.Logger.Error().Err(err).Msg("socket read failed")
				continue
			}
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		bufferPool.Put(bufPtr)

		l.dispatch(remote, datagram)
	}
}

func (l *Listener) dispatch(remote *net.UDPAddr, datagram []byte) {
	key := remote.String()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}

	conn, ok := l.connections[key]
	if !ok {
		conn = l.newServerConnection(remote)
		l.connections[key] = conn
	}
	l.mu.Unlock()

	select {
	case conn.inbound <- datagram:
	default:
		l.cfg.Logger.Debug().Str("remote", key).Msg("inbound pipeline full, dropping datagram")
	}
}

// newServerConnection builds a half-open Connection for a newly-seen
// remote address. It is surfaced through Accept only once its handshake
// completes.
func (l *Listener) newServerConnection(remote *net.UDPAddr) *Connection {
	var conn *Connection

	conn = newConnection(connParams{
		remote: remote,
		local:  l.local,
		owner:  l,
		cfg:    l.cfg,
		stats:  l.cfg.Stats,
		log:    l.cfg.Logger,
		newConnHandler: func(payload []byte) bool {
			l.mu.Lock()
			fn := l.newConnHandler
			l.mu.Unlock()

			if fn == nil {
				return true
			}
			return fn(payload, conn)
		},
		onConnected: func() {
			select {
			case l.accepted <- conn:
			case <-l.done:
			}
		},
	})

	conn.mu.Lock()
	conn.state = StateConnecting
	conn.mu.Unlock()

	return conn
}

// sendTo implements connOwner: every Connection's outbound write passes
// through its owning Listener's socket.
func (l *Listener) sendTo(remote *net.UDPAddr, b []byte) error {
	_, err := l.socket.WriteToUDP(b, remote)
	if err != nil {
		return ErrTransport
	}
	return nil
}

// removeConnection implements connOwner: called once a Connection
// reaches NotConnected, so the listener stops routing datagrams to it.
func (l *Listener) removeConnection(remote *net.UDPAddr) {
	l.mu.Lock()
	delete(l.connections, remote.String())
	l.mu.Unlock()
}
