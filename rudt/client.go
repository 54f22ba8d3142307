package rudt

import (
	"context"
	"net"
)

// Dial performs the client-side handshake against addr and returns a
// live Connection. Internally it stands up a private, single-entry
// Listener that exists only to own the socket and demultiplex the one
// peer's datagrams; the returned Connection is otherwise indistinguishable
// from one accepted server-side.
func Dial(ctx context.Context, network, addr string, cfg Config, handshakePayload []byte) (*Connection, error) {
	remote, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	socket, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		local:       socket.LocalAddr().(*net.UDPAddr),
		socket:      socket,
		cfg:         cfg,
		connections: make(map[string]*Connection),
		accepted:    make(chan *Connection),
		done:        make(chan struct{}),
	}

	conn := newConnection(connParams{
		remote: remote,
		local:  l.local,
		owner:  l,
		cfg:    cfg,
		stats:  cfg.Stats,
		log:    cfg.Logger,
	})

	l.mu.Lock()
	l.connections[remote.String()] = conn
	l.mu.Unlock()

	if err := l.Start(); err != nil {
		conn.forceClose([]byte("dial failed"))
		return nil, err
	}

	if err := conn.Connect(ctx, handshakePayload); err != nil {
		_ = l.Stop()
		return nil, err
	}

	return conn, nil
}
