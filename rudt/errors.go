package rudt

import "errors"

// ErrNotConnected is returned when the application attempts to send
// outside the Connected state. The connection's state is left unchanged.
var ErrNotConnected = errors.New("rudt: not connected")

// ErrTransport marks a socket-level I/O failure. It never propagates past
// a Connection; receiving it transitions the connection to NotConnected
// with reason "transport error".
var ErrTransport = errors.New("rudt: transport error")

// ErrTimeout marks a reliable-retry-limit or keep-alive failure. It
// transitions the connection to NotConnected with reason "timeout".
var ErrTimeout = errors.New("rudt: timeout")

// ErrRemoteDisconnect marks a Disconnect datagram received from the peer.
var ErrRemoteDisconnect = errors.New("rudt: remote disconnect")

// ErrClosed is returned by Listener methods once Stop has been called.
var ErrClosed = errors.New("rudt: listener closed")
