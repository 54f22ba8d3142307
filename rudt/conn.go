package rudt

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/binary/byteorder"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coalforge/rudt/internal/framing"
	"github.com/coalforge/rudt/internal/keepalive"
	"github.com/coalforge/rudt/internal/reliable"
	"github.com/coalforge/rudt/stats"
)

// connOwner is the narrow, non-owning handle a Connection holds back to
// its Listener: just enough to transmit and to remove itself once
// terminal. The Listener is always the owner; a Connection never owns or
// closes the socket.
type connOwner interface {
	sendTo(remote *net.UDPAddr, b []byte) error
	removeConnection(remote *net.UDPAddr)
}

type connectRequest struct {
	payload []byte
	result  chan error
}

type outboundRequest struct {
	opt     SendOption
	payload []byte
	result  chan error
}

type connParams struct {
	remote *net.UDPAddr
	local  *net.UDPAddr
	owner  connOwner
	cfg    Config
	stats  stats.Sink
	log    zerolog.Logger

	// newConnHandler is set only for server-side connections: it is
	// invoked with the Hello payload the first time one arrives, and
	// decides whether to accept the peer.
	newConnHandler func(payload []byte) bool

	// onConnected is invoked once a server-side handshake completes (the
	// Hello was accepted), so the owning Listener can surface the
	// connection through Accept. Client-side handshakes do not call it.
	onConnected func()
}

// Connection is an established (or establishing) reliable-datagram
// connection to a single remote endpoint. All mutation of its reliable
// tables happens on its own goroutine; Send, SendBytes, Disconnect, and
// Connect hand off to that goroutine over channels.
type Connection struct {
	id     uuid.UUID
	remote *net.UDPAddr
	local  *net.UDPAddr
	owner  connOwner
	cfg    Config
	log    zerolog.Logger
	stats  stats.Sink

	newConnHandler func(payload []byte) bool
	onConnectedCb  func()

	mu                   sync.Mutex
	state                State
	lastMessageID        uint16
	lastSendTimestamp    time.Time
	lastReceiveTimestamp time.Time
	connectResult        chan error
	onData               func(payload []byte, opt SendOption)
	onDisconnected       func(reason []byte)

	sendTable *reliable.SendTable
	dupWindow *reliable.DuplicateWindow
	rtt       *reliable.Estimator
	keepAlive *keepalive.Scheduler

	inbound       chan []byte
	outbound      chan outboundRequest
	disconnectReq chan []byte
	connectReq    chan connectRequest
	forceCloseReq chan []byte

	done           chan struct{}
	disconnectOnce sync.Once
}

func newConnection(p connParams) *Connection {
	id := uuid.New()
	logger := p.log.With().
		Str("connId", id.String()).
		Str("remote", p.remote.String()).
		Logger()

	c := &Connection{
		id:     id,
		remote: p.remote,
		local:  p.local,
		owner:  p.owner,
		cfg:    p.cfg,
		log:    logger,
		stats:  p.stats,

		newConnHandler: p.newConnHandler,
		onConnectedCb:  p.onConnected,

		state: StateNotConnected,

		sendTable: reliable.NewSendTable(),
		dupWindow: reliable.NewDuplicateWindow(p.cfg.DuplicateWindow),
		rtt:       reliable.NewEstimator(p.cfg.ResendTimeoutInitial, p.cfg.ResendTimeoutMax),

		inbound:       make(chan []byte, 64),
		outbound:      make(chan outboundRequest),
		disconnectReq: make(chan []byte, 1),
		connectReq:    make(chan connectRequest, 1),
		forceCloseReq: make(chan []byte, 1),
		done:          make(chan struct{}),
	}

	now := time.Now()
	c.lastSendTimestamp = now
	c.lastReceiveTimestamp = now

	go c.run()
	return c
}

// ID returns the connection's unique instance id, used for log
// correlation.
func (c *Connection) ID() uuid.UUID { return c.id }

// RemoteAddr returns the peer's address.
func (c *Connection) RemoteAddr() *net.UDPAddr { return c.remote }

// LocalAddr returns the local socket's address.
func (c *Connection) LocalAddr() *net.UDPAddr { return c.local }

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RTT returns the current smoothed round-trip-time estimate.
func (c *Connection) RTT() time.Duration { return c.rtt.RTT() }

// OnDataReceived registers the callback invoked for every delivered
// application payload. It runs on the connection's own goroutine;
// applications must not block in it.
func (c *Connection) OnDataReceived(fn func(payload []byte, opt SendOption)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = fn
}

// OnDisconnected registers the callback invoked exactly once, when the
// connection becomes terminal.
func (c *Connection) OnDisconnected(fn func(reason []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = fn
}

// Connect performs the client-side handshake: send Hello, wait for its
// acknowledgement. It blocks until Connected, ConnectFailed, or ctx is
// done.
func (c *Connection) Connect(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	if c.state != StateNotConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	req := connectRequest{payload: payload, result: make(chan error, 1)}

	select {
	case c.connectReq <- req:
	case <-c.done:
		return ErrTimeout
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrTimeout
	}
}

// Send enqueues a framed reliable message built with a MessageWriter. The
// writer is closed (its buffer returned to the pool) regardless of
// outcome.
func (c *Connection) Send(w *framing.MessageWriter) error {
	defer w.Close()
	payload := append([]byte(nil), w.Bytes()...)
	return c.enqueueSend(SendOptionReliable, payload)
}

// SendBytes wraps b in a minimal frame under the given send option. Use
// SendOptionNone for unreliable, fire-and-forget payloads.
func (c *Connection) SendBytes(b []byte, opt SendOption) error {
	return c.enqueueSend(opt, b)
}

func (c *Connection) enqueueSend(opt SendOption, payload []byte) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateConnected {
		return ErrNotConnected
	}

	req := outboundRequest{opt: opt, payload: payload, result: make(chan error, 1)}

	select {
	case c.outbound <- req:
	case <-c.done:
		return ErrNotConnected
	}

	select {
	case err := <-req.result:
		return err
	case <-c.done:
		return ErrNotConnected
	}
}

// Disconnect is a best-effort, fire-and-forget local teardown: it queues
// a Disconnect datagram for transmission and then tears the connection
// down locally. It never blocks on the network and never fails.
func (c *Connection) Disconnect(reason []byte) error {
	select {
	case c.disconnectReq <- reason:
	case <-c.done:
	}
	return nil
}

// Closed returns a channel that is closed once the connection reaches
// NotConnected.
func (c *Connection) Closed() <-chan struct{} { return c.done }

func (c *Connection) forceClose(reason []byte) {
	select {
	case c.forceCloseReq <- reason:
	case <-c.done:
	}
}

// run is the connection's single goroutine: it owns every mutation of the
// reliable tables and the state machine, per the concurrency model.
func (c *Connection) run() {
	for {
		wait := time.Until(c.nextDeadline(time.Now()))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		select {
		case <-c.done:
			return

		case datagram, ok := <-c.inbound:
			if !ok {
				return
			}
			c.handleDatagram(datagram)

		case req := <-c.outbound:
			c.processOutbound(req)

		case reason := <-c.disconnectReq:
			c.handleLocalDisconnect(reason)

		case req := <-c.connectReq:
			c.beginHandshake(req)

		case reason := <-c.forceCloseReq:
			c.transitionToNotConnected(reason, false)

		case <-time.After(wait):
			c.onTimerFire()
		}
	}
}

func (c *Connection) beginHandshake(req connectRequest) {
	c.mu.Lock()
	c.state = StateConnecting
	c.connectResult = req.result
	c.mu.Unlock()

	c.reliableSend(SendOptionHello, req.payload, func() {
		c.mu.Lock()
		c.state = StateConnected
		result := c.connectResult
		c.mu.Unlock()

		c.log.Info().Str("state", StateConnected.String()).Msg("handshake completed")

		c.keepAlive = keepalive.NewScheduler(c.cfg.KeepAliveIntervalDefault, time.Now())

		if result != nil {
			select {
			case result <- nil:
			default:
			}
		}
	})
}

func (c *Connection) processOutbound(req outboundRequest) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateConnected {
		req.result <- ErrNotConnected
		return
	}

	if req.opt.Reliable() {
		req.result <- c.reliableSend(req.opt, req.payload, nil)
		return
	}

	c.transmit(buildNonReliable(req.opt, req.payload))
	req.result <- nil
}

func (c *Connection) handleLocalDisconnect(reason []byte) {
	c.mu.Lock()
	state := c.state
	if state == StateNotConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnecting
	c.mu.Unlock()

	c.transmit(buildNonReliable(SendOptionDisconnect, reason))
	c.transitionToNotConnected(reason, false)
}

// handleDatagram dispatches one inbound datagram by its send-option byte,
// per the classification table.
func (c *Connection) handleDatagram(datagram []byte) {
	if len(datagram) < 1 {
		return
	}

	buf := buffer.From(datagram)
	optByte, err := buf.ReadUint8()
	if err != nil {
		return
	}
	opt := SendOption(optByte)

	c.mu.Lock()
	c.lastReceiveTimestamp = time.Now()
	c.mu.Unlock()
	c.stats.IncReceived(optByte, 1)

	switch opt {
	case SendOptionAcknowledgement:
		id, err := buf.ReadUint16(byteorder.BigEndian)
		if err != nil {
			return
		}
		c.handleAck(id)

	case SendOptionDisconnect:
		reason := datagram[buf.Offset():]
		c.transitionToNotConnected(reason, true)

	case SendOptionReliable, SendOptionHello, SendOptionPing:
		id, err := buf.ReadUint16(byteorder.BigEndian)
		if err != nil {
			return
		}
		payload := datagram[buf.Offset():]

		c.sendAck(id)

		if c.dupWindow.CheckAndInsert(id) {
			c.stats.IncDuplicate(1)
			return
		}

		if opt == SendOptionHello {
			c.handleHello(payload)
		} else if opt.deliverable() {
			c.deliver(payload, SendOptionReliable)
		}
		// Ping is acked and deduped above but never delivered, per
		// SendOption.deliverable.

	case SendOptionNone, SendOptionFragment:
		// Fragment (2) is reserved; until fragmentation is implemented
		// it is treated exactly like a None datagram.
		payload := datagram[buf.Offset():]
		c.deliver(payload, SendOptionNone)

	default:
		c.log.Debug().Uint8("sendOption", optByte).Msg("unknown send option, dropping")
	}
}

func (c *Connection) handleHello(payload []byte) {
	c.mu.Lock()
	alreadyHandled := c.state != StateConnecting
	c.mu.Unlock()

	if alreadyHandled {
		return
	}

	accept := true
	if c.newConnHandler != nil {
		accept = c.newConnHandler(payload)
	}

	if !accept {
		c.transitionToNotConnected([]byte("rejected"), false)
		return
	}

	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Info().Str("state", StateConnected.String()).Msg("handshake completed")

	c.keepAlive = keepalive.NewScheduler(c.cfg.KeepAliveIntervalDefault, time.Now())

	if c.onConnectedCb != nil {
		c.onConnectedCb()
	}
}

func (c *Connection) handleAck(id uint16) {
	entry, ok := c.sendTable.Remove(id)
	if !ok {
		return
	}

	c.stats.IncAcked(1)
	c.log.Debug().Uint16("messageId", id).Msg("ack received")

	if entry.SendCount == 1 {
		sample := time.Since(entry.FirstSentAt)
		c.rtt.Sample(sample)

		if c.keepAlive != nil {
			c.keepAlive.SetInterval(c.rtt.KeepAliveInterval(c.cfg.KeepAliveIntervalMin, c.cfg.KeepAliveIntervalMax))
		}
	} else {
		c.log.Debug().Uint16("messageId", id).Int("sendCount", entry.SendCount).Msg("ack for retransmitted id, skipping RTT sample")
	}

	if entry.AckCallback != nil {
		entry.AckCallback()
	}
}

func (c *Connection) deliver(payload []byte, opt SendOption) {
	c.mu.Lock()
	cb := c.onData
	c.mu.Unlock()

	if cb != nil {
		cb(payload, opt)
	}
}

func (c *Connection) sendAck(id uint16) {
	out := buffer.New(3)
	_ = out.WriteUint8(byte(SendOptionAcknowledgement))
	_ = out.WriteUint16(id, byteorder.BigEndian)
	c.transmit(out.Bytes())
}

// reliableSend assigns the next message id, inserts a ResendEntry, and
// transmits. Must only be called from the connection's own goroutine.
func (c *Connection) reliableSend(opt SendOption, payload []byte, ackCallback func()) error {
	c.mu.Lock()
	c.lastMessageID++
	id := c.lastMessageID
	c.mu.Unlock()

	out := buffer.New(3 + len(payload))
	if err := out.WriteUint8(byte(opt)); err != nil {
		return framing.ErrBufferOverflow
	}
	if err := out.WriteUint16(id, byteorder.BigEndian); err != nil {
		return framing.ErrBufferOverflow
	}
	if len(payload) > 0 {
		if err := out.Write(payload); err != nil {
			return framing.ErrBufferOverflow
		}
	}

	now := time.Now()
	entry := &reliable.ResendEntry{
		ID:          id,
		Buffer:      out.Bytes(),
		SendCount:   1,
		FirstSentAt: now,
		LastSentAt:  now,
		AckCallback: ackCallback,
		BaseTimeout: c.rtt.ResendTimeout(),
	}
	c.sendTable.Insert(entry)

	c.transmit(entry.Buffer)
	return nil
}

// buildNonReliable prepends a 1-byte send-option header to payload. This
// is the only contract for None/Disconnect datagrams; there is no
// trailing-length arithmetic involved.
func buildNonReliable(opt SendOption, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(opt)
	copy(out[1:], payload)
	return out
}

func (c *Connection) transmit(b []byte) {
	if len(b) == 0 {
		return
	}

	if err := c.owner.sendTo(c.remote, b); err != nil {
		c.log.Error().Err(err).Msg("transport write failed")
		c.transitionToNotConnected([]byte("transport error"), false)
		return
	}

	now := time.Now()
	c.mu.Lock()
	c.lastSendTimestamp = now
	c.mu.Unlock()

	if c.keepAlive != nil {
		c.keepAlive.MarkSent(now)
	}

	c.stats.IncSent(b[0], 1)
}

func (c *Connection) entryDeadline(e *reliable.ResendEntry) time.Time {
	delay := reliable.BackoffDelay(e.BaseTimeout, e.SendCount, c.cfg.ResendTimeoutMax)
	return e.LastSentAt.Add(delay)
}

func (c *Connection) nextDeadline(now time.Time) time.Time {
	next := now.Add(time.Hour)

	if oldest, ok := c.sendTable.OldestID(); ok {
		for _, e := range c.sendTable.PendingSorted(oldest) {
			if d := c.entryDeadline(e); d.Before(next) {
				next = d
			}
		}
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == StateConnected && c.keepAlive != nil {
		if d := c.keepAlive.NextDeadline(); d.Before(next) {
			next = d
		}
	}

	return next
}

// onTimerFire retransmits any reliable entry whose deadline has passed
// (in ascending message-id order, rooted at the oldest unacknowledged
// id) and emits a keep-alive ping if the connection has been idle long
// enough.
func (c *Connection) onTimerFire() {
	now := time.Now()

	if oldest, ok := c.sendTable.OldestID(); ok {
		for _, e := range c.sendTable.PendingSorted(oldest) {
			if now.Before(c.entryDeadline(e)) {
				continue
			}

			if e.SendCount >= c.cfg.ResendRetryLimit {
				c.sendTable.Remove(e.ID)
				c.stats.IncDropped(1)
				c.log.Info().Uint16("messageId", e.ID).Str("state", c.State().String()).Msg("retry limit exhausted, disconnecting")
				c.transitionToNotConnected([]byte("timeout"), false)
				return
			}

			e.SendCount++
			e.LastSentAt = now
			c.transmit(e.Buffer)
			c.stats.IncRetransmitted(1)
			c.log.Debug().Uint16("messageId", e.ID).Int("sendCount", e.SendCount).Msg("retransmitting")
		}
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == StateConnected && c.keepAlive != nil && c.keepAlive.Due(now) {
		c.reliableSend(SendOptionPing, nil, nil)
	}
}

// transitionToNotConnected is the single path into the terminal state. It
// guarantees exactly one Disconnected event is ever emitted.
func (c *Connection) transitionToNotConnected(reason []byte, remote bool) {
	c.disconnectOnce.Do(func() {
		c.mu.Lock()
		previous := c.state
		c.state = StateNotConnected
		cb := c.onDisconnected
		connectResult := c.connectResult
		c.mu.Unlock()

		c.log.Info().
			Str("state", StateNotConnected.String()).
			Str("previousState", previous.String()).
			Bool("remote", remote).
			Bytes("reason", reason).
			Msg("connection terminated")

		c.sendTable.Clear()
		c.owner.removeConnection(c.remote)

		if cb != nil {
			cb(reason)
		}

		if connectResult != nil {
			failure := ErrTimeout
			if remote {
				failure = ErrRemoteDisconnect
			}
			select {
			case connectResult <- failure:
			default:
			}
		}

		close(c.done)
	})
}
