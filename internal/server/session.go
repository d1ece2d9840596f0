// Package server manages individual game sessions, handling read/write
// pumps, liveness probing, rate limiting, and lifecycle control for each
// connection.
package server

import (
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Tyrowin/blobarena/internal/gamelog"
	"github.com/Tyrowin/blobarena/internal/protocol"
)

// Session is one client connection. Its read pump turns inbound frames into
// movement intents; its write pump delivers snapshots, liveness probes and
// the terminal game-over frame.
type Session struct {
	id          string
	conn        *websocket.Conn
	hub         *Hub
	addr        string
	send        chan []byte
	terminal    chan []byte
	closeOnce   sync.Once
	lastSeen    atomic.Int64
	rateLimiter *rateLimiter
	cfg         Config
}

// NewSession creates a session for an upgraded connection. The send buffer
// bounds how far the client may fall behind before it is dropped.
func NewSession(id string, conn *websocket.Conn, hub *Hub, addr string) *Session {
	cfg := hub.Config()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	s := &Session{
		id:          id,
		conn:        conn,
		hub:         hub,
		addr:        addr,
		send:        make(chan []byte, cfg.SendBufferSize),
		terminal:    make(chan []byte, 1),
		rateLimiter: newRateLimiter(cfg.RateLimit),
		cfg:         cfg,
	}
	s.lastSeen.Store(time.Now().UnixNano())
	return s
}

// ID returns the session's player id.
func (s *Session) ID() string {
	return s.id
}

// LastSeen returns when the client last sent anything, pongs included.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Deliver queues a snapshot frame. It never blocks.
func (s *Session) Deliver(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Eliminate queues the terminal frame; the write pump sends it, then closes.
func (s *Session) Eliminate(frame []byte) {
	select {
	case s.terminal <- frame:
	default:
	}
}

// Close ends the outbound stream; the write pump sends a close frame and
// tears down the connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.send)
	})
}

// start launches both pumps under the hub's shutdown tracking. The hub calls
// it from its own goroutine once the player is admitted.
func (s *Session) start() {
	s.hub.track(s.writePump)
	s.hub.track(s.readPump)
}

// abort closes a connection whose registration was refused. No pump runs.
func (s *Session) abort() {
	s.Close()
	s.writeCloseMessage(websocket.CloseTryAgainLater, "registration refused")
	s.closeConnection()
}

// touch records inbound activity and pushes the liveness deadline out.
func (s *Session) touch() {
	now := time.Now()
	s.lastSeen.Store(now.UnixNano())
	if err := s.conn.SetReadDeadline(now.Add(s.cfg.PongTimeout)); err != nil && !isExpectedCloseError(err) {
		gamelog.Debugf("Error setting read deadline for %s: %v", s.id, err)
	}
}

// setupReadConnection arms the liveness deadline and makes pings and pongs
// count as activity.
func (s *Session) setupReadConnection() {
	s.touch()
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})
	s.conn.SetPingHandler(func(data string) error {
		s.touch()
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.cfg.WriteWait))
		if err == nil || errors.Is(err, websocket.ErrCloseSent) || isExpectedCloseError(err) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})
}

// logReadError reports why the read loop ended.
func (s *Session) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		gamelog.Warnf("Session %s (%s) timed out after %s without traffic", s.id, s.addr, time.Since(s.LastSeen()).Round(time.Millisecond))
	case errors.Is(err, websocket.ErrReadLimit):
		gamelog.Warnf("Frame from %s exceeded maximum size of %d bytes", s.id, s.cfg.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		gamelog.Infof("Session %s (%s) closed by client", s.id, s.addr)
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err):
		gamelog.Infof("Session %s (%s) connection closed: %v", s.id, s.addr, err)
	default:
		gamelog.Warnf("WebSocket read error from %s (%s): %v", s.id, s.addr, err)
	}
}

// checkRateLimit reports whether another inbound frame may be processed.
func (s *Session) checkRateLimit() bool {
	if s.rateLimiter != nil && !s.rateLimiter.allow() {
		gamelog.Debugf("Rate limit exceeded for %s (%d frames per %s); discarding frame", s.id, s.cfg.RateLimit.Burst, s.cfg.RateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage forwards a well-formed movement frame to the hub. Anything
// else is dropped without telling the client.
func (s *Session) processMessage(raw []byte) {
	move, err := protocol.DecodeMove(raw)
	if err != nil {
		gamelog.Debugf("Dropping frame from %s: %v", s.id, err)
		return
	}
	if !s.hub.SubmitIntent(s.id, move) {
		gamelog.Debugf("Intent queue full; dropping move from %s", s.id)
	}
}

func (s *Session) readPump() {
	defer func() {
		if r := recover(); r != nil {
			gamelog.Errorf("Recovered from panic in read pump for %s: %v\n%s", s.id, r, debug.Stack())
		}
		s.hub.Unregister(s.id)
		s.closeConnection()
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		s.touch()

		if !s.checkRateLimit() {
			continue
		}

		s.processMessage(raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		if r := recover(); r != nil {
			gamelog.Errorf("Recovered from panic in write pump for %s: %v\n%s", s.id, r, debug.Stack())
		}
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame, ok := <-s.send:
		if !ok {
			s.writeCloseMessage(websocket.CloseNormalClosure, "")
			return false
		}
		return s.writeTextMessage(frame)
	case frame := <-s.terminal:
		if s.writeTextMessage(frame) {
			s.writeCloseMessage(websocket.CloseNormalClosure, protocol.MsgGameOver)
		}
		return false
	case <-ticker.C:
		return s.writePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			gamelog.Debugf("Error closing connection for %s: %v", s.id, err)
		}
	}
}

// writeCloseMessage sends a close frame to the client
func (s *Session) writeCloseMessage(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteWait)); err != nil {
		if !isExpectedCloseError(err) {
			gamelog.Debugf("Error writing close message to %s: %v", s.id, err)
		}
	}
}

// writeTextMessage writes one frame and returns false if the connection is unusable
func (s *Session) writeTextMessage(frame []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		gamelog.Debugf("Error setting write deadline for %s: %v", s.id, err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			gamelog.Infof("Error writing to %s: %v", s.id, err)
		}
		return false
	}
	return true
}

// writePing sends a liveness probe
func (s *Session) writePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		gamelog.Debugf("Error setting write deadline for ping to %s: %v", s.id, err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			gamelog.Infof("Error writing ping to %s: %v", s.id, err)
		}
		return false
	}
	return true
}
