package server

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/Tyrowin/blobarena/internal/gamelog"
	"github.com/Tyrowin/blobarena/internal/protocol"
	"github.com/Tyrowin/blobarena/internal/world"
)

const leaderboardSize = 10

// ErrHubStopped is returned when a request reaches a hub that has shut down.
var ErrHubStopped = errors.New("hub stopped")

// Hub owns the world and the session registry. Its Run goroutine is the only
// code that touches either; sessions talk to it through channels.
type Hub struct {
	cfg      Config
	world    *world.World
	registry *Registry
	pending  map[string]protocol.Move

	register   chan Sink
	unregister chan string
	intents    chan Intent
	queries    chan func()

	upgrader websocket.Upgrader

	tick     atomic.Uint64
	players  atomic.Int64
	sessions atomic.Int64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub for the given world. A nil world gets a fresh one.
func NewHub(cfg Config, w *world.World) *Hub {
	cfg = sanitizeConfig(cfg)
	if w == nil {
		w = world.New()
	}
	origins := newOriginPolicy(cfg.AllowedOrigins)
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		world:      w,
		registry:   NewRegistry(),
		pending:    make(map[string]protocol.Move),
		register:   make(chan Sink),
		unregister: make(chan string),
		intents:    make(chan Intent, cfg.IntentQueueSize),
		queries:    make(chan func()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Config returns the sanitized configuration the hub runs with.
func (h *Hub) Config() Config {
	return h.cfg
}

// Register hands a new session to the hub, which admits its player. It
// returns false if the hub is shutting down.
func (h *Hub) Register(s Sink) bool {
	select {
	case h.register <- s:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a session and its player. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	select {
	case h.unregister <- id:
	case <-h.ctx.Done():
	}
}

// SubmitIntent queues a movement request without blocking. It returns false
// when the queue is full and the intent was dropped.
func (h *Hub) SubmitIntent(id string, m protocol.Move) bool {
	select {
	case h.intents <- Intent{PlayerID: id, Move: m}:
		return true
	default:
		return false
	}
}

// Tick returns the number of ticks simulated so far.
func (h *Hub) Tick() uint64 {
	return h.tick.Load()
}

// PlayerCount returns the number of live players as of the last event.
func (h *Hub) PlayerCount() int {
	return int(h.players.Load())
}

// SessionCount returns the number of registered sessions as of the last event.
func (h *Hub) SessionCount() int {
	return int(h.sessions.Load())
}

// Stats collects a consistent view of the arena on the hub goroutine.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := h.exec(ctx, func() {
		st = Stats{
			Tick:     h.tick.Load(),
			Players:  len(h.world.Players),
			Sessions: h.registry.Len(),
			Food:     len(h.world.Food),
		}
		for _, p := range h.world.Players {
			st.Leaderboard = append(st.Leaderboard, LeaderboardEntry{ID: p.ID, Size: p.Size, Color: p.Color})
		}
		sort.Slice(st.Leaderboard, func(i, j int) bool {
			a, b := st.Leaderboard[i], st.Leaderboard[j]
			if a.Size != b.Size {
				return a.Size > b.Size
			}
			return a.ID < b.ID
		})
		if len(st.Leaderboard) > leaderboardSize {
			st.Leaderboard = st.Leaderboard[:leaderboardSize]
		}
	})
	if err != nil {
		// The hub may still be filling st.
		return Stats{}, err
	}
	return st, nil
}

// exec runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case h.queries <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the hub's main event loop: registration, unregistration, intent
// intake and the fixed-rate simulation tick. It should be called in its own
// goroutine and returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.TickInterval)
	defer ticker.Stop()

	gamelog.Infof("Hub running: tick every %s, %d food pellets", h.cfg.TickInterval, len(h.world.Food))

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSessions()
			return

		case s := <-h.register:
			h.safely("register", func() { h.handleRegister(s) })

		case id := <-h.unregister:
			h.safely("unregister", func() { h.handleUnregister(id) })

		case in := <-h.intents:
			// Intents are absolute targets, so only the latest per player matters.
			h.pending[in.PlayerID] = in.Move

		case fn := <-h.queries:
			h.safely("query", fn)

		case <-ticker.C:
			h.safely("tick", h.step)
		}
	}
}

// safely runs fn, containing any panic to this one event.
func (h *Hub) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			gamelog.Errorf("Recovered from panic in hub %s at tick %d: %v\n%s", what, h.tick.Load(), r, debug.Stack())
		}
	}()
	fn()
}

func (h *Hub) handleRegister(s Sink) {
	if s == nil {
		gamelog.Warnf("Received nil session registration; skipping")
		return
	}
	if !h.registry.Add(s) {
		gamelog.Errorf("Session %s already registered; closing duplicate", s.ID())
		abort(s)
		return
	}
	if _, err := h.world.AdmitPlayer(s.ID()); err != nil {
		gamelog.Errorf("Cannot admit player: %v", err)
		h.registry.Remove(s.ID())
		abort(s)
		return
	}
	// Pumps must be tracked here, on the hub goroutine: Shutdown only waits on
	// the WaitGroup after Run has returned.
	if p, ok := s.(pumped); ok {
		p.start()
	}
	h.publishCounts()
	gamelog.Infof("Session %s registered. Total sessions: %d", s.ID(), h.registry.Len())
}

func (h *Hub) handleUnregister(id string) {
	delete(h.pending, id)
	s, ok := h.registry.Remove(id)
	if ok {
		s.Close()
	}
	removed := h.world.RemovePlayer(id)
	h.publishCounts()
	if ok || removed {
		gamelog.Infof("Session %s unregistered. Total sessions: %d", id, h.registry.Len())
	}
}

// step runs one simulation tick.
func (h *Hub) step() {
	h.tick.Add(1)
	h.applyIntents()

	for _, k := range h.world.ResolveCombat() {
		h.eliminate(k)
	}

	h.broadcast()
	h.publishCounts()
}

func (h *Hub) applyIntents() {
	if len(h.pending) == 0 {
		return
	}
	defer clear(h.pending)
	ids := maps.Keys(h.pending)
	slices.Sort(ids)
	for _, id := range ids {
		m := h.pending[id]
		h.world.ApplyMovementIntent(id, m.X, m.Y)
	}
}

func (h *Hub) eliminate(k world.Kill) {
	delete(h.pending, k.EatenID)
	s, ok := h.registry.Remove(k.EatenID)
	if !ok {
		return
	}
	gamelog.Infof("Player %s was eaten by %s", k.EatenID, k.EaterID)
	s.Eliminate(protocol.GameOverFrame())
}

// broadcast encodes the world once and offers it to every session. Sessions
// whose buffers are full are dropped rather than allowed to slow the tick.
func (h *Hub) broadcast() {
	if h.registry.Len() == 0 {
		return
	}

	frame, err := protocol.EncodeSnapshot(h.world.Snapshot())
	if err != nil {
		gamelog.Errorf("Skipping broadcast at tick %d: %v", h.tick.Load(), err)
		return
	}

	var failed []Sink
	for _, s := range h.registry.Sinks() {
		if !s.Deliver(frame) {
			failed = append(failed, s)
		}
	}
	h.removeFailedSessions(failed)
}

func (h *Hub) removeFailedSessions(failed []Sink) {
	for _, s := range failed {
		id := s.ID()
		h.registry.Remove(id)
		h.world.RemovePlayer(id)
		delete(h.pending, id)
		s.Close()
		gamelog.Warnf("Session %s removed due to full send buffer", id)
	}
}

func (h *Hub) publishCounts() {
	h.players.Store(int64(len(h.world.Players)))
	h.sessions.Store(int64(h.registry.Len()))
}

// shutdownSessions closes every registered session.
func (h *Hub) shutdownSessions() {
	gamelog.Infof("Shutting down all sessions...")

	sinks := h.registry.Sinks()
	for _, s := range sinks {
		h.registry.Remove(s.ID())
		h.world.RemovePlayer(s.ID())
		s.Close()
	}
	h.publishCounts()

	gamelog.Infof("Closed %d sessions", len(sinks))
}

// track runs fn in a goroutine that Shutdown waits for.
func (h *Hub) track(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

// Shutdown stops the loop, closes all sessions and waits for their pumps to
// exit, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	gamelog.Infof("Initiating hub shutdown...")

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	h.cancel()
	select {
	case <-h.done:
	case <-deadline.C:
		gamelog.Warnf("Hub shutdown timeout reached before the loop stopped")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		gamelog.Infof("Hub shutdown completed successfully")
		return nil
	case <-deadline.C:
		gamelog.Warnf("Hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
