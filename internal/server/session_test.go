package server

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Tyrowin/blobarena/internal/protocol"
	"github.com/Tyrowin/blobarena/internal/testhelpers"
	"github.com/Tyrowin/blobarena/internal/world"
)

func newTestServer(t *testing.T, configure func(*Config)) (*Hub, string) {
	t.Helper()
	cfg := *NewConfig()
	cfg.AllowedOrigins = []string{testhelpers.TestOrigin}
	cfg.StaticDir = ""
	if configure != nil {
		configure(&cfg)
	}
	h := startHub(t, cfg)
	srv := httptest.NewServer(SetupRoutes(h))
	t.Cleanup(srv.Close)
	return h, srv.URL
}

// connectPlayer dials a new client and returns it with the id the hub gave it.
func connectPlayer(t *testing.T, h *Hub, url string) (*websocket.Conn, string) {
	t.Helper()
	var before []string
	mustExec(t, h, func() { before = h.registry.IDs() })

	conn := testhelpers.MustConnect(t, testhelpers.WebSocketURL(url))
	testhelpers.WaitFor(t, 2*time.Second, "session registration", func() bool {
		return h.SessionCount() == len(before)+1
	})

	var id string
	mustExec(t, h, func() {
		known := make(map[string]bool, len(before))
		for _, k := range before {
			known[k] = true
		}
		for _, k := range h.registry.IDs() {
			if !known[k] {
				id = k
			}
		}
	})
	if id == "" {
		t.Fatal("could not find the new session id")
	}
	return conn, id
}

func TestSessionReceivesSnapshots(t *testing.T) {
	_, url := newTestServer(t, nil)
	conn := testhelpers.MustConnect(t, testhelpers.WebSocketURL(url))

	snap, err := testhelpers.ReadSnapshot(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if len(snap.Players) != 1 {
		t.Fatalf("snapshot has %d players, want 1", len(snap.Players))
	}
	if len(snap.Food) != world.MaxFoodCount {
		t.Errorf("snapshot has %d food, want %d", len(snap.Food), world.MaxFoodCount)
	}
	for id, p := range snap.Players {
		if p.ID != id {
			t.Errorf("player keyed %s has id %s", id, p.ID)
		}
		if p.Size != world.PlayerStartSize {
			t.Errorf("new player size = %f, want %f", p.Size, world.PlayerStartSize)
		}
	}
}

func TestSessionMoveFrameMovesPlayer(t *testing.T) {
	h, url := newTestServer(t, func(c *Config) { c.TickInterval = time.Hour })
	conn, id := connectPlayer(t, h, url)

	mustExec(t, h, func() { place(h, id, 1500, 1500, 20) })
	if err := testhelpers.SendMove(conn, 1500, 0); err != nil {
		t.Fatalf("send move: %v", err)
	}
	testhelpers.WaitFor(t, 2*time.Second, "intent to reach the hub", func() bool {
		var ok bool
		mustExec(t, h, func() { _, ok = h.pending[id] })
		return ok
	})
	mustExec(t, h, h.step)

	snap, err := testhelpers.ReadSnapshot(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	p := snap.Players[id]
	want := 1500 - world.MaxStep(20)
	if p.X != 1500 || math.Abs(p.Y-want) > 1e-9 {
		t.Errorf("position = (%f, %f), want (1500, %f)", p.X, p.Y, want)
	}
}

func TestSessionDropsMalformedFrames(t *testing.T) {
	h, url := newTestServer(t, func(c *Config) { c.TickInterval = time.Hour })
	conn, id := connectPlayer(t, h, url)
	mustExec(t, h, func() { place(h, id, 1500, 1500, 20) })

	for _, raw := range []string{`{"x":"abc","y":5}`, `not json`, `[1,2]`, `{"x":1}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write %q: %v", raw, err)
		}
	}
	// Frames are read in order, so once the valid move is pending every
	// malformed frame has already been handled.
	if err := testhelpers.SendMove(conn, 3000, 1500); err != nil {
		t.Fatalf("send move: %v", err)
	}
	var pending protocol.Move
	testhelpers.WaitFor(t, 2*time.Second, "valid intent to reach the hub", func() bool {
		var ok bool
		mustExec(t, h, func() { pending, ok = h.pending[id] })
		return ok
	})
	if pending != (protocol.Move{X: 3000, Y: 1500}) {
		t.Errorf("pending intent = %+v, want the valid move", pending)
	}

	mustExec(t, h, h.step)
	snap, err := testhelpers.ReadSnapshot(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("connection should survive malformed frames: %v", err)
	}
	if p := snap.Players[id]; p.Y != 1500 || p.X <= 1500 {
		t.Errorf("position = (%f, %f), want movement toward x=3000 only", p.X, p.Y)
	}
}

func TestSessionTimesOutWithoutPong(t *testing.T) {
	h, url := newTestServer(t, func(c *Config) {
		c.TickInterval = time.Hour
		c.PingInterval = 50 * time.Millisecond
		c.PongTimeout = 250 * time.Millisecond
	})
	// The client never reads, so it never answers pings.
	connectPlayer(t, h, url)
	connected := time.Now()

	testhelpers.WaitFor(t, 3*time.Second, "silent session to be dropped", func() bool {
		return h.SessionCount() == 0 && h.PlayerCount() == 0
	})
	if elapsed := time.Since(connected); elapsed < 200*time.Millisecond {
		t.Errorf("session dropped after %s, before the pong timeout", elapsed)
	}
}

func TestSessionStaysAliveWhileAnsweringPings(t *testing.T) {
	h, url := newTestServer(t, func(c *Config) {
		c.TickInterval = time.Hour
		c.PingInterval = 50 * time.Millisecond
		c.PongTimeout = 250 * time.Millisecond
	})
	conn, _ := connectPlayer(t, h, url)

	// Reading lets the client answer pings with pongs.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(800 * time.Millisecond)
	if h.SessionCount() != 1 || h.PlayerCount() != 1 {
		t.Errorf("counts = %d sessions, %d players; want 1 and 1", h.SessionCount(), h.PlayerCount())
	}
}

func TestSessionEliminationSendsGameOverThenCloses(t *testing.T) {
	h, url := newTestServer(t, func(c *Config) { c.TickInterval = time.Hour })
	eaterConn, eater := connectPlayer(t, h, url)
	preyConn, prey := connectPlayer(t, h, url)

	mustExec(t, h, func() {
		place(h, eater, 1000, 1000, 30)
		place(h, prey, 1025, 1000, 20)
	})
	mustExec(t, h, h.step)

	frame, err := testhelpers.ReadFrame(preyConn, 2*time.Second)
	if err != nil {
		t.Fatalf("read terminal frame: %v", err)
	}
	if !protocol.IsGameOver(frame) {
		t.Fatalf("first frame after elimination = %s, want game over", frame)
	}
	_, err = testhelpers.ReadFrame(preyConn, 2*time.Second)
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("after game over got %v, want a normal close", err)
	}

	snap, err := testhelpers.ReadSnapshot(eaterConn, 2*time.Second)
	if err != nil {
		t.Fatalf("eater snapshot: %v", err)
	}
	if _, ok := snap.Players[prey]; ok {
		t.Error("eaten player still in snapshot")
	}
	if got := snap.Players[eater].Size; got != 40 {
		t.Errorf("eater size = %f, want 40", got)
	}
	testhelpers.WaitFor(t, 2*time.Second, "one session left", func() bool {
		return h.SessionCount() == 1 && h.PlayerCount() == 1
	})
}

func TestSessionClientCloseRemovesPlayer(t *testing.T) {
	h, url := newTestServer(t, nil)
	conn, id := connectPlayer(t, h, url)

	if err := testhelpers.CloseWebSocket(conn); err != nil {
		t.Fatalf("close: %v", err)
	}
	testhelpers.WaitFor(t, 2*time.Second, "player removal", func() bool {
		return h.SessionCount() == 0 && h.PlayerCount() == 0
	})

	other := testhelpers.MustConnect(t, testhelpers.WebSocketURL(url))
	snap, err := testhelpers.ReadSnapshot(other, 2*time.Second)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if _, ok := snap.Players[id]; ok {
		t.Error("closed player should not appear in later snapshots")
	}
}

func TestSessionRateLimitDropsExcessFrames(t *testing.T) {
	h, url := newTestServer(t, func(c *Config) {
		c.TickInterval = time.Hour
		c.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})
	conn, id := connectPlayer(t, h, url)
	mustExec(t, h, func() { place(h, id, 1500, 1500, 20) })

	for _, x := range []float64{1000, 2000, 2500} {
		if err := testhelpers.SendMove(conn, x, 1500); err != nil {
			t.Fatalf("send move: %v", err)
		}
	}
	testhelpers.WaitFor(t, 2*time.Second, "intent to reach the hub", func() bool {
		var m protocol.Move
		mustExec(t, h, func() { m = h.pending[id] })
		return m.X == 2000
	})

	// The third frame exceeds the burst and is ignored.
	time.Sleep(100 * time.Millisecond)
	mustExec(t, h, func() {
		if got := h.pending[id].X; got != 2000 {
			t.Errorf("pending target x = %f, want 2000", got)
		}
	})
	if h.SessionCount() != 1 {
		t.Error("rate limited session should stay connected")
	}
}

func TestSessionOversizedFrameClosesConnection(t *testing.T) {
	h, url := newTestServer(t, func(c *Config) { c.MaxMessageSize = 64 })
	conn, _ := connectPlayer(t, h, url)

	big := make([]byte, 1024)
	for i := range big {
		big[i] = 'a'
	}
	if err := conn.WriteMessage(websocket.TextMessage, big); err != nil {
		t.Fatalf("write: %v", err)
	}
	testhelpers.WaitFor(t, 2*time.Second, "oversized sender removal", func() bool {
		return h.SessionCount() == 0
	})
}

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	h, url := newTestServer(t, nil)

	headers := http.Header{}
	headers.Set("Origin", "http://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(testhelpers.WebSocketURL(url), headers)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err == nil {
		conn.Close()
		t.Fatal("dial with a foreign origin should fail")
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Errorf("dial error = %v, want bad handshake", err)
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 response, got %v", resp)
	}
	if h.SessionCount() != 0 {
		t.Error("rejected connection must not create a session")
	}
}

func TestHubShutdownClosesClientConnections(t *testing.T) {
	cfg := *NewConfig()
	cfg.AllowedOrigins = []string{testhelpers.TestOrigin}
	cfg.StaticDir = ""
	h := NewHub(cfg, nil)
	go h.Run()
	srv := httptest.NewServer(SetupRoutes(h))
	defer srv.Close()

	conn := testhelpers.MustConnect(t, testhelpers.WebSocketURL(srv.URL))
	testhelpers.WaitFor(t, 2*time.Second, "session registration", func() bool { return h.SessionCount() == 1 })

	if err := h.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for {
		_, err := testhelpers.ReadFrame(conn, 2*time.Second)
		if err == nil {
			continue
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("connection was not closed by shutdown")
		}
		break
	}
}

func TestSessionAcceptsMoveWithExtraFields(t *testing.T) {
	h, url := newTestServer(t, func(c *Config) { c.TickInterval = time.Hour })
	conn, id := connectPlayer(t, h, url)

	frame := `{"x":1600,"y":1500,"pad":"` + strings.Repeat("a", 600) + `"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
	testhelpers.WaitFor(t, 2*time.Second, "padded move to reach the hub", func() bool {
		var m protocol.Move
		var ok bool
		mustExec(t, h, func() { m, ok = h.pending[id] })
		return ok && m == protocol.Move{X: 1600, Y: 1500}
	})
	if h.SessionCount() != 1 || h.PlayerCount() != 1 {
		t.Errorf("counts = %d sessions, %d players; want 1 and 1", h.SessionCount(), h.PlayerCount())
	}
}

func TestHubShutdownWhileClientsConnect(t *testing.T) {
	cfg := *NewConfig()
	cfg.AllowedOrigins = []string{testhelpers.TestOrigin}
	cfg.StaticDir = ""
	h := NewHub(cfg, nil)
	go h.Run()
	srv := httptest.NewServer(SetupRoutes(h))
	defer srv.Close()

	stop := make(chan struct{})
	dialing := make(chan []*websocket.Conn)
	go func() {
		var conns []*websocket.Conn
		defer func() { dialing <- conns }()
		for {
			select {
			case <-stop:
				return
			default:
			}
			conn, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(srv.URL))
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()

	time.Sleep(30 * time.Millisecond)
	if err := h.Shutdown(2 * time.Second); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	close(stop)
	for _, conn := range <-dialing {
		_ = conn.Close()
	}
	if h.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d after shutdown, want 0", h.SessionCount())
	}
}
