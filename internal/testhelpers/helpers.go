// Package testhelpers provides common utilities for testing the arena server.
//
// It contains reusable helpers shared by package tests: dialing the game
// socket, sending movement frames, reading snapshots, and asserting HTTP
// response properties.
package testhelpers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Tyrowin/blobarena/internal/protocol"
	"github.com/Tyrowin/blobarena/internal/world"
)

// TestOrigin is the Origin header test clients present.
const TestOrigin = "http://localhost:8080"

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// WebSocketURL turns an httptest server URL into its game socket URL.
func WebSocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// ConnectWebSocket dials the game socket with the test origin.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MustConnect dials the game socket and closes it when the test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(url)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendMove sends a movement frame.
func SendMove(conn *websocket.Conn, x, y float64) error {
	b, err := protocol.EncodeMove(protocol.Move{X: x, Y: y})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// ReadFrame reads one data frame, failing after timeout.
func ReadFrame(conn *websocket.Conn, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, b, err := conn.ReadMessage()
	return b, err
}

// ReadSnapshot reads the next frame and decodes it as a snapshot.
func ReadSnapshot(conn *websocket.Conn, timeout time.Duration) (world.Snapshot, error) {
	b, err := ReadFrame(conn, timeout)
	if err != nil {
		return world.Snapshot{}, err
	}
	if protocol.IsGameOver(b) {
		return world.Snapshot{}, errors.New("received game over while waiting for snapshot")
	}
	return protocol.DecodeSnapshot(b)
}

// WaitFor polls cond until it holds or the timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %s waiting for %s", timeout, what)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
