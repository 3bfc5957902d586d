package relay

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tutorlink/rtc/internal/signaling"
)

func newTestRelay(t *testing.T) *httptest.Server {
	t.Helper()
	s := New(zerolog.Nop())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		srv.Close()
		s.Stop()
	})
	return srv
}

func dialAs(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	u := fmt.Sprintf("ws%s/ws?user=%s", strings.TrimPrefix(srv.URL, "http"), user)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", user, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readOne(t *testing.T, conn *websocket.Conn) signaling.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m signaling.Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestForwardByRecipient(t *testing.T) {
	srv := newTestRelay(t)
	alice := dialAs(t, srv, "alice")
	bob := dialAs(t, srv, "bob")

	msg := signaling.New(signaling.MsgCallRequest, "alice", "bob", "s1")
	msg.CallerName = "Alice"
	if err := alice.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readOne(t, bob)
	if got.Type != signaling.MsgCallRequest || got.From != "alice" || got.CallerName != "Alice" {
		t.Fatalf("bob received %+v", got)
	}
}

func TestUnknownRecipientDropped(t *testing.T) {
	srv := newTestRelay(t)
	alice := dialAs(t, srv, "alice")
	bob := dialAs(t, srv, "bob")

	if err := alice.WriteJSON(signaling.New(signaling.MsgChat, "alice", "nobody", "s1")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The relay must stay healthy: a follow-up to a live peer still lands.
	if err := alice.WriteJSON(signaling.New(signaling.MsgChat, "alice", "bob", "s1")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readOne(t, bob)
	if got.To != "bob" {
		t.Fatalf("bob received %+v", got)
	}
}

func TestMissingRecipientDropped(t *testing.T) {
	srv := newTestRelay(t)
	alice := dialAs(t, srv, "alice")
	bob := dialAs(t, srv, "bob")

	if err := alice.WriteJSON(signaling.Message{Type: signaling.MsgChat, From: "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := alice.WriteJSON(signaling.New(signaling.MsgChat, "alice", "bob", "s1")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := readOne(t, bob); got.SessionID != "s1" {
		t.Fatalf("bob received %+v", got)
	}
}

func TestRequiresUserParam(t *testing.T) {
	srv := newTestRelay(t)
	u := fmt.Sprintf("ws%s/ws", strings.TrimPrefix(srv.URL, "http"))
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("dial without user must fail")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("resp = %+v, want 400", resp)
	}
}

// A user reconnecting supersedes their old registration: traffic goes to
// the new connection.
func TestReconnectSupersedes(t *testing.T) {
	srv := newTestRelay(t)
	alice := dialAs(t, srv, "alice")
	dialAs(t, srv, "bob") // first bob, to be superseded
	bob2 := dialAs(t, srv, "bob")

	// Give the second registration a moment to land.
	time.Sleep(50 * time.Millisecond)

	if err := alice.WriteJSON(signaling.New(signaling.MsgChat, "alice", "bob", "s1")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := readOne(t, bob2); got.From != "alice" {
		t.Fatalf("new connection received %+v", got)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestRelay(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}
