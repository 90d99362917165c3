package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{}

// fakeRealtime upgrades /realtime/v1/websocket, records the join frame,
// and hands the connection to the test.
func fakeRealtime(t *testing.T, onConn func(conn *websocket.Conn, joined frame)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !strings.HasSuffix(req.URL.Path, "/realtime/v1/websocket") {
			http.NotFound(w, req)
			return
		}
		if got := req.URL.Query().Get("apikey"); got != "test-key" {
			t.Errorf("apikey = %q, want test-key", got)
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		var join frame
		if err := conn.ReadJSON(&join); err != nil {
			t.Errorf("read join: %v", err)
			return
		}
		if join.Event != "phx_join" {
			t.Errorf("first event = %q, want phx_join", join.Event)
		}
		reply := frame{Topic: join.Topic, Event: "phx_reply", Ref: join.Ref, Payload: json.RawMessage(`{"status":"ok"}`)}
		_ = conn.WriteJSON(reply)
		onConn(conn, join)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-key", zap.NewNop())
}

func sendInsert(t *testing.T, conn *websocket.Conn, topic string, msg Message) {
	t.Helper()
	payload, err := json.Marshal(insertPayload{Record: msg})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(frame{Topic: topic, Event: "INSERT", Payload: payload}); err != nil {
		t.Fatal(err)
	}
}

func TestSubscribeDeliversInserts(t *testing.T) {
	c := fakeRealtime(t, func(conn *websocket.Conn, joined frame) {
		want := "realtime:public:messages:chat_id=eq.c1"
		if joined.Topic != want {
			t.Errorf("topic = %q, want %q", joined.Topic, want)
		}
		sendInsert(t, conn, joined.Topic, Message{
			ID: "m1", ChatID: "c1", SenderID: "u2", Content: "hi",
			CreatedAt: time.Now().UTC(),
		})
	})

	sub, err := c.Subscribe(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	select {
	case msg := <-sub.Events():
		if msg.ID != "m1" || msg.Content != "hi" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for insert event")
	}
}

func TestSubscribeIgnoresOtherTopics(t *testing.T) {
	c := fakeRealtime(t, func(conn *websocket.Conn, joined frame) {
		// An event for a different chat's topic must not be delivered.
		sendInsert(t, conn, "realtime:public:messages:chat_id=eq.c9", Message{ID: "m-other", ChatID: "c9"})
		sendInsert(t, conn, joined.Topic, Message{ID: "m1", ChatID: "c1"})
	})

	sub, err := c.Subscribe(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	select {
	case msg := <-sub.Events():
		if msg.ID != "m1" {
			t.Errorf("got message %q, want m1", msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for insert event")
	}
}

func TestSubscriptionClose(t *testing.T) {
	done := make(chan struct{})
	c := fakeRealtime(t, func(conn *websocket.Conn, joined frame) {
		// Hold the connection open until the test finishes.
		<-done
		_ = conn.Close()
	})
	defer close(done)

	sub, err := c.Subscribe(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	sub.Close()
	// Safe to call twice.
	sub.Close()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("unexpected event after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel did not close after Close")
	}
}
