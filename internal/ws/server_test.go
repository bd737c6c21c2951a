package ws

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/peerbridge/peer-app/internal/protocol"
)

// pipeConn builds a server-side Connection over net.Pipe and returns the
// client end for driving it.
func pipeConn(t *testing.T, s *Server) (*Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	c := s.registerConn(server)
	t.Cleanup(func() {
		client.Close()
	})
	return c, client
}

func TestReadLoop_DeliversTextFrames(t *testing.T) {
	received := make(chan []byte, 1)
	s := NewServer(DefaultServerConfig(), func(conn *Connection, data []byte) {
		received <- data
	})

	_, client := pipeConn(t, s)

	if err := wsutil.WriteClientText(client, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `{"type":"ping"}` {
			t.Fatalf("unexpected payload: %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("message was not delivered to onMessage")
	}
}

func TestReadLoop_DisconnectFiresCallbackOnce(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)

	gone := make(chan string, 2)
	s.SetOnDisconnect(func(connID string) { gone <- connID })

	c, client := pipeConn(t, s)
	client.Close()

	select {
	case id := <-gone:
		if id != c.ID {
			t.Fatalf("expected disconnect for %s, got %s", c.ID, id)
		}
	case <-time.After(time.Second):
		t.Fatal("disconnect callback never fired")
	}

	// A second removal must not fire the callback again.
	s.RemoveConnection(c)
	select {
	case <-gone:
		t.Fatal("disconnect callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}

	if s.Connections().Count() != 0 {
		t.Fatalf("expected 0 connections, got %d", s.Connections().Count())
	}
}

func TestWriteMessage_TimesOutWhenClientStopsReading(t *testing.T) {
	config := DefaultServerConfig()
	config.WriteTimeout = 50 * time.Millisecond
	s := NewServer(config, nil)

	c, _ := pipeConn(t, s) // client end is never read from

	done := make(chan error, 1)
	go func() {
		done <- c.WriteMessage([]byte(`{"type":"pong"}`))
	}()

	select {
	case err := <-done:
		var nerr net.Error
		if err == nil {
			t.Fatal("write to a stalled client should fail")
		}
		if !errors.As(err, &nerr) || !nerr.Timeout() {
			t.Fatalf("expected a timeout error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write to a stalled client never returned")
	}
}

func TestReadLoop_RefreshesActivity(t *testing.T) {
	s := NewServer(DefaultServerConfig(), func(conn *Connection, data []byte) {})

	c, client := pipeConn(t, s)
	start := c.LastActive()
	time.Sleep(10 * time.Millisecond)

	if err := wsutil.WriteClientText(client, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !c.LastActive().After(start) {
		if time.Now().After(deadline) {
			t.Fatal("activity timestamp was not refreshed by an inbound frame")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcher_PongAndErrors(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)
	d := NewMessageDispatcher()

	c, client := pipeConn(t, s)

	read := func() map[string]interface{} {
		t.Helper()
		type result struct {
			data []byte
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			data, err := wsutil.ReadServerText(client)
			ch <- result{data, err}
		}()
		select {
		case r := <-ch:
			if r.err != nil {
				t.Fatalf("client read failed: %v", r.err)
			}
			var m map[string]interface{}
			if err := json.Unmarshal(r.data, &m); err != nil {
				t.Fatalf("invalid JSON from server: %v", err)
			}
			return m
		case <-time.After(time.Second):
			t.Fatal("no frame from server")
			return nil
		}
	}

	go d.Dispatch(c, []byte(`{"type":"ping"}`))
	if msg := read(); msg["type"] != protocol.TypePong {
		t.Fatalf("expected pong, got %v", msg["type"])
	}

	go d.Dispatch(c, []byte(`not json`))
	if msg := read(); msg["type"] != protocol.TypeError || msg["code"] != "parse_error" {
		t.Fatalf("expected parse_error, got %v", msg)
	}

	go d.Dispatch(c, []byte(`{"type":"message","room_id":"r","text":"hi"}`))
	if msg := read(); msg["code"] != "unsupported_type" {
		t.Fatalf("expected unsupported_type for unregistered handler, got %v", msg)
	}
}

func TestDispatcher_RoutesToHandler(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)
	d := NewMessageDispatcher()

	got := make(chan protocol.JoinRoomMsg, 1)
	d.Register(protocol.TypeJoinRoom, func(conn *Connection, msg interface{}) {
		got <- msg.(protocol.JoinRoomMsg)
	})

	c, _ := pipeConn(t, s)
	d.Dispatch(c, []byte(`{"type":"join_room","room_id":"room-42"}`))

	select {
	case m := <-got:
		if m.RoomID != "room-42" {
			t.Fatalf("expected room-42, got %s", m.RoomID)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}
