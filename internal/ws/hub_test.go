package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/noisemap/noisemap/internal/pipeline"
	"go.uber.org/zap/zaptest"
)

func readUpdate(t *testing.T, ctx context.Context, c *websocket.Conn) pipeline.Update {
	t.Helper()
	typ, data, err := c.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("frame type %v", typ)
	}
	var u pipeline.Update
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatal(err)
	}
	return u
}

func TestHubBroadcastsProgress(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.OnProgress(pipeline.Update{Fraction: 0.25, CellsDone: 1, CellsTotal: 4})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	// late joiner gets the latest frame first
	if u := readUpdate(t, ctx, c); u.Fraction != 0.25 || u.CellsTotal != 4 {
		t.Fatalf("first frame %+v", u)
	}
	hub.OnProgress(pipeline.Update{Fraction: 1, CellsDone: 4, CellsTotal: 4, Done: true})
	if u := readUpdate(t, ctx, c); !u.Done || u.CellsDone != 4 {
		t.Fatalf("final frame %+v", u)
	}
	if hub.Clients() != 1 {
		t.Fatalf("%d clients", hub.Clients())
	}
}

func TestHubWithoutClients(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	hub.OnProgress(pipeline.Update{Fraction: 0.5})
	if hub.Clients() != 0 {
		t.Fatal("phantom client")
	}
	hub.Close()
}

func TestBroadcastDoesNotWaitForSlowClients(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	// Nobody drains these clients, as if their writes were stalled.
	stalled := []*client{hub.add(nil), hub.add(nil)}

	start := time.Now()
	for i := 1; i <= 100; i++ {
		hub.OnProgress(pipeline.Update{CellsDone: int64(i), CellsTotal: 100})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("broadcast took %v", elapsed)
	}
	for _, c := range stalled {
		var u pipeline.Update
		if err := json.Unmarshal(<-c.send, &u); err != nil {
			t.Fatal(err)
		}
		if u.CellsDone != 100 {
			t.Fatalf("pending frame is update %d, want the latest", u.CellsDone)
		}
		select {
		case <-c.send:
			t.Fatal("more than one pending frame")
		default:
		}
	}
}
