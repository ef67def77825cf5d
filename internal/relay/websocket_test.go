package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/park285/jstockfish-go/internal/chess/output"
)

// sink accepts one connection and forwards every text frame to lines.
func sink(t *testing.T) (string, <-chan string) {
	t.Helper()
	lines := make(chan string, 256)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusInternalError, "")
		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				close(lines)
				return
			}
			if typ == websocket.MessageText {
				lines <- string(data)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), lines
}

func TestRelayPreservesOrder(t *testing.T) {
	url, lines := sink(t)
	ws, err := Dial(context.Background(), url, Options{QueueSize: 4})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var l output.Listener = ws
	const n = 50
	for i := 0; i < n; i++ {
		l.OnOutput(fmt.Sprintf("info depth %d", i))
	}
	l.OnOutput("bestmove e2e4 ponder e7e5")
	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < n+1 {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("connection closed after %d lines", len(got))
			}
			got = append(got, line)
		case <-timeout:
			t.Fatalf("received %d of %d lines", len(got), n+1)
		}
	}
	for i := 0; i < n; i++ {
		if want := fmt.Sprintf("info depth %d", i); got[i] != want {
			t.Fatalf("line %d: got %q want %q", i, got[i], want)
		}
	}
	if got[n] != "bestmove e2e4 ponder e7e5" {
		t.Fatalf("last line %q", got[n])
	}
}

func TestRelayDropsAfterClose(t *testing.T) {
	url, lines := sink(t)
	ws, err := Dial(context.Background(), url, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ws.OnOutput("readyok")
	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ws.OnOutput("late")
	if err := ws.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	if len(got) != 1 || got[0] != "readyok" {
		t.Fatalf("got %v", got)
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1/relay", Options{}); err == nil {
		t.Fatalf("expected dial error")
	}
}
