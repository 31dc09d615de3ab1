package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sharedworld.ai/internal/discovery"
	"sharedworld.ai/internal/observerproto"
	"sharedworld.ai/internal/sim/command"
	"sharedworld.ai/internal/sim/coordinator"
	"sharedworld.ai/internal/sim/world"
)

func newTestServer(t *testing.T) (*coordinator.Coordinator, *world.World, *Server, *httptest.Server) {
	t.Helper()
	w := world.New(world.Config{}, nil)
	c := coordinator.New(coordinator.Config{ReplayWindow: 4}, w, discovery.NewDirectory[coordinator.AgentHandle](), nil)
	s := NewServer(c, nil)
	c.SetStepLogger(s)
	mux := http.NewServeMux()
	s.Register(mux)
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return c, w, s, hs
}

func TestHistoryHandler(t *testing.T) {
	c, w, _, hs := newTestServer(t)
	ctx := context.Background()
	c.Step(ctx)
	w.AddObject("cup", command.Pose{X: 1})
	c.Step(ctx)

	resp, err := http.Get(hs.URL + "/v1/history?since=0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var h observerproto.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Step != 1 || len(h.Commands) != 1 || h.Commands[0].Kind != command.EntityAdded {
		t.Fatalf("history=%+v", h)
	}

	for _, q := range []string{"since=1", "since=99"} {
		resp, err := http.Get(hs.URL + "/v1/history?" + q)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("%s: status=%d", q, resp.StatusCode)
		}
	}

	resp2, err := http.Get(hs.URL + "/v1/history?since=abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad since: status=%d", resp2.StatusCode)
	}
}

func TestHistoryHandler_PrunedWindowFallsBackToSnapshot(t *testing.T) {
	c, w, _, hs := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		w.AddObject("obj", command.Pose{X: float64(i)})
		c.Step(ctx)
	}
	resp, err := http.Get(hs.URL + "/v1/history?since=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	resp, err = http.Get(hs.URL + "/v1/snapshot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var snap observerproto.SnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Steps != 8 || len(snap.State.Entities) != 8 {
		t.Fatalf("snapshot steps=%d entities=%d", snap.Steps, len(snap.State.Entities))
	}
}

func TestResetHandler(t *testing.T) {
	_, _, _, hs := newTestServer(t)
	resp, err := http.Get(hs.URL + "/admin/v1/reset")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET reset status=%d", resp.StatusCode)
	}
	resp, err = http.Post(hs.URL+"/admin/v1/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST reset status=%d", resp.StatusCode)
	}
}

func TestWSHandler_StreamsSteps(t *testing.T) {
	c, w, s, hs := newTestServer(t)
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/admin/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, IncludeCommands: true}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.subs)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w.AddObject("cup", command.Pose{})
	c.Step(context.Background())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg observerproto.StepMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "STEP" || msg.Step != 0 || len(msg.Commands) != 1 {
		t.Fatalf("step msg=%+v", msg)
	}
}
