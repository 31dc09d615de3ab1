package observer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"sharedworld.ai/internal/observerproto"
	"sharedworld.ai/internal/sim/command"
	"sharedworld.ai/internal/sim/coordinator"
)

// Source is the read side of the coordinator.
type Source interface {
	History(since uint64) (uint64, []command.Command, bool)
	Snapshot() (uint64, command.WorldState)
	Names() []string
	Metrics() coordinator.Metrics
	Reset() bool
}

type subscriber struct {
	out      chan []byte
	commands bool
}

// Server exposes read-only views of the world over HTTP and streams committed
// steps to websocket observers. It is also a coordinator.StepLogger.
type Server struct {
	src Source
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]*subscriber
}

func NewServer(src Source, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		src: src,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[uint64]*subscriber{},
	}
}

// Register mounts every observer route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/history", s.HistoryHandler())
	mux.HandleFunc("/v1/snapshot", s.SnapshotHandler())
	mux.HandleFunc("/admin/v1/state", s.StateHandler())
	mux.HandleFunc("/admin/v1/reset", s.ResetHandler())
	mux.HandleFunc("/admin/v1/observer/ws", s.WSHandler())
}

// HistoryHandler answers GET /v1/history?since=N with the broadcast commands
// committed after step N, or 204 when the caller is current or fell out of
// the retained window.
func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		since, err := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
		if err != nil {
			http.Error(rw, "since must be a step number", http.StatusBadRequest)
			return
		}
		step, cmds, ok := s.src.History(since)
		if !ok {
			rw.WriteHeader(http.StatusNoContent)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(observerproto.HistoryResponse{
			ProtocolVersion: observerproto.Version,
			Since:           since,
			Step:            step,
			Commands:        cmds,
		})
	}
}

func (s *Server) SnapshotHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		steps, state := s.src.Snapshot()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(observerproto.SnapshotResponse{
			ProtocolVersion: observerproto.Version,
			Steps:           steps,
			Agents:          s.src.Names(),
			State:           state,
		})
	}
}

func (s *Server) StateHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.src.Metrics())
	}
}

func (s *Server) ResetHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ok := s.src.Reset()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": ok})
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		id := s.nextID.Add(1)
		out := make(chan []byte, 64)
		s.mu.Lock()
		s.subs[id] = &subscriber{out: out, commands: sub.IncludeCommands}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: only used to notice the client going away.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// WriteStep fans a committed step out to every subscriber. Slow subscribers
// lose their oldest queued step.
func (s *Server) WriteStep(rep coordinator.StepReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return nil
	}
	msg := observerproto.StepMsg{
		Type:            "STEP",
		ProtocolVersion: observerproto.Version,
		Step:            rep.Step,
		Admitted:        rep.Admitted,
		Departed:        rep.Departed,
		Advanced:        rep.Advanced,
		Failed:          rep.Failed,
		Moved:           rep.Moved,
		DurationMS:      float64(rep.Duration.Microseconds()) / 1000,
	}
	plain, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var full []byte
	for _, sub := range s.subs {
		b := plain
		if sub.commands {
			if full == nil {
				msg.Commands = rep.Broadcast
				if full, err = json.Marshal(msg); err != nil {
					return err
				}
			}
			b = full
		}
		sendLatest(sub.out, b)
	}
	return nil
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
