package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sharedworld.ai/internal/discovery"
	"sharedworld.ai/internal/protocol"
	"sharedworld.ai/internal/sim/coordinator"
)

// Coordinator is what the server needs from the tick loop.
type Coordinator interface {
	Announce(name string)
	Remove(name string)
	Intent(agent string, in protocol.IntentMsg) protocol.AckMsg
}

type Server struct {
	coord Coordinator
	dir   *discovery.Directory[coordinator.AgentHandle]
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(c Coordinator, dir *discovery.Directory[coordinator.AgentHandle], logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		coord: c,
		dir:   dir,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		p := newPeer(conn, 64, s.log)
		defer p.close()

		agent := s.handshake(p)
		if agent == nil {
			return
		}
		defer func() {
			// Remove is queued before the name is freed so that a reconnect under
			// the same name is always admitted after this departure.
			s.coord.Remove(agent.name)
			s.dir.Unregister(agent.name)
			s.log.Printf("agent %s disconnected", agent.name)
		}()
		s.coord.Announce(agent.name)

		// Intents are applied off the reader goroutine: an immediate push may
		// target this very connection and its ACK arrives through the reader.
		intents := make(chan protocol.IntentMsg, 64)
		go func() {
			for {
				select {
				case <-p.done():
					return
				case in := <-intents:
					ack := s.coord.Intent(agent.name, in)
					_ = p.send(context.Background(), ack)
				}
			}
		}()

		for {
			msg, err := p.read()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
				_ = p.send(context.Background(), protocol.NewReject(base.ID, protocol.ErrProtoVersion, "bad protocol_version"))
				continue
			}
			switch base.Type {
			case protocol.TypeAck:
				var ack protocol.AckMsg
				if err := json.Unmarshal(msg, &ack); err != nil {
					continue
				}
				p.resolve(ack)
			case protocol.TypeIntent:
				var in protocol.IntentMsg
				if err := json.Unmarshal(msg, &in); err != nil {
					_ = p.send(context.Background(), protocol.NewReject(base.ID, protocol.ErrProtoBadRequest, "bad INTENT"))
					continue
				}
				select {
				case intents <- in:
				case <-p.done():
					return
				}
			default:
				_ = p.send(context.Background(), protocol.NewReject(base.ID, protocol.ErrProtoBadRequest, "unexpected "+base.Type))
			}
		}
	}
}

// Kick closes the connection of a remote agent. The handler's cleanup then
// frees the name, so the agent can dial again and rejoin. It reports whether
// name was a connected remote agent.
func (s *Server) Kick(name string) bool {
	h, err := s.dir.Resolve(context.Background(), name)
	if err != nil {
		return false
	}
	a, ok := h.(*RemoteAgent)
	if !ok {
		return false
	}
	a.peer.disconnect()
	s.log.Printf("agent %s kicked", name)
	return true
}

func (s *Server) handshake(p *peer) *RemoteAgent {
	_ = p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := p.conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if hello.AgentName == "" {
		p.finish(protocol.NewReject(hello.ID, protocol.ErrBadRequest, "missing agent_name"))
		return nil
	}

	agent := &RemoteAgent{name: hello.AgentName, peer: p}
	if err := s.dir.Register(agent.name, agent); err != nil {
		code := protocol.ErrInternal
		if errors.Is(err, discovery.ErrNameUsed) {
			code = protocol.ErrNameInUse
		}
		p.finish(protocol.NewReject(hello.ID, code, err.Error()))
		return nil
	}
	if err := p.send(context.Background(), protocol.NewAck(hello.ID, true)); err != nil {
		s.dir.Unregister(agent.name)
		return nil
	}
	s.log.Printf("agent %s connected", agent.name)
	return agent
}
