package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sharedworld.ai/internal/agent/join"
	"sharedworld.ai/internal/discovery"
	"sharedworld.ai/internal/protocol"
	"sharedworld.ai/internal/sim/command"
)

// Handler is the agent-side target of coordinator calls.
type Handler interface {
	Welcome(ctx context.Context, msg protocol.WelcomeMsg) error
	Advance(ctx context.Context, step uint64, general, private []command.Command) (bool, error)
	ApplyNow(ctx context.Context, cmds []command.Command) error
	Ping(ctx context.Context) error
}

// Client is the agent end of a coordinator connection. Coordinator requests
// are handed to the Handler one at a time, in the order they arrived.
type Client struct {
	peer    *peer
	handler Handler
	log     *log.Logger

	inbox chan []byte
}

func Dial(ctx context.Context, url string, h Handler, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.DialContext(ctx, url, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		peer:    newPeer(conn, 64, logger),
		handler: h,
		log:     logger,
		inbox:   make(chan []byte, 1024),
	}
	go c.readLoop()
	go c.serve()
	return c, nil
}

// Announce sends HELLO and waits for the coordinator to queue the agent.
func (c *Client) Announce(ctx context.Context, name string) error {
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ID: uuid.NewString(), AgentName: name}
	ack, err := c.peer.call(ctx, hello.ID, hello)
	if err != nil {
		return err
	}
	return ackError(ack)
}

func (c *Client) Intent(ctx context.Context, in protocol.IntentMsg) (protocol.AckMsg, error) {
	in.Type = protocol.TypeIntent
	in.ProtocolVersion = protocol.Version
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	return c.peer.call(ctx, in.ID, in)
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.peer.done() }

func (c *Client) Close() { c.peer.close() }

func (c *Client) readLoop() {
	defer c.peer.close()
	for {
		msg, err := c.peer.read()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if base.Type == protocol.TypeAck {
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err == nil {
				c.peer.resolve(ack)
			}
			continue
		}
		select {
		case c.inbox <- msg:
		case <-c.peer.done():
			return
		}
	}
}

func (c *Client) serve() {
	for {
		select {
		case <-c.peer.done():
			return
		case msg := <-c.inbox:
			c.handle(msg)
		}
	}
}

func (c *Client) handle(msg []byte) {
	ctx := c.peer.ctx
	base, _ := protocol.DecodeBase(msg)
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			_ = c.peer.send(ctx, protocol.NewReject(base.ID, protocol.ErrProtoBadRequest, "bad WELCOME"))
			return
		}
		c.reply(ctx, base.ID, c.handler.Welcome(ctx, w), false)
	case protocol.TypeAdvance:
		var a protocol.AdvanceMsg
		if err := json.Unmarshal(msg, &a); err != nil {
			_ = c.peer.send(ctx, protocol.NewReject(base.ID, protocol.ErrProtoBadRequest, "bad ADVANCE"))
			return
		}
		moved, err := c.handler.Advance(ctx, a.Step, a.General, a.Private)
		c.reply(ctx, base.ID, err, moved)
	case protocol.TypeApply:
		var a protocol.ApplyMsg
		if err := json.Unmarshal(msg, &a); err != nil {
			c.log.Printf("bad APPLY: %v", err)
			return
		}
		if err := c.handler.ApplyNow(ctx, a.Commands); err != nil {
			c.log.Printf("apply: %v", err)
		}
	case protocol.TypePing:
		c.reply(ctx, base.ID, c.handler.Ping(ctx), false)
	default:
		_ = c.peer.send(ctx, protocol.NewReject(base.ID, protocol.ErrProtoBadRequest, "unexpected "+base.Type))
	}
}

func (c *Client) reply(ctx context.Context, id string, err error, moved bool) {
	if err != nil {
		_ = c.peer.send(ctx, protocol.NewReject(id, protocol.ErrInternal, err.Error()))
		return
	}
	ack := protocol.NewAck(id, true)
	ack.Moved = moved
	_ = c.peer.send(ctx, ack)
}

// Dialer resolves coordinator names to fresh connections. It implements
// join.Resolver and forwards intents over the newest connection.
type Dialer struct {
	Peers   *discovery.StaticResolver
	Handler Handler
	Log     *log.Logger

	mu      sync.Mutex
	current *Client
}

func (d *Dialer) Resolve(ctx context.Context, name string) (join.Coordinator, error) {
	url, err := d.Peers.ResolveURL(ctx, name)
	if err != nil {
		return nil, err
	}
	c, err := Dial(ctx, url, d.Handler, d.Log)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	prev := d.current
	d.current = c
	d.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return c, nil
}

// Client returns the newest connection, or nil.
func (d *Dialer) Client() *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Dialer) Intent(ctx context.Context, in protocol.IntentMsg) (protocol.AckMsg, error) {
	c := d.Client()
	if c == nil {
		return protocol.AckMsg{}, ErrDisconnected
	}
	return c.Intent(ctx, in)
}
