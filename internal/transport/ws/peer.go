package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sharedworld.ai/internal/protocol"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

var ErrDisconnected = errors.New("ws: disconnected")

// peer is one websocket connection with a single writer goroutine and
// request/ACK correlation by message id.
type peer struct {
	conn *websocket.Conn
	log  *log.Logger
	out  chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	waiting map[string]chan protocol.AckMsg
}

func newPeer(conn *websocket.Conn, queue int, logger *log.Logger) *peer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		conn:    conn,
		log:     logger,
		out:     make(chan []byte, queue),
		ctx:     ctx,
		cancel:  cancel,
		waiting: map[string]chan protocol.AckMsg{},
	}
	go p.writeLoop()
	return p
}

func (p *peer) writeLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case b := <-p.out:
			if b == nil {
				_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				p.close()
				return
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				p.close()
				return
			}
		}
	}
}

func (p *peer) send(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case p.out <- b:
		return nil
	case <-p.ctx.Done():
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish sends a last message, then closes the connection once it was written.
func (p *peer) finish(v any) {
	if err := p.send(context.Background(), v); err != nil {
		return
	}
	select {
	case p.out <- nil:
	case <-p.ctx.Done():
		return
	}
	select {
	case <-p.ctx.Done():
	case <-time.After(writeTimeout):
	}
}

// call sends v and waits for the ACK carrying id.
func (p *peer) call(ctx context.Context, id string, v any) (protocol.AckMsg, error) {
	ch := make(chan protocol.AckMsg, 1)
	p.mu.Lock()
	p.waiting[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waiting, id)
		p.mu.Unlock()
	}()

	if err := p.send(ctx, v); err != nil {
		return protocol.AckMsg{}, err
	}
	select {
	case ack := <-ch:
		return ack, nil
	case <-p.ctx.Done():
		return protocol.AckMsg{}, ErrDisconnected
	case <-ctx.Done():
		return protocol.AckMsg{}, ctx.Err()
	}
}

func (p *peer) resolve(ack protocol.AckMsg) bool {
	p.mu.Lock()
	ch := p.waiting[ack.AckFor]
	p.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- ack:
	default:
	}
	return true
}

// disconnect queues a close frame behind pending writes, or closes right away
// when the queue is full.
func (p *peer) disconnect() {
	select {
	case p.out <- nil:
	case <-p.ctx.Done():
	default:
		p.close()
	}
}

func (p *peer) read() ([]byte, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, msg, err := p.conn.ReadMessage()
	return msg, err
}

func (p *peer) close() {
	p.cancel()
	_ = p.conn.Close()
}

func (p *peer) done() <-chan struct{} { return p.ctx.Done() }

// ackError turns a negative ACK into an error.
func ackError(ack protocol.AckMsg) error {
	if ack.Accepted {
		return nil
	}
	if ack.Code == "" {
		return fmt.Errorf("rejected")
	}
	return fmt.Errorf("%s: %s", ack.Code, ack.Message)
}
