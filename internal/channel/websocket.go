package channel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"edugate/internal/domain"
)

type wsTransport struct {
	dialer *websocket.Dialer
}

func newWSTransport() *wsTransport {
	return &wsTransport{dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

func (t *wsTransport) Dial(ctx context.Context, url, bearer string) (Conn, error) {
	header := http.Header{}
	if bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}
	ws, _, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newWSConn(ws), nil
}

// wsConn frames events and invoke/result pairs over one websocket. A single
// internal goroutine owns all reads; Invoke correlates its result frame by id.
type wsConn struct {
	ws     *websocket.Conn
	events chan domain.Event
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending map[string]chan ResultFrame
	err     error

	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:      ws,
		events:  make(chan domain.Event, 16),
		done:    make(chan struct{}),
		pending: make(map[string]chan ResultFrame),
	}
	go c.readLoop()
	return c
}

func (c *wsConn) readLoop() {
	for {
		var frame Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			c.shutdown(err)
			return
		}
		switch {
		case frame.Event != nil:
			select {
			case c.events <- *frame.Event:
			case <-c.done:
				return
			}
		case frame.Result != nil:
			c.mu.Lock()
			ch, ok := c.pending[frame.Result.ID]
			if ok {
				delete(c.pending, frame.Result.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- *frame.Result
			}
		}
	}
}

func (c *wsConn) ReadEvent() (domain.Event, error) {
	select {
	case evt := <-c.events:
		return evt, nil
	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return domain.Event{}, err
	}
}

func (c *wsConn) Invoke(ctx context.Context, method string, args interface{}) error {
	id := uuid.NewString()
	result := make(chan ResultFrame, 1)
	c.mu.Lock()
	c.pending[id] = result
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.ws.WriteJSON(Frame{Invoke: &InvokeFrame{ID: id, Method: method, Args: args}})
	c.writeMu.Unlock()
	if err != nil {
		c.unregister(id)
		return fmt.Errorf("invoke %s: %w", method, err)
	}

	select {
	case res := <-result:
		if res.Code == ResultCodeUnsupported {
			return fmt.Errorf("invoke %s: %w", method, ErrNotSupported)
		}
		if res.Error != "" {
			return fmt.Errorf("invoke %s: %s", method, res.Error)
		}
		return nil
	case <-ctx.Done():
		c.unregister(id)
		return ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return fmt.Errorf("invoke %s: %w", method, err)
	}
}

func (c *wsConn) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *wsConn) Close() error {
	c.shutdown(net.ErrClosed)
	return nil
}

func (c *wsConn) shutdown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
	})
}
