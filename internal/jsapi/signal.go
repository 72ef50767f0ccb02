package jsapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/cryguy/roomkit/internal/core"
	"github.com/cryguy/roomkit/internal/eventloop"
	"go.uber.org/zap"
	"golang.org/x/net/idna"
)

// sendQueueSize bounds the frames buffered per connection before the dial
// completes or while the writer is busy.
const sendQueueSize = 64

// SignalHub owns the Go side of the embedded client's signal connections.
// JS dials through __signal_dial and receives everything else through
// globalThis.__signal_event(id, type, data, code), delivered by the event
// loop on the runtime goroutine.
type SignalHub struct {
	cfg core.RuntimeConfig
	log *zap.Logger
	el  *eventloop.EventLoop

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[int]*signalConn
	nextID int
}

type signalConn struct {
	id     int
	send   chan string
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewSignalHub creates a hub posting inbound events onto el.
func NewSignalHub(cfg core.RuntimeConfig, el *eventloop.EventLoop, log *zap.Logger) *SignalHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &SignalHub{
		cfg:    cfg,
		log:    log.Named("signal"),
		el:     el,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[int]*signalConn),
	}
}

// Setup registers __signal_dial, __signal_send and __signal_close.
func (h *SignalHub) Setup(rt core.VM, _ *eventloop.EventLoop) error {
	if err := rt.Expose("__signal_dial", func(rawURL, token string) (int, error) {
		target, err := SignalURL(rawURL, token)
		if err != nil {
			return 0, err
		}
		return h.dial(target), nil
	}); err != nil {
		return err
	}

	if err := rt.Expose("__signal_send", func(id int, text string) (bool, error) {
		c := h.lookup(id)
		if c == nil {
			return false, fmt.Errorf("signal connection %d is not open", id)
		}
		select {
		case c.send <- text:
			return true, nil
		default:
			return false, fmt.Errorf("signal connection %d send queue is full", id)
		}
	}); err != nil {
		return err
	}

	return rt.Expose("__signal_close", func(id, code int, reason string) {
		if c := h.lookup(id); c != nil {
			h.closeConn(c, websocket.StatusCode(code), reason)
		}
	})
}

// SignalURL converts an http(s) or ws(s) room URL into the signal endpoint,
// normalizing internationalized host names and attaching the access token.
func SignalURL(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing signal url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported signal url scheme %q", u.Scheme)
	}
	host, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		return "", fmt.Errorf("signal url host: %w", err)
	}
	if port := u.Port(); port != "" {
		host = host + ":" + port
	}
	u.Host = host
	q := u.Query()
	if token != "" {
		q.Set("access_token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (h *SignalHub) dial(target string) int {
	ctx, cancel := context.WithCancel(h.ctx)

	h.mu.Lock()
	h.nextID++
	c := &signalConn{id: h.nextID, send: make(chan string, sendQueueSize), cancel: cancel}
	h.conns[c.id] = c
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()
		h.run(ctx, c, target)
	}()
	return c.id
}

func (h *SignalHub) run(ctx context.Context, c *signalConn, target string) {
	dialCtx, dialCancel := context.WithTimeout(ctx, h.cfg.SignalDialTimeout)
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	dialCancel()
	if err != nil {
		h.log.Debug("dial failed", zap.Int("conn", c.id), zap.Error(err))
		h.finish(c, int(websocket.StatusAbnormalClosure), err.Error())
		return
	}
	if h.cfg.MaxSignalMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxSignalMessageBytes)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	c.conn = conn
	c.mu.Unlock()

	h.el.Post(eventloop.SignalEvent{ConnID: c.id, Type: "open"})

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writeLoop(ctx, c, conn)
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			code := websocket.CloseStatus(err)
			reason := ""
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				reason = ce.Reason
			} else {
				code = websocket.StatusAbnormalClosure
				reason = err.Error()
			}
			h.finish(c, int(code), reason)
			return
		}
		if typ != websocket.MessageText {
			h.log.Warn("dropping binary signal frame", zap.Int("conn", c.id), zap.Int("bytes", len(data)))
			continue
		}
		h.el.Post(eventloop.SignalEvent{ConnID: c.id, Type: "message", Data: string(data)})
	}
}

func (h *SignalHub) writeLoop(ctx context.Context, c *signalConn, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.send:
			if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
				h.log.Debug("signal write failed", zap.Int("conn", c.id), zap.Error(err))
				return
			}
		}
	}
}

// finish removes c and reports the close to JS once.
func (h *SignalHub) finish(c *signalConn, code int, reason string) {
	h.mu.Lock()
	_, live := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()
	if live {
		h.el.Post(eventloop.SignalEvent{ConnID: c.id, Type: "close", Data: reason, Code: code})
	}
}

func (h *SignalHub) closeConn(c *signalConn, code websocket.StatusCode, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	if conn == nil {
		c.cancel()
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer c.cancel()
		_ = conn.Close(code, reason)
	}()
}

func (h *SignalHub) lookup(id int) *signalConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id]
}

// Close tears down every connection and waits for the network goroutines.
func (h *SignalHub) Close() {
	h.mu.Lock()
	conns := make([]*signalConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.closeConn(c, websocket.StatusGoingAway, "runtime closed")
	}
	h.cancel()
	h.wg.Wait()
}
