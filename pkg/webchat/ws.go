package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/dialogd/pkg/dispatcher"
)

const wsWriteTimeout = 10 * time.Second

// wsFrame is every message the server writes on an ask socket.
type wsFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"uuid,omitempty"`
	Message   string         `json:"message,omitempty"`
	Delta     string         `json:"delta,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
	DebugInfo map[string]any `json:"debug_info,omitempty"`
	Error     string         `json:"error,omitempty"`
	Status    int            `json:"status,omitempty"`
}

// wsInbound is an ask payload, or {"type":"cancel"} to abandon the ask in flight.
type wsInbound struct {
	Type string `json:"type,omitempty"`
	AskPayload
}

// NewAskWSHandler streams answers over a websocket. Each text message is one
// ask; the server answers with "partial" frames carrying the cumulative
// answer and one "final" or "error" frame. Closing the socket or sending a
// cancel frame abandons the ask without committing the reply.
func NewAskWSHandler(svc DialogService, upgrader websocket.Upgrader, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		c := &askConn{conn: conn, logger: logger, pending: map[*wsAsk]struct{}{}}
		defer func() { _ = conn.Close() }()
		conn.SetReadLimit(1 << 20)

		incoming := make(chan *wsAsk, 1)
		go c.readLoop(req.Context(), incoming)

		for ask := range incoming {
			if err := c.run(svc, ask); err != nil {
				return
			}
		}
	}
}

// wsAsk is one queued or running ask. Its context exists from the moment the
// frame is read so that a cancel frame reaches it before it starts.
type wsAsk struct {
	payload AskPayload
	ctx     context.Context
	cancel  context.CancelFunc
}

// run answers one ask. It only fails when the socket can no longer be
// written to.
func (c *askConn) run(svc DialogService, ask *wsAsk) error {
	defer c.done(ask)
	if ask.ctx.Err() != nil {
		if c.isClosed() {
			return errors.New("websocket closed")
		}
		return c.sendError(errors.Wrap(dispatcher.ErrCancelled, "cancelled before start"))
	}
	resp, err := svc.AskStream(ask.ctx, ask.payload.Request(), func(p dispatcher.Partial) error {
		return c.send(wsFrame{Type: "partial", SessionID: p.SessionID, Message: p.Text, Delta: p.Delta})
	})
	if err != nil {
		return c.sendError(err)
	}
	return c.send(wsFrame{
		Type:      "final",
		SessionID: resp.SessionID,
		Message:   resp.Answer,
		Warnings:  resp.Warnings,
		DebugInfo: resp.DebugInfo,
	})
}

type askConn struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[*wsAsk]struct{}
	closed  bool
}

func (c *askConn) send(f wsFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug().Err(err).Msg("ws write failed")
		return err
	}
	return nil
}

func (c *askConn) sendError(err error) error {
	status := StatusFor(err)
	c.logger.Info().Err(err).Int("status", status).Msg("streamed ask failed")
	return c.send(wsFrame{Type: "error", Error: err.Error(), Status: status})
}

func (c *askConn) track(ctx context.Context, payload AskPayload) *wsAsk {
	askCtx, cancel := context.WithCancel(ctx)
	ask := &wsAsk{payload: payload, ctx: askCtx, cancel: cancel}
	c.mu.Lock()
	c.pending[ask] = struct{}{}
	c.mu.Unlock()
	return ask
}

func (c *askConn) done(ask *wsAsk) {
	ask.cancel()
	c.mu.Lock()
	delete(c.pending, ask)
	c.mu.Unlock()
}

// cancelAll abandons the running ask and any queued one.
func (c *askConn) cancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ask := range c.pending {
		ask.cancel()
	}
}

func (c *askConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readLoop decodes inbound frames until the socket fails. One ask may wait
// while another is in flight; further asks are refused.
func (c *askConn) readLoop(ctx context.Context, incoming chan<- *wsAsk) {
	defer close(incoming)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			c.cancelAll()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("ws read ended")
			}
			return
		}
		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			_ = c.send(wsFrame{Type: "error", Error: "invalid JSON frame: " + err.Error(), Status: http.StatusBadRequest})
			continue
		}
		if in.Type == "cancel" {
			c.cancelAll()
			continue
		}
		ask := c.track(ctx, in.AskPayload)
		select {
		case incoming <- ask:
		default:
			c.done(ask)
			_ = c.send(wsFrame{Type: "error", Error: "an ask is already in flight on this connection", Status: http.StatusTooManyRequests})
		}
	}
}
