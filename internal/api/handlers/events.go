package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/service"
)

const (
	clientSendBuffer = 256
	clientWriteWait  = 5 * time.Second
)

type eventClient struct {
	conn   *websocket.Conn
	remote string
	send   chan service.Event
	logger *zap.Logger
}

// EventHub streams service events to websocket subscribers. It implements
// service.EventSink; slow subscribers lose events instead of blocking.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*eventClient]struct{}
	closed  bool
	logger  *zap.Logger
}

var _ service.EventSink = (*EventHub)(nil)

func NewEventHub(logger *zap.Logger) *EventHub {
	return &EventHub{
		clients: make(map[*eventClient]struct{}),
		logger:  logger.Named("events"),
	}
}

func (h *EventHub) register(c *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("websocket client connected", zap.String("remote", c.remote))
	return true
}

func (h *EventHub) unregister(c *eventClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", zap.String("remote", c.remote))
}

func (h *EventHub) Publish(e service.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.logger.Warn("client send buffer full, dropping event", zap.String("remote", c.remote))
		}
	}
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// Stream upgrades the request and forwards events until the client goes away.
func (h *EventHub) Stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Access is checked by the auth middleware.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	client := &eventClient{
		conn:   conn,
		remote: c.ClientIP(),
		send:   make(chan service.Event, clientSendBuffer),
		logger: h.logger,
	}
	if !h.register(client) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	ctx := c.Request.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	client.readPump(ctx)

	h.unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func (c *eventClient) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, clientWriteWait)
			err := wsjson.Write(writeCtx, c.conn, e)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		}
	}
}

// readPump only detects the disconnect; clients send nothing.
func (c *eventClient) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func RegisterEventRoutes(r *gin.RouterGroup, h *EventHub) {
	r.GET("/events", h.Stream)
}
