package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	bufferSize = 64
)

// Message kinds
const (
	KindSnapshot = "snapshot"
	KindEvent    = "event"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is one frame sent to the client. The first frame is always a
// snapshot of the invocation record; events follow.
type Message struct {
	Kind   string                   `json:"kind"`
	Record *domain.InvocationRecord `json:"record,omitempty"`
	Event  *domain.Event            `json:"event,omitempty"`
}

// RecordSource looks up invocations. *orchestrator.Manager implements it.
type RecordSource interface {
	Get(ctx context.Context, id string) (*domain.InvocationRecord, error)
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	records  RecordSource
	topic    string
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler streaming events from topic
func NewHandler(eventBus ports.EventBus, records RecordSource, topic string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		eventBus: eventBus,
		records:  records,
		topic:    topic,
		logger:   logger,
	}
}

// HandleInvocationStream streams the events of one invocation until it
// reaches a terminal state or the client goes away
func (h *Handler) HandleInvocationStream(c *gin.Context) {
	invocationID := c.Param("id")

	if _, err := h.records.Get(c.Request.Context(), invocationID); err != nil {
		status, code := http.StatusInternalServerError, "INTERNAL"
		if errors.Is(err, ports.ErrNotFound) {
			status, code = http.StatusNotFound, "NOT_FOUND"
		}
		c.JSON(status, gin.H{"error": gin.H{"code": code, "message": err.Error()}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("invocation_id", invocationID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.readPump(conn, cancel)

	// Subscribe before the snapshot so nothing between them is lost
	eventChan := make(chan domain.Event, bufferSize)
	if err := h.eventBus.Subscribe(ctx, h.topic, h.forward(invocationID, eventChan)); err != nil {
		h.logger.Error("failed to subscribe to events",
			zap.String("topic", h.topic),
			zap.Error(err))
		h.closeWith(conn, websocket.CloseInternalServerErr, "event stream unavailable")
		return
	}

	record, err := h.records.Get(ctx, invocationID)
	if err != nil {
		h.closeWith(conn, websocket.CloseInternalServerErr, "invocation lookup failed")
		return
	}
	if err := h.write(conn, Message{Kind: KindSnapshot, Record: record}); err != nil {
		return
	}
	if record.Status.IsTerminal() {
		h.closeWith(conn, websocket.CloseNormalClosure, string(record.Status))
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event := <-eventChan:
			if err := h.write(conn, Message{Kind: KindEvent, Event: &event}); err != nil {
				return
			}
			if event.Terminal() {
				h.closeWith(conn, websocket.CloseNormalClosure, string(event.Type))
				return
			}
		}
	}
}

// forward returns an event handler passing events of invocationID to ch
func (h *Handler) forward(invocationID string, ch chan<- domain.Event) ports.EventHandler {
	return func(ctx context.Context, event domain.Event) error {
		if event.InvocationID != invocationID {
			return nil
		}
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Slow client; stage events are advisory but terminal ones are not
			if event.Terminal() {
				select {
				case ch <- event:
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			}
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}
}

// readPump consumes control frames and cancels the stream when the client
// disconnects
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("failed to write message", zap.Error(err))
		return err
	}
	return nil
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
