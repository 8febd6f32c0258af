package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tathienbao/position-engine/internal/position"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 64
)

// StreamMessage is the JSON form of one manager event.
type StreamMessage struct {
	Kind       string    `json:"kind"`
	PositionID string    `json:"position_id"`
	Time       time.Time `json:"time"`
	Reason     string    `json:"reason,omitempty"`

	OrderID     string `json:"order_id,omitempty"`
	Role        string `json:"role,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`

	FillPrice    string `json:"fill_price,omitempty"`
	FillQuantity int64  `json:"fill_quantity,omitempty"`

	State        string `json:"state,omitempty"`
	OpenQuantity int64  `json:"open_quantity,omitempty"`
	RealizedPnL  string `json:"realized_pnl,omitempty"`

	NetPnL     string `json:"net_pnl,omitempty"`
	ExitReason string `json:"exit_reason,omitempty"`

	Code     string `json:"code,omitempty"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message,omitempty"`
}

// NewStreamMessage flattens an event for the wire.
func NewStreamMessage(ev position.Event) StreamMessage {
	m := StreamMessage{
		Kind:       ev.Kind.String(),
		PositionID: ev.PositionID,
		Time:       ev.Time,
		Reason:     ev.Reason,
	}
	if ev.Order != nil {
		m.OrderID = ev.Order.Spec.ClientOrderID
		m.Role = ev.Order.Spec.Role.String()
		m.OrderStatus = ev.Order.Status.String()
	}
	if ev.Fill != nil {
		m.FillPrice = ev.Fill.Price.String()
		m.FillQuantity = ev.Fill.Quantity
	}
	if ev.Position != nil {
		m.State = ev.Position.State.String()
		m.OpenQuantity = ev.Position.OpenQuantity
		m.RealizedPnL = ev.Position.RealizedPnL.String()
	}
	if ev.Trade != nil {
		m.NetPnL = ev.Trade.NetPnL.String()
		m.ExitReason = ev.Trade.ExitReason.String()
	}
	if ev.Diagnostic != nil {
		m.Code = ev.Diagnostic.Code
		m.Severity = ev.Diagnostic.Severity.String()
		m.Message = ev.Diagnostic.Message
	}
	return m
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts manager events to websocket clients. It is a
// position.Listener and an http.Handler. Slow clients lose events rather
// than block the manager.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

// NewHub creates an event hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "event_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// OnEvent implements position.Listener.
func (h *Hub) OnEvent(ev position.Event) {
	payload, err := json.Marshal(NewStreamMessage(ev))
	if err != nil {
		h.logger.Error("marshal event", "event", ev.Kind.String(), "err", err)
		return
	}
	h.broadcast(payload)
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
			EventsStreamed.Inc()
		default:
			EventsDropped.Inc()
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &streamClient{conn: conn, send: make(chan []byte, clientSendSize)}
	if !h.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}
	h.logger.Info("stream client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	StreamClients.Set(float64(len(h.clients)))
	return true
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	StreamClients.Set(float64(len(h.clients)))
}

// readLoop discards client messages and detects disconnects.
func (h *Hub) readLoop(c *streamClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	StreamClients.Set(0)
}
