package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/types"
)

func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewStreamMessage(t *testing.T) {
	snap := position.OrderSnapshot{
		Spec:   position.OrderSpec{ClientOrderID: "ord-1", Role: position.RoleTakeProfit},
		Status: types.OrderStatusFilled,
	}
	fill := position.Fill{Price: decimal.RequireFromString("5010.25"), Quantity: 2}

	msg := NewStreamMessage(position.Event{
		Kind:       position.EventOrderFilled,
		PositionID: "pos-1",
		Time:       t0,
		Order:      &snap,
		Fill:       &fill,
	})

	if msg.Kind != "order_filled" {
		t.Errorf("kind = %s, want order_filled", msg.Kind)
	}
	if msg.OrderID != "ord-1" || msg.Role != position.RoleTakeProfit.String() {
		t.Errorf("order fields = %s %s", msg.OrderID, msg.Role)
	}
	if msg.FillPrice != "5010.25" || msg.FillQuantity != 2 {
		t.Errorf("fill fields = %s x%d", msg.FillPrice, msg.FillQuantity)
	}
	if msg.State != "" {
		t.Errorf("state should be empty, got %s", msg.State)
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial(httpToWS(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, hub, 1)

	view := position.PositionView{ID: "pos-1", State: position.StateOpen, OpenQuantity: 1, RealizedPnL: decimal.Zero}
	hub.OnEvent(position.Event{Kind: position.EventPositionOpened, PositionID: "pos-1", Time: t0, Position: &view})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Kind != "position_opened" {
		t.Errorf("kind = %s, want position_opened", msg.Kind)
	}
	if msg.State != position.StateOpen.String() || msg.OpenQuantity != 1 {
		t.Errorf("position fields = %s %d", msg.State, msg.OpenQuantity)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(httpToWS(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Broadcasting with no clients is a no-op.
	hub.OnEvent(position.Event{Kind: position.EventPositionReset, Time: t0})
}

func TestHub_CloseRefusesClients(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial(httpToWS(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
	if hub.Clients() != 0 {
		t.Errorf("clients = %d, want 0", hub.Clients())
	}
}

func TestServer_EventsEndpoint(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil)
	hub := NewHub(nil)
	server.HandleEvents(hub)
	defer hub.Close()

	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(httpToWS(srv.URL)+"/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, hub, 1)
}
