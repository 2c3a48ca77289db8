package simulator

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Nish7156/loyalty-client/internal/domain"
)

// Hub fans push events out to websocket subscribers. Staff sessions join a
// branch room, via the query string or a join_branch message; customer
// sessions join a room keyed by their id so they only see their own status
// updates.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte

	mu         sync.Mutex
	branchID   string
	customerID string
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the connection and pumps frames until either side
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := &subscriber{
		conn:       conn,
		send:       make(chan []byte, 32),
		branchID:   r.URL.Query().Get("branchId"),
		customerID: r.URL.Query().Get("customerId"),
	}

	h.mu.Lock()
	h.conns[sub] = struct{}{}
	h.mu.Unlock()

	go h.writePump(sub)
	h.readPump(sub)
}

func (h *Hub) readPump(sub *subscriber) {
	defer h.drop(sub)

	for {
		_, raw, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Event != "join_branch" {
			continue
		}
		var join struct {
			BranchID string `json:"branchId"`
		}
		if err := json.Unmarshal(frame.Data, &join); err != nil || join.BranchID == "" {
			continue
		}
		sub.mu.Lock()
		sub.branchID = join.BranchID
		sub.mu.Unlock()
	}
}

func (h *Hub) writePump(sub *subscriber) {
	for msg := range sub.send {
		if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.conns[sub]; ok {
		delete(h.conns, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	_ = sub.conn.Close()
}

// BroadcastNewCheckin notifies the branch room of a fresh check-in request.
func (h *Hub) BroadcastNewCheckin(a domain.Activity) {
	h.broadcast("new_checkin_request", a, func(sub *subscriber) bool {
		return sub.inBranch(a.BranchID)
	})
}

// BroadcastStatus notifies both the branch room and the owning customer of a
// resolution.
func (h *Hub) BroadcastStatus(a domain.Activity) {
	update := domain.StatusUpdate{ID: a.ID, Status: a.Status}
	h.broadcast("checkin_updated", update, func(sub *subscriber) bool {
		return sub.inBranch(a.BranchID) || sub.isCustomer(a.CustomerID)
	})
}

func (h *Hub) broadcast(event string, data any, match func(*subscriber) bool) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("marshal push event", slog.String("error", err.Error()))
		return
	}
	msg, err := json.Marshal(wireFrame{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("marshal push frame", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.conns {
		if !match(sub) {
			continue
		}
		select {
		case sub.send <- msg:
		default:
			// Slow consumer; drop the frame rather than block everyone.
			h.logger.Warn("push buffer full, dropping frame", slog.String("event", event))
		}
	}
}

func (sub *subscriber) inBranch(branchID string) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.branchID != "" && sub.branchID == branchID
}

func (sub *subscriber) isCustomer(customerID string) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.customerID != "" && sub.customerID == customerID
}
