package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// Channel is one realtime subscription scoped to a branch or a customer.
// The server pushes only events for that scope; the channel additionally
// drops anything that slipped through for a different scope. Dial it when
// the owning screen mounts, Close it when the screen unmounts or the scope
// changes.
type Channel struct {
	conn     *websocket.Conn
	events   chan Event
	logger   *slog.Logger
	branchID string // defensive filter; empty for customer scope

	closeOnce sync.Once
	done      chan struct{}
}

// DialBranch opens a branch-scoped subscription and emits the join_branch
// handshake the backend expects.
func DialBranch(ctx context.Context, baseURL, branchID string, logger *slog.Logger) (*Channel, error) {
	ch, err := dial(ctx, baseURL, url.Values{"branchId": {branchID}}, logger)
	if err != nil {
		return nil, err
	}
	ch.branchID = branchID

	join := frame{Event: eventJoinBranch}
	join.Data, _ = json.Marshal(map[string]string{"branchId": branchID})
	if err := ch.conn.WriteJSON(join); err != nil {
		ch.Close()
		return nil, fmt.Errorf("join branch %s: %w", branchID, err)
	}

	go ch.readLoop()
	return ch, nil
}

// DialCustomer opens a customer-scoped subscription.
func DialCustomer(ctx context.Context, baseURL, customerID string, logger *slog.Logger) (*Channel, error) {
	ch, err := dial(ctx, baseURL, url.Values{"customerId": {customerID}}, logger)
	if err != nil {
		return nil, err
	}
	go ch.readLoop()
	return ch, nil
}

func dial(ctx context.Context, baseURL string, query url.Values, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	wsURL, err := websocketURL(baseURL, query)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	// A couple of quick retries smooth over transient dial failures; beyond
	// that the caller falls back to REST-only degraded mode.
	operation := func() (*websocket.Conn, error) {
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	conn, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("dial realtime channel: %w", err)
	}

	return &Channel{
		conn:   conn,
		events: make(chan Event, 16),
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Events returns the stream of normalized events. The channel is closed
// after Close or when the connection drops.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Close tears down the connection and stops event delivery. Safe to call
// more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Channel) readLoop() {
	defer close(c.events)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Deliberate Close; nothing to report.
			default:
				c.logger.Warn("realtime connection lost", slog.String("error", err.Error()))
				c.Close()
			}
			return
		}

		ev, ok, err := normalize(raw)
		if err != nil {
			c.logger.Warn("dropping malformed realtime event", slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		if !c.inScope(ev) {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// inScope drops activity events that carry a branch id other than this
// subscription's. Status updates carry no scope and pass through; consumers
// match them by activity id.
func (c *Channel) inScope(ev Event) bool {
	if c.branchID == "" || ev.Kind != KindNewCheckin {
		return true
	}
	return ev.Activity.BranchID == c.branchID
}

func websocketURL(baseURL string, query url.Values) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse realtime base url: %w", err)
	}

	switch {
	case u.Scheme == "https":
		u.Scheme = "wss"
	case u.Scheme == "http", u.Scheme == "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = query.Encode()
	return u.String(), nil
}
