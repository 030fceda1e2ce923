package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"call-insights-service/internal/observability/logging"
	"call-insights-service/internal/progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The browser client is served from a different origin in dev;
	// auth happens upstream of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsEventBuffer  = 32
)

// clientCommand is what the websocket client sends: join or leave a
// session's progress stream. One connection can follow many sessions.
type clientCommand struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id"`
}

// wsClient adapts one websocket connection to the broadcaster's
// Subscriber contract via a buffered channel subscriber.
type wsClient struct {
	conn        *websocket.Conn
	sub         *progress.ChanSubscriber
	broadcaster *progress.Broadcaster

	mu     sync.Mutex
	joined map[string]struct{}
	done   chan struct{}
	once   sync.Once
}

// Progress upgrades the connection and serves the progress stream until
// the client disconnects. Disconnecting never affects the pipelines the
// client was watching.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := logging.Logger()
		logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &wsClient{
		conn:        conn,
		sub:         progress.NewChanSubscriber(wsEventBuffer),
		broadcaster: h.broadcaster,
		joined:      make(map[string]struct{}),
		done:        make(chan struct{}),
	}

	go c.writePump()
	c.readPump()
}

// readPump consumes join/leave commands until the connection drops,
// then detaches every subscription.
func (c *wsClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		var cmd clientCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger := logging.Logger()
				logger.Debug().Err(err).Msg("Websocket read error")
			}
			return
		}
		if cmd.SessionID == "" {
			continue
		}
		switch cmd.Action {
		case "join":
			c.join(cmd.SessionID)
		case "leave":
			c.leave(cmd.SessionID)
		}
	}
}

// writePump pushes broadcast events to the wire and keeps the
// connection alive with pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.sub.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) join(sessionID string) {
	c.mu.Lock()
	c.joined[sessionID] = struct{}{}
	c.mu.Unlock()
	// Subscribe replays the session's last-known state, so a client
	// that reconnects mid-run lands on current progress immediately.
	c.broadcaster.Subscribe(sessionID, c.sub)
}

func (c *wsClient) leave(sessionID string) {
	c.mu.Lock()
	delete(c.joined, sessionID)
	c.mu.Unlock()
	c.broadcaster.Unsubscribe(sessionID, c.sub)
}

func (c *wsClient) close() {
	c.once.Do(func() {
		c.mu.Lock()
		joined := make([]string, 0, len(c.joined))
		for id := range c.joined {
			joined = append(joined, id)
		}
		c.joined = make(map[string]struct{})
		c.mu.Unlock()

		for _, id := range joined {
			c.broadcaster.Unsubscribe(id, c.sub)
		}
		close(c.done)
		_ = c.conn.Close()
	})
}
