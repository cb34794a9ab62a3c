package apihttp

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"candlesight/internal/capture"
	"candlesight/internal/logger"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 50 * time.Second
	clientBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn      *websocket.Conn
	sessionID string // empty subscribes to every session
	send      chan capture.Event
}

// Hub fans capture events out to websocket subscribers. A client that cannot
// keep up is dropped rather than allowed to stall the publisher.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// Publish delivers the event to every matching subscriber. Never blocks.
func (h *Hub) Publish(ev capture.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.sessionID != "" && client.sessionID != ev.SessionID {
			continue
		}
		select {
		case client.send <- ev:
		default:
			// slow consumer: close its channel and let the writer tear down
			delete(h.clients, client)
			close(client.send)
			logger.Warnf("ws subscriber dropped, send buffer full session_filter=%q", client.sessionID)
		}
	}
}

// Handle upgrades the request and streams events until the peer disconnects.
// Optional ?session_id= narrows the stream to one session.
func (h *Hub) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("ws upgrade failed: %v", err)
		return
	}
	client := &wsClient{
		conn:      conn,
		sessionID: c.Query("session_id"),
		send:      make(chan capture.Event, clientBufferSize),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *Hub) writeLoop(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop exists to notice disconnects and answer pings; inbound payloads
// are discarded.
func (h *Hub) readLoop(client *wsClient) {
	defer h.remove(client)
	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
}
