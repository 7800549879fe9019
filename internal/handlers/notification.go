package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"estatesettle/internal/models"
	"estatesettle/internal/relay"
)

var _ relay.Broadcaster = (*Hub)(nil)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

type wsClient struct {
	userID string
	conn   *websocket.Conn
	send   chan models.Notification
}

// Hub fans stored notifications out to each user's open websocket connections.
// A client whose buffer is full is disconnected; it re-reads missed
// notifications over the list endpoint.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*wsClient]struct{}
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewHub accepts upgrades from origins allowed by checkOrigin; nil allows all.
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients:  make(map[string]map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: checkOrigin},
		log:      logrus.WithField("module", "notification_hub"),
	}
}

// Broadcast queues n for every connection of its user.
func (h *Hub) Broadcast(n models.Notification) {
	h.mu.RLock()
	var slow []*wsClient
	for cl := range h.clients[n.UserID] {
		select {
		case cl.send <- n:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.RUnlock()
	for _, cl := range slow {
		h.log.Warnf("> dropping slow websocket client of %s", cl.userID)
		h.remove(cl)
	}
}

// Connections returns the number of open connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) add(cl *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[cl.userID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[cl.userID] = set
	}
	set[cl] = struct{}{}
}

func (h *Hub) remove(cl *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[cl.userID]
	if _, ok := set[cl]; !ok {
		return
	}
	delete(set, cl)
	if len(set) == 0 {
		delete(h.clients, cl.userID)
	}
	close(cl.send)
}

// Serve upgrades the request and streams the user's notifications until the
// connection closes.
func (h *Hub) Serve(c *gin.Context, userID string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("> websocket upgrade for %s failed: %v", userID, err)
		return
	}
	cl := &wsClient{userID: userID, conn: conn, send: make(chan models.Notification, sendBuffer)}
	h.add(cl)
	go h.writePump(cl)
	h.readPump(cl)
}

// readPump only consumes control frames; clients do not send data.
func (h *Hub) readPump(cl *wsClient) {
	defer func() {
		h.remove(cl)
		cl.conn.Close()
	}()
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()
	for {
		select {
		case n, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ListNotifications pages the caller's notifications; unread=true filters.
func (h *Handler) ListNotifications(c *gin.Context) {
	p := parsePage(c)
	list, total, err := h.Queries.ListNotifications(c.Request.Context(), actorID(c), c.Query("unread") == "true", p.PageSize, p.offset())
	if err != nil {
		h.respondError(c, err)
		return
	}
	paginated(c, p, list, total)
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	found, err := h.Queries.MarkNotificationRead(c.Request.Context(), actorID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

func (h *Handler) StreamNotifications(c *gin.Context) {
	h.Hub.Serve(c, actorID(c))
}
