package server

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/domain/identity"
	"github.com/meridianhq/meridian-sync/internal/domain/workspace"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/monitoring"
	"github.com/meridianhq/meridian-sync/internal/providers/deviceauth"
	"github.com/meridianhq/meridian-sync/internal/shared/events"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 75 * time.Second
	pingInterval = 30 * time.Second
	maxMsgSize   = 4096
	sendBuffer   = 32
)

// streamEvent is the wire shape of every pushed event. Payloads carry at
// most a property name; subscribers re-query state through the API. The
// device prompt is the exception: the user needs the code itself.
type streamEvent struct {
	Type            string `json:"type"`
	Property        string `json:"property,omitempty"`
	UserCode        string `json:"userCode,omitempty"`
	VerificationURI string `json:"verificationUri,omitempty"`
	ExpiresAt       int64  `json:"expiresAt,omitempty"`
	Message         string `json:"message,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

type streamClient struct {
	id   string
	conn *websocket.Conn

	// mu guards send against a push racing the close.
	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// push enqueues without blocking; a full buffer drops the event.
func (cl *streamClient) push(data []byte) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed {
		return false
	}
	select {
	case cl.send <- data:
		return true
	default:
		return false
	}
}

func (cl *streamClient) shutdown() {
	cl.mu.Lock()
	if !cl.closed {
		cl.closed = true
		close(cl.send)
	}
	cl.mu.Unlock()
}

// hub fans domain events out to connected IDE clients. Emits happen on
// domain goroutines; a lagging client drops events instead of blocking
// the emitter.
type hub struct {
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*streamClient
	closed  bool

	subs []*events.Subscription
}

func newHub(logger *logging.Logger, metrics *monitoring.Metrics) *hub {
	return &hub{
		logger:  logger,
		metrics: metrics,
		clients: make(map[string]*streamClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: allowLocalOrigin,
		},
	}
}

// allowLocalOrigin admits browserless clients (no Origin header), IDE
// webviews, and localhost pages.
func allowLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme == "vscode-webview" {
		return true
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// watch subscribes the hub to the domain feeds. Identity and prompts are
// nil for fixture sessions.
func (h *hub) watch(session workspace.Session, ctrl *identity.Controller, prompts *events.Feed[deviceauth.DevicePrompt]) {
	h.subs = append(h.subs, session.PropertyChanged().Subscribe(func(name string) {
		h.broadcast(streamEvent{Type: "propertyChanged", Property: name})
	}))
	if ctrl != nil {
		h.subs = append(h.subs, ctrl.SignInChanged().Subscribe(func(events.Signal) {
			h.broadcast(streamEvent{Type: "signInChanged"})
		}))
		h.subs = append(h.subs, ctrl.TenantChanged().Subscribe(func(events.Signal) {
			h.broadcast(streamEvent{Type: "tenantChanged"})
		}))
	}
	if prompts != nil {
		h.subs = append(h.subs, prompts.Subscribe(func(p deviceauth.DevicePrompt) {
			h.broadcast(streamEvent{
				Type:            "devicePrompt",
				UserCode:        p.UserCode,
				VerificationURI: p.VerificationURI,
				ExpiresAt:       p.ExpiresAt.Unix(),
			})
		}))
	}
}

func (h *hub) broadcast(ev streamEvent) {
	ev.Timestamp = time.Now().Unix()
	data, err := sonic.Marshal(ev)
	if err != nil {
		h.logger.Warn("event not encodable", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordStreamEvent(ev.Type)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients {
		if !cl.push(data) {
			h.logger.Warn("stream client lagging, dropping event",
				zap.String("client", cl.id),
				zap.String("type", ev.Type))
		}
	}
}

// handleConnection upgrades and serves one stream client.
func (h *hub) handleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &streamClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[cl.id] = cl
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.AddStreamClient()
	}
	h.logger.Debug("stream client connected", zap.String("client", cl.id))

	go cl.writeLoop()
	cl.enqueue(streamEvent{Type: "system", Message: "connected", ClientID: cl.id})

	cl.readLoop()

	h.remove(cl.id)
	h.logger.Debug("stream client disconnected", zap.String("client", cl.id))
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	cl, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	cl.shutdown()
	if h.metrics != nil {
		h.metrics.RemoveStreamClient()
	}
}

// close disconnects every client and cancels the feed subscriptions.
func (h *hub) close() {
	for _, sub := range h.subs {
		sub.Cancel()
	}

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*streamClient)
	h.closed = true
	h.mu.Unlock()

	for _, cl := range clients {
		cl.shutdown()
		if h.metrics != nil {
			h.metrics.RemoveStreamClient()
		}
	}
}

func (cl *streamClient) enqueue(ev streamEvent) {
	ev.Timestamp = time.Now().Unix()
	data, err := sonic.Marshal(ev)
	if err != nil {
		return
	}
	cl.push(data)
}

// readLoop consumes client messages until the connection drops. The only
// understood message is {"type":"ping"}.
func (cl *streamClient) readLoop() {
	cl.conn.SetReadLimit(maxMsgSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := sonic.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			cl.enqueue(streamEvent{Type: "pong"})
		}
	}
}

// writeLoop owns all writes to the connection, including keepalive pings.
func (cl *streamClient) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case data, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
