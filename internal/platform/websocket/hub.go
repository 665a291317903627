// Package websocket pushes notices and domain events to connected users.
// Every connection is bound to an authenticated identity within one tenant
// and is subscribed to that user's topic on connect. Doctors also join the
// pool of their own specialty; further topics are checked against the client.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/platform/auth"
	"github.com/medscribe/medscribe/internal/platform/db"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Message is one frame pushed to clients.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscription request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher delivers messages to the subscribers of a topic.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Topics are namespaced by tenant: "<tenant>/user/<id>" and
// "<tenant>/specialty/<name>".

// UserTopic is the private topic every user is subscribed to.
func UserTopic(tenantID, userID string) string {
	return tenantID + "/user/" + userID
}

// SpecialtyTopic carries open-pool referral announcements for a specialty.
func SpecialtyTopic(tenantID, specialty string) string {
	return tenantID + "/specialty/" + strings.ToLower(strings.TrimSpace(specialty))
}

// InTenant reports whether topic belongs to tenantID.
func InTenant(tenantID, topic string) bool {
	return tenantID != "" && strings.HasPrefix(topic, tenantID+"/")
}

// SpecialtyLookup resolves the specialty of a doctor in the tenant carried
// by ctx.
type SpecialtyLookup interface {
	DoctorSpecialty(ctx context.Context, doctorID uuid.UUID) (string, error)
}

// Client represents a single WebSocket connection.
type Client struct {
	ID       string
	TenantID string
	Identity auth.Identity
	// Specialty is the doctor's own specialty, empty for everyone else.
	Specialty string
	Topics    []string
	Send      chan []byte
}

// CanSubscribe reports whether c may listen on topic: its own user topic,
// and for doctors the pool of their own specialty, both within its tenant.
func CanSubscribe(c *Client, topic string) bool {
	if topic == UserTopic(c.TenantID, c.Identity.UserID) {
		return true
	}
	return c.Specialty != "" && c.Identity.IsDoctor() &&
		topic == SpecialtyTopic(c.TenantID, c.Specialty)
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(client, topic)
	}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(client, topic)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds the topics the client's identity is allowed to see and
// returns the ones it was refused.
func (h *Hub) Subscribe(client *Client, topics []string) (denied []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if !CanSubscribe(client, topic) {
			denied = append(denied, topic)
			continue
		}
		if h.hasLocked(client, topic) {
			continue
		}
		h.addLocked(client, topic)
		client.Topics = append(client.Topics, topic)
	}
	return denied
}

// Unsubscribe removes topics from a client. The client's own user topic is
// never removed.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	own := UserTopic(client.TenantID, client.Identity.UserID)
	drop := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if t == own {
			continue
		}
		drop[t] = struct{}{}
		h.removeLocked(client, t)
	}

	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, rm := drop[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) addLocked(client *Client, topic string) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) removeLocked(client *Client, topic string) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

func (h *Hub) hasLocked(client *Client, topic string) bool {
	_, ok := h.clients[topic][client]
	return ok
}

// ProcessMessage dispatches an inbound ClientMessage.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if denied := h.Subscribe(client, msg.Topics); len(denied) > 0 {
			h.logger.Warn().
				Str("user_id", client.Identity.UserID).
				Strs("topics", denied).
				Msg("subscription refused")
		}
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends msg to every client subscribed to topic. Slow clients
// whose buffer is full miss the message.
func (h *Hub) Broadcast(topic string, msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("marshal message")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
			delivered++
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, dropping message")
		}
	}
	return delivered
}

// Publish broadcasts msg to its topic, stamping the time when unset.
func (h *Hub) Publish(_ context.Context, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	h.Broadcast(msg.Topic, msg)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Handler upgrades authenticated HTTP requests to WebSocket connections.
type Handler struct {
	hub         *Hub
	specialties SpecialtyLookup
	upgrader    gorillawebsocket.Upgrader
}

// NewHandler accepts connections from the listed origins; an empty list or
// "*" accepts any origin. specialties may be nil, in which case doctors only
// receive their user topic.
func NewHandler(hub *Hub, allowedOrigins []string, specialties SpecialtyLookup) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Handler{
		hub:         hub,
		specialties: specialties,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(origins) == 0 || origins["*"] || origins[origin]
			},
		},
	}
}

func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect upgrades the connection, subscribes it to the caller's user
// topic (and a doctor's specialty pool) and starts the read and write pumps.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	ctx := c.Request().Context()
	id, ok := auth.IdentityFromContext(ctx)
	if !ok || id.UserID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	tenantID := db.TenantFromContext(ctx)
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant required")
	}
	client, err := wsh.newClient(ctx, tenantID, id)
	if err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	wsh.hub.Register(client)

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)

	return nil
}

func (wsh *Handler) newClient(ctx context.Context, tenantID string, id auth.Identity) (*Client, error) {
	client := &Client{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Identity: id,
		Topics:   []string{UserTopic(tenantID, id.UserID)},
		Send:     make(chan []byte, sendBuffer),
	}
	if id.IsDoctor() && wsh.specialties != nil {
		specialty, err := wsh.specialties.DoctorSpecialty(ctx, id.DoctorID)
		if err != nil {
			return nil, fmt.Errorf("resolve doctor specialty: %w", err)
		}
		if strings.TrimSpace(specialty) != "" {
			client.Specialty = specialty
			client.Topics = append(client.Topics, SpecialtyTopic(tenantID, specialty))
		}
	}
	return client, nil
}

func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case data, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
