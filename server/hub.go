package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/puyokura/orbitchat/engine"
	"github.com/puyokura/orbitchat/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	defaultChannel = "general"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id  string
	hub *Hub

	// The websocket connection. Nil in tests.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send    chan []byte
	sendMu  sync.Mutex
	closed  bool
	limiter *rate.Limiter

	mu        sync.Mutex
	accountID string
	channelID string
}

func (h *Hub) newClient(conn *websocket.Conn) *Client {
	return &Client{
		id:        uuid.NewString(),
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		limiter:   rate.NewLimiter(rate.Limit(h.rps), h.burst),
		channelID: defaultChannel,
	}
}

// session returns the logged in account id ("" when anonymous) and the
// channel the client is viewing.
func (c *Client) session() (accountID, channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountID, c.channelID
}

func (c *Client) setSession(accountID, channelID string) {
	c.mu.Lock()
	c.accountID = accountID
	c.channelID = channelID
	c.mu.Unlock()
}

func (c *Client) setChannel(channelID string) {
	c.mu.Lock()
	c.channelID = channelID
	c.mu.Unlock()
}

// enqueue never blocks; a full buffer drops the event.
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// envelope is a pending delivery. A nil channel means every client.
type envelope struct {
	channel *model.Channel
	data    []byte
}

// Hub maintains the set of active clients and fans out channel events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client

	ctx    context.Context
	engine *engine.Engine
	config *Config
	log    *zap.Logger
	rps    float64
	burst  int

	mu sync.Mutex
}

func NewHub(ctx context.Context, eng *engine.Engine, config *Config, logger *zap.Logger) *Hub {
	rps, burst := config.RateLimit.RPS, config.RateLimit.Burst
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &Hub{
		broadcast:  make(chan envelope, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		ctx:        ctx,
		engine:     eng,
		config:     config,
		log:        logger,
		rps:        rps,
		burst:      burst,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

// deliver sends env to every client that should see it. Named channel events
// go to clients viewing the channel; direct channel events go to the two
// participants wherever they are.
func (h *Hub) deliver(env envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		accountID, viewing := client.session()
		if env.channel != nil {
			if env.channel.Kind == model.ChannelDirect {
				if !env.channel.HasParticipant(accountID) {
					continue
				}
			} else if viewing != env.channel.ID {
				continue
			}
		}
		if !client.enqueue(env.data) {
			h.log.Warn("client_dropped", zap.String("client", client.id), zap.String("account", accountID))
			delete(h.clients, client)
			client.close()
		}
	}
}

func jsonEvent(eventType model.EventType, payload any) ([]byte, error) {
	return json.Marshal(model.Event{Type: eventType, Payload: payload})
}

func (h *Hub) publish(ch *model.Channel, eventType model.EventType, payload any) {
	data, err := jsonEvent(eventType, payload)
	if err != nil {
		h.log.Error("event_encode_failed", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- envelope{channel: ch, data: data}:
	case <-h.ctx.Done():
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket_read_failed", zap.String("client", c.id), zap.Error(err))
			}
			break
		}

		var event model.Event
		if err := json.Unmarshal(message, &event); err != nil {
			c.hub.log.Debug("invalid_event", zap.String("client", c.id), zap.Error(err))
			continue
		}
		c.handleEvent(event)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleEvent(event model.Event) {
	if event.Type != model.EventMessage {
		return
	}
	content, ok := event.Payload.(string)
	if !ok {
		return
	}
	c.processMessage(content)
}

func (c *Client) processMessage(content string) {
	if !c.limiter.Allow() {
		c.sendEvent(model.EventError, model.ErrorPayload{Kind: "RATE_LIMITED", Message: "slow down"})
		return
	}
	if len(content) > 0 && content[0] == '/' {
		c.handleCommand(content)
		return
	}

	accountID, channelID := c.session()
	if accountID == "" {
		c.sendSystemMessage("Please login first using /login <email> <password> or /register <email> <password> <name>")
		return
	}
	msg, err := c.hub.engine.Messaging.Send(c.hub.ctx, accountID, channelID, content)
	if err != nil {
		c.sendError(err)
		return
	}
	c.hub.publishMessage(model.EventMessage, msg)
}

func (h *Hub) publishMessage(eventType model.EventType, msg model.Message) {
	ch, err := h.engine.Messaging.Channel(msg.ChannelID)
	if err != nil {
		h.log.Error("channel_lookup_failed", zap.String("channel", msg.ChannelID), zap.Error(err))
		return
	}
	h.publish(&ch, eventType, msg)
}

func (c *Client) sendEvent(eventType model.EventType, payload any) {
	data, err := jsonEvent(eventType, payload)
	if err != nil {
		c.hub.log.Error("event_encode_failed", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	c.enqueue(data)
}

func (c *Client) sendSystemMessage(text string) {
	c.sendEvent(model.EventSystem, text)
}

func (c *Client) sendError(err error) {
	kind := string(engine.KindOf(err))
	if kind == "" {
		kind = "INTERNAL"
		c.hub.log.Error("command_failed", zap.String("client", c.id), zap.Error(err))
	}
	c.sendEvent(model.EventError, model.ErrorPayload{Kind: kind, Message: err.Error()})
}

// serveWs handles websocket requests from the peer.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("websocket_upgrade_failed", zap.Error(err))
		return
	}
	client := hub.newClient(conn)
	select {
	case client.hub.register <- client:
	case <-hub.ctx.Done():
		conn.Close()
		return
	}
	hub.log.Info("client_connected", zap.String("client", client.id), zap.String("remote", r.RemoteAddr))

	go client.writePump()
	go client.readPump()

	client.sendSystemMessage(hub.config.WelcomeMessage)
}

// KickUser disconnects every client logged in as accountID.
func (h *Hub) KickUser(accountID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	kicked := false
	for client := range h.clients {
		if id, _ := client.session(); id == "" || id != accountID {
			continue
		}
		client.sendSystemMessage("You have been kicked by admin.")
		delete(h.clients, client)
		client.close()
		kicked = true
	}
	return kicked
}

func (h *Hub) BroadcastSystemMessage(text string) {
	h.publish(nil, model.EventSystem, text)
}
