package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

// Client represents a WebSocket client connection
type Client struct {
	ID            string
	Conn          *websocket.Conn
	Hub           *Hub
	Send          chan []byte
	Subscriptions map[string]bool // topic -> subscribed
	UserAddress   string          // for authenticated connections
	IsAuth        bool
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, hub *Hub, id string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:            id,
		Conn:          conn,
		Hub:           hub,
		Send:          make(chan []byte, sendBuffer),
		Subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		send(c.Hub, c.Hub.Unregister, c)
		c.Conn.Close()
		c.cancel()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WithError(err).WithField("client_id", c.ID).Warn("WebSocket read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.cancel()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("Invalid message format", http.StatusBadRequest)
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		c.handleSubscription(msg, true)
	case MessageTypeUnsubscribe:
		c.handleSubscription(msg, false)
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong, Timestamp: time.Now()})
	default:
		c.sendError("Unknown message type", http.StatusBadRequest)
	}
}

// topicKey resolves a subscription request into a hub topic. Position
// updates are only available to the authenticated owner.
func (c *Client) topicKey(msg Message) (string, int, string) {
	switch SubscriptionTopic(msg.Topic) {
	case TopicPools:
		if msg.PoolID == "" {
			return "", http.StatusBadRequest, "Pool ID required for pool subscription"
		}
		return PoolTopic(msg.PoolID), 0, ""
	case TopicPositions:
		c.mu.RLock()
		defer c.mu.RUnlock()
		if !c.IsAuth {
			return "", http.StatusUnauthorized, "Authentication required for position subscription"
		}
		return PositionTopic(c.UserAddress), 0, ""
	default:
		return "", http.StatusBadRequest, "Invalid subscription topic"
	}
}

func (c *Client) handleSubscription(msg Message, subscribe bool) {
	key, code, reason := c.topicKey(msg)
	if key == "" {
		c.sendError(reason, code)
		return
	}

	c.mu.Lock()
	if subscribe {
		c.Subscriptions[key] = true
	} else {
		delete(c.Subscriptions, key)
	}
	c.mu.Unlock()

	subscription := &Subscription{Client: c, Topic: key}
	msgType := MessageTypeSubscribe
	if subscribe {
		send(c.Hub, c.Hub.Subscribe, subscription)
	} else {
		send(c.Hub, c.Hub.Unsubscribe, subscription)
		msgType = MessageTypeUnsubscribe
	}

	c.reply(Message{
		Type:      msgType,
		Topic:     key,
		PoolID:    msg.PoolID,
		Timestamp: time.Now(),
	})
}

// sendError sends an error message to the client
func (c *Client) sendError(errorMsg string, code int) {
	c.reply(ErrorMessage{
		Type:      MessageTypeError,
		Error:     errorMsg,
		Code:      code,
		Timestamp: time.Now(),
	})
}

// reply queues a direct response. It is dropped when the buffer is full.
func (c *Client) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if !c.Hub.Clients[c] {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// IsSubscribed checks if the client is subscribed to a topic
func (c *Client) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Subscriptions[topic]
}

// SetAuth sets the authentication status and user address
func (c *Client) SetAuth(userAddress string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.IsAuth = true
	c.UserAddress = userAddress
}
