package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/irfndi/AetherStake/internal/ledger"
	"github.com/irfndi/AetherStake/internal/staking"
	"github.com/sirupsen/logrus"
)

// Subscription represents a client subscription to a topic
type Subscription struct {
	Client *Client
	Topic  string
}

// Hub maintains the set of active clients and fans committed staking
// operations out to topic subscribers
type Hub struct {
	// Registered clients
	Clients map[*Client]bool

	// Register requests from the clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Subscribe requests from clients
	Subscribe chan *Subscription

	// Unsubscribe requests from clients
	Unsubscribe chan *Subscription

	// Topic subscriptions: topic -> clients
	Subscriptions map[string]map[*Client]bool

	Stats ConnectionStats

	mu       sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
	logger   *logrus.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		Clients:       make(map[*Client]bool),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		Subscribe:     make(chan *Subscription),
		Unsubscribe:   make(chan *Subscription),
		Subscriptions: make(map[string]map[*Client]bool),
		stop:          make(chan struct{}),
		logger:        logger,
		Stats: ConnectionStats{
			LastUpdate: time.Now(),
		},
	}
}

// Run handles client registration and subscriptions until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.dropClient(client)

		case subscription := <-h.Subscribe:
			h.subscribeClient(subscription)

		case subscription := <-h.Unsubscribe:
			h.unsubscribeClient(subscription)

		case <-h.stop:
			return
		}
	}
}

// send hands a request to the run loop unless the hub has stopped
func send[T any](h *Hub, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.stop:
		return false
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Clients[client] = true
	h.Stats.TotalConnections++
	h.Stats.ActiveConnections++
	h.Stats.LastUpdate = time.Now()

	h.logger.WithFields(logrus.Fields{
		"client_id": client.ID,
		"active":    h.Stats.ActiveConnections,
	}).Debug("Client registered")
}

// dropClient removes a client and its subscriptions. Send is closed here and
// nowhere else so WritePump can flush a close frame.
func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropClientLocked(client)
}

func (h *Hub) dropClientLocked(client *Client) {
	if _, ok := h.Clients[client]; !ok {
		return
	}

	delete(h.Clients, client)
	close(client.Send)
	h.Stats.ActiveConnections--
	h.Stats.LastUpdate = time.Now()

	for topic, clients := range h.Subscriptions {
		if _, subscribed := clients[client]; subscribed {
			delete(clients, client)
			h.Stats.TotalSubscriptions--
			if len(clients) == 0 {
				delete(h.Subscriptions, topic)
			}
		}
	}

	h.logger.WithFields(logrus.Fields{
		"client_id": client.ID,
		"active":    h.Stats.ActiveConnections,
	}).Debug("Client unregistered")
}

func (h *Hub) subscribeClient(subscription *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.Clients[subscription.Client]; !ok {
		return
	}
	if h.Subscriptions[subscription.Topic] == nil {
		h.Subscriptions[subscription.Topic] = make(map[*Client]bool)
	}
	if !h.Subscriptions[subscription.Topic][subscription.Client] {
		h.Subscriptions[subscription.Topic][subscription.Client] = true
		h.Stats.TotalSubscriptions++
		h.Stats.LastUpdate = time.Now()
	}
}

func (h *Hub) unsubscribeClient(subscription *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, exists := h.Subscriptions[subscription.Topic]; exists {
		if _, subscribed := clients[subscription.Client]; subscribed {
			delete(clients, subscription.Client)
			h.Stats.TotalSubscriptions--
			h.Stats.LastUpdate = time.Now()

			if len(clients) == 0 {
				delete(h.Subscriptions, subscription.Topic)
			}
		}
	}
}

// BroadcastToTopic sends message to every subscriber of topic. Clients whose
// buffer is full are disconnected.
func (h *Hub) BroadcastToTopic(topic string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).WithField("topic", topic).Error("Failed to marshal websocket message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var sent, dropped int64
	for client := range h.Subscriptions[topic] {
		select {
		case client.Send <- data:
			sent++
		default:
			dropped++
			h.dropClientLocked(client)
		}
	}

	if sent > 0 || dropped > 0 {
		h.Stats.MessagesSent += sent
		h.Stats.MessagesDropped += dropped
		h.Stats.LastUpdate = time.Now()
	}
}

// Publish fans a committed staking operation out to the pool topic and, when
// a position changed, to the owner's position topic
func (h *Hub) Publish(receipt *staking.Receipt) {
	pool := receipt.Pool
	if pool == nil {
		return
	}
	now := time.Now()

	h.BroadcastToTopic(PoolTopic(pool.PoolID), Message{
		Type:   MessageTypePoolUpdate,
		Topic:  string(TopicPools),
		PoolID: pool.PoolID,
		Data: PoolUpdate{
			OpID:         receipt.OpID,
			Op:           receipt.Op,
			PoolID:       pool.PoolID,
			Caller:       receipt.Caller(),
			Amount:       receipt.Amount,
			Reward:       receipt.Reward,
			APY:          pool.APY,
			LockDuration: pool.LockDuration,
			StartTime:    pool.StartTime,
			EndTime:      pool.EndTime,
			TotalStaked:  ledger.ToDecimal(pool.TotalStaked, pool.TokenDecimals),
			RewardPool:   ledger.ToDecimal(pool.RewardPool, pool.TokenDecimals),
			OpTime:       receipt.Timestamp,
		},
		Timestamp: now,
	})

	position := receipt.Position
	if position == nil {
		return
	}
	h.BroadcastToTopic(PositionTopic(position.Owner), Message{
		Type:   MessageTypePositionUpdate,
		Topic:  string(TopicPositions),
		PoolID: pool.PoolID,
		Data: PositionUpdate{
			OpID:            receipt.OpID,
			Op:              receipt.Op,
			PoolID:          pool.PoolID,
			Owner:           position.Owner,
			StakedAmount:    ledger.ToDecimal(position.StakedAmount, pool.TokenDecimals),
			StakeStartTime:  position.StakeStartTime,
			RewardStartTime: position.RewardStartTime,
			UnlockTime:      position.UnlockTime(),
			APY:             position.APY,
			Reward:          ledger.ToDecimal(receipt.Reward, pool.TokenDecimals),
			OpTime:          receipt.Timestamp,
		},
		Timestamp: now,
	})
}

// GetStats returns current connection statistics
func (h *Hub) GetStats() ConnectionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Stats
}

// GetClientCount returns the number of active clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients)
}

// GetSubscriptionCount returns the total number of subscriptions
func (h *Hub) GetSubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.Subscriptions {
		count += len(clients)
	}
	return count
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)

		h.mu.Lock()
		clients := make([]*Client, 0, len(h.Clients))
		for client := range h.Clients {
			clients = append(clients, client)
			h.dropClientLocked(client)
		}
		h.mu.Unlock()

		for _, client := range clients {
			client.cancel()
		}
	})
}
