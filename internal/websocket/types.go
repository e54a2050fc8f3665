package websocket

import (
	"time"

	"github.com/irfndi/AetherStake/internal/models"
	"github.com/shopspring/decimal"
)

// MessageType represents different types of WebSocket messages
type MessageType string

const (
	MessageTypeSubscribe      MessageType = "subscribe"
	MessageTypeUnsubscribe    MessageType = "unsubscribe"
	MessageTypePoolUpdate     MessageType = "pool_update"
	MessageTypePositionUpdate MessageType = "position_update"
	MessageTypeError          MessageType = "error"
	MessageTypePing           MessageType = "ping"
	MessageTypePong           MessageType = "pong"
)

// SubscriptionTopic represents different subscription topics
type SubscriptionTopic string

const (
	TopicPools     SubscriptionTopic = "pools"
	TopicPositions SubscriptionTopic = "positions"
)

// PoolTopic is the topic carrying updates of one pool
func PoolTopic(poolID string) string {
	return string(TopicPools) + ":" + poolID
}

// PositionTopic is the topic carrying position updates of one address
func PositionTopic(address string) string {
	return string(TopicPositions) + ":" + address
}

// Message represents a generic WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	PoolID    string      `json:"pool_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

// PoolUpdate carries pool counters after a committed operation
type PoolUpdate struct {
	OpID         string                 `json:"op_id"`
	Op           models.TransactionType `json:"op"`
	PoolID       string                 `json:"pool_id"`
	Caller       string                 `json:"caller"`
	Amount       uint64                 `json:"amount"`
	Reward       uint64                 `json:"reward"`
	APY          uint64                 `json:"apy"`
	LockDuration int64                  `json:"lock_duration"`
	StartTime    int64                  `json:"start_time"`
	EndTime      int64                  `json:"end_time"`
	TotalStaked  decimal.Decimal        `json:"total_staked"`
	RewardPool   decimal.Decimal        `json:"reward_pool"`
	OpTime       int64                  `json:"op_time"`
}

// PositionUpdate carries a participant's position after a committed operation
type PositionUpdate struct {
	OpID            string                 `json:"op_id"`
	Op              models.TransactionType `json:"op"`
	PoolID          string                 `json:"pool_id"`
	Owner           string                 `json:"owner"`
	StakedAmount    decimal.Decimal        `json:"staked_amount"`
	StakeStartTime  int64                  `json:"stake_start_time"`
	RewardStartTime int64                  `json:"reward_start_time"`
	UnlockTime      int64                  `json:"unlock_time"`
	APY             uint64                 `json:"apy"`
	Reward          decimal.Decimal        `json:"reward"`
	OpTime          int64                  `json:"op_time"`
}

// ErrorMessage represents an error message
type ErrorMessage struct {
	Type      MessageType `json:"type"`
	Error     string      `json:"error"`
	Code      int         `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConnectionStats represents WebSocket connection statistics
type ConnectionStats struct {
	TotalConnections   int       `json:"total_connections"`
	ActiveConnections  int       `json:"active_connections"`
	TotalSubscriptions int       `json:"total_subscriptions"`
	MessagesSent       int64     `json:"messages_sent"`
	MessagesDropped    int64     `json:"messages_dropped"`
	LastUpdate         time.Time `json:"last_update"`
}
