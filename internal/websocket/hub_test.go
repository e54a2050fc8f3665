package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/irfndi/AetherStake/internal/models"
	"github.com/irfndi/AetherStake/internal/staking"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const staker = "0x2222222222222222222222222222222222222222"

func newTestHub(t *testing.T) *Hub {
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func subscribe(t *testing.T, hub *Hub, client *Client, topic string) {
	before := hub.GetSubscriptionCount()
	hub.Subscribe <- &Subscription{Client: client, Topic: topic}
	require.Eventually(t, func() bool {
		return hub.GetSubscriptionCount() == before+1
	}, time.Second, 5*time.Millisecond)
}

func register(t *testing.T, hub *Hub, id string) *Client {
	client := NewClient(nil, hub, id)
	before := hub.GetClientCount()
	hub.Register <- client
	require.Eventually(t, func() bool {
		return hub.GetClientCount() == before+1
	}, time.Second, 5*time.Millisecond)
	return client
}

func receive(t *testing.T, client *Client) Message {
	select {
	case data := <-client.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func stakeReceipt() *staking.Receipt {
	return &staking.Receipt{
		OpID: "op-1",
		Op:   models.TransactionTypeStake,
		Pool: &models.StakingPool{
			PoolID:        "pool-1",
			APY:           10,
			TotalStaked:   1_000_000_000,
			TokenDecimals: 9,
		},
		Position: &models.UserPosition{
			PoolID:         "pool-1",
			Owner:          staker,
			StakedAmount:   1_000_000_000,
			StakeStartTime: 100,
			LockDuration:   50,
			APY:            10,
		},
		Amount:    1_000_000_000,
		Timestamp: 100,
	}
}

func TestHub_PublishRoutesByTopic(t *testing.T) {
	hub := newTestHub(t)
	poolWatcher := register(t, hub, "pool-watcher")
	owner := register(t, hub, "owner")
	other := register(t, hub, "other")

	subscribe(t, hub, poolWatcher, PoolTopic("pool-1"))
	subscribe(t, hub, owner, PositionTopic(staker))
	subscribe(t, hub, other, PoolTopic("pool-2"))

	hub.Publish(stakeReceipt())

	msg := receive(t, poolWatcher)
	assert.Equal(t, MessageTypePoolUpdate, msg.Type)
	assert.Equal(t, "pool-1", msg.PoolID)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, "stake", data["op"])
	assert.Equal(t, "1", data["total_staked"])
	assert.Equal(t, float64(100), data["op_time"])

	msg = receive(t, owner)
	assert.Equal(t, MessageTypePositionUpdate, msg.Type)
	data = msg.Data.(map[string]interface{})
	assert.Equal(t, staker, data["owner"])
	assert.Equal(t, float64(150), data["unlock_time"])

	assert.Len(t, other.Send, 0)
	assert.Equal(t, int64(2), hub.GetStats().MessagesSent)
}

func TestHub_PublishWithoutPosition(t *testing.T) {
	hub := newTestHub(t)
	owner := register(t, hub, "owner")
	subscribe(t, hub, owner, PositionTopic(staker))

	receipt := stakeReceipt()
	receipt.Position = nil
	hub.Publish(receipt)
	hub.Publish(&staking.Receipt{})

	assert.Len(t, owner.Send, 0)
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub := newTestHub(t)
	slow := register(t, hub, "slow")
	subscribe(t, hub, slow, PoolTopic("pool-1"))

	for i := 0; i < cap(slow.Send); i++ {
		slow.Send <- []byte("{}")
	}
	hub.Publish(stakeReceipt())

	assert.Equal(t, 0, hub.GetClientCount())
	assert.Equal(t, 0, hub.GetSubscriptionCount())
	assert.Equal(t, int64(1), hub.GetStats().MessagesDropped)

	for range slow.Send {
	}
	_, ok := <-slow.Send
	assert.False(t, ok)
}

func TestHub_UnregisterAndStop(t *testing.T) {
	hub := newTestHub(t)
	client := register(t, hub, "a")
	subscribe(t, hub, client, PoolTopic("pool-1"))

	hub.Unsubscribe <- &Subscription{Client: client, Topic: PoolTopic("pool-1")}
	require.Eventually(t, func() bool { return hub.GetSubscriptionCount() == 0 }, time.Second, 5*time.Millisecond)

	second := register(t, hub, "b")
	hub.Unregister <- client
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Stop()
	hub.Stop()
	assert.Equal(t, 0, hub.GetClientCount())
	_, ok := <-second.Send
	assert.False(t, ok)
	assert.False(t, send(hub, hub.Register, NewClient(nil, hub, "late")))
}

func TestClient_HandleMessage(t *testing.T) {
	hub := newTestHub(t)
	client := register(t, hub, "a")

	client.handleMessage([]byte(`not json`))
	assert.Equal(t, MessageTypeError, receive(t, client).Type)

	client.handleMessage([]byte(`{"type":"ping"}`))
	assert.Equal(t, MessageTypePong, receive(t, client).Type)

	client.handleMessage([]byte(`{"type":"subscribe","topic":"pools"}`))
	assert.Equal(t, MessageTypeError, receive(t, client).Type)

	client.handleMessage([]byte(`{"type":"subscribe","topic":"positions"}`))
	assert.Equal(t, MessageTypeError, receive(t, client).Type)

	client.handleMessage([]byte(`{"type":"subscribe","topic":"pools","pool_id":"pool-1"}`))
	msg := receive(t, client)
	assert.Equal(t, MessageTypeSubscribe, msg.Type)
	assert.Equal(t, PoolTopic("pool-1"), msg.Topic)
	assert.True(t, client.IsSubscribed(PoolTopic("pool-1")))

	client.SetAuth(staker)
	client.handleMessage([]byte(`{"type":"subscribe","topic":"positions"}`))
	msg = receive(t, client)
	assert.Equal(t, PositionTopic(staker), msg.Topic)

	client.handleMessage([]byte(`{"type":"unsubscribe","topic":"pools","pool_id":"pool-1"}`))
	assert.Equal(t, MessageTypeUnsubscribe, receive(t, client).Type)
	assert.False(t, client.IsSubscribed(PoolTopic("pool-1")))

	client.handleMessage([]byte(`{"type":"bogus"}`))
	assert.Equal(t, MessageTypeError, receive(t, client).Type)
}
