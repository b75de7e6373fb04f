package mqtt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/network"
)

func noopCallback(*CallbackParam) {}

func TestValidateConnectInfo(t *testing.T) {
	tests := []struct {
		name  string
		info  ConnectInfo
		valid bool
	}{
		{"clean session without client id", ConnectInfo{CleanSession: true}, true},
		{"persistent session requires client id", ConnectInfo{}, false},
		{"aws client id limit", ConnectInfo{AWSIoTMode: true, ClientIdentifier: strings.Repeat("c", 129)}, false},
		{"aws client id at limit", ConnectInfo{AWSIoTMode: true, ClientIdentifier: strings.Repeat("c", 128)}, true},
		{
			"will with wildcard topic",
			ConnectInfo{ClientIdentifier: "c", Will: &PublishInfo{TopicName: "a/#"}},
			false,
		},
		{
			"will payload too large",
			ConnectInfo{ClientIdentifier: "c", Will: &PublishInfo{TopicName: "a", Payload: make([]byte, 65536)}},
			false,
		},
		{
			"previous subscriptions with clean session",
			ConnectInfo{
				ClientIdentifier:      "c",
				CleanSession:          true,
				PreviousSubscriptions: []Subscription{{TopicFilter: "a", Callback: noopCallback}},
			},
			false,
		},
		{
			"previous subscriptions",
			ConnectInfo{
				ClientIdentifier:      "c",
				PreviousSubscriptions: []Subscription{{TopicFilter: "a/+", Callback: noopCallback}},
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConnectInfo(&tt.info)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrBadParameter)
			}
		})
	}
}

func TestValidateNetworkInfo(t *testing.T) {
	assert.ErrorIs(t, validateNetworkInfo(&NetworkInfo{}), ErrBadParameter)
	assert.ErrorIs(t, validateNetworkInfo(&NetworkInfo{CreateNetworkConnection: true}), ErrBadParameter)
	assert.ErrorIs(t, validateNetworkInfo(&NetworkInfo{
		CreateNetworkConnection: true,
		Interface:               network.TCP{},
		Server:                  network.ServerInfo{Host: "localhost"},
	}), ErrBadParameter)
	assert.NoError(t, validateNetworkInfo(&NetworkInfo{
		CreateNetworkConnection: true,
		Interface:               network.TCP{},
		Server:                  network.ServerInfo{Host: "localhost", Port: 1883},
	}))
}

func TestValidatePublish(t *testing.T) {
	assert.ErrorIs(t, validatePublish(false, nil, nil), ErrBadParameter)
	assert.ErrorIs(t, validatePublish(false, &PublishInfo{TopicName: "a", QoS: 2}, nil), ErrBadParameter)
	assert.ErrorIs(t, validatePublish(false, &PublishInfo{TopicName: "a", QoS: QoS1, RetryLimit: 3}, nil), ErrBadParameter)
	assert.NoError(t, validatePublish(false, &PublishInfo{
		TopicName: "a", QoS: QoS1, RetryLimit: 3, RetryInterval: time.Second,
	}, nil))

	long := strings.Repeat("t", awsMaxTopicLength+1)
	assert.NoError(t, validatePublish(false, &PublishInfo{TopicName: long}, nil))
	assert.ErrorIs(t, validatePublish(true, &PublishInfo{TopicName: long}, nil), ErrBadParameter)
}

func TestValidatePublishWarnsOnAWSRetain(t *testing.T) {
	var warned []string
	warn := func(msg string, _ ...any) { warned = append(warned, msg) }

	require.NoError(t, validatePublish(true, &PublishInfo{TopicName: "a", Retain: true}, warn))
	assert.Len(t, warned, 1)

	require.NoError(t, validatePublish(false, &PublishInfo{TopicName: "a", Retain: true}, warn))
	assert.Len(t, warned, 1)
}

func TestValidateSubscriptionList(t *testing.T) {
	sub := Subscription{TopicFilter: "a/+", Callback: noopCallback}

	assert.ErrorIs(t, validateSubscriptionList(OperationSubscribe, false, nil), ErrBadParameter)
	assert.NoError(t, validateSubscriptionList(OperationSubscribe, false, []Subscription{sub}))
	assert.ErrorIs(t, validateSubscriptionList(OperationSubscribe, false,
		[]Subscription{{TopicFilter: "a"}}), ErrBadParameter, "callback required")
	assert.NoError(t, validateSubscriptionList(OperationUnsubscribe, false,
		[]Subscription{{TopicFilter: "a"}}), "unsubscribe ignores callback")
	assert.ErrorIs(t, validateSubscriptionList(OperationSubscribe, false,
		[]Subscription{{TopicFilter: "a", QoS: 2, Callback: noopCallback}}), ErrBadParameter)

	nine := make([]Subscription, 9)
	for i := range nine {
		nine[i] = sub
	}
	assert.NoError(t, validateSubscriptionList(OperationSubscribe, false, nine))
	assert.ErrorIs(t, validateSubscriptionList(OperationSubscribe, true, nine), ErrBadParameter)
	assert.NoError(t, validateSubscriptionList(OperationSubscribe, true, nine[:8]))
}

func TestEffectiveKeepAlive(t *testing.T) {
	tests := []struct {
		aws  bool
		in   uint16
		want uint16
	}{
		{false, 0, 0},
		{false, 5, 5},
		{false, 5000, 5000},
		{true, 0, 1200},
		{true, 5, 30},
		{true, 30, 30},
		{true, 600, 600},
		{true, 5000, 1200},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, effectiveKeepAlive(tt.aws, tt.in), "aws=%v in=%d", tt.aws, tt.in)
	}
}
