package slam

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDecodeScanMessage_Ranges(t *testing.T) {
	payload := []byte(`{
		"id": 4,
		"timestamp": 1700000000250,
		"odometry": {"tx": 1, "ty": 2, "th": 270},
		"angleMin": -90,
		"angleIncrement": 90,
		"ranges": [1.0, 0.05, 2.0, 9.0]
	}`)
	scan, err := DecodeScanMessage(payload, InputConfig{MinRange: 0.1, MaxRange: 6})
	require.NoError(t, err)

	assert.Equal(t, 4, scan.ID)
	assert.Equal(t, time.UnixMilli(1700000000250), scan.Timestamp)
	assertPoseNear(t, NewPose(1, 2, -90), scan.Odometry, 1e-12, 1e-9)

	// 0.05 m is too close and 9 m too far
	require.Len(t, scan.Points, 2)
	assert.InDelta(t, 0, scan.Points[0].X, 1e-12)
	assert.InDelta(t, -1, scan.Points[0].Y, 1e-12)
	assert.InDelta(t, 0, scan.Points[1].X, 1e-12)
	assert.InDelta(t, 2, scan.Points[1].Y, 1e-12)
}

func TestDecodeScanMessage_Points(t *testing.T) {
	payload := []byte(`{"id": 1, "points": [{"x": 1.5, "y": -0.5, "nx": 1, "ny": 0}]}`)
	scan, err := DecodeScanMessage(payload, InputConfig{MaxRange: 1})
	require.NoError(t, err)
	require.Len(t, scan.Points, 1)
	assert.Equal(t, Point{X: 1.5, Y: -0.5}, scan.Points[0], "points skip the range filter and lose any normal")
}

func TestDecodeScanMessage_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		isRec   bool
	}{
		{"not json", `not json`, false},
		{"wrong type", `{"ranges": "far"}`, false},
		{"empty", `{"id": 3}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeScanMessage([]byte(tt.payload), InputConfig{})
			require.Error(t, err)
			assert.Equal(t, tt.isRec, errors.Is(err, ErrMalformedRecord))
		})
	}
}

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	src, err := InitMQTT(DefaultConfig())
	assert.NoError(t, err)
	assert.Nil(t, src)

	src, err = InitMQTT(nil)
	assert.NoError(t, err)
	assert.Nil(t, src)
}

func TestInitMQTT_NoScanTopic(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	cfg := DefaultConfig()
	cfg.MQTT.Broker = "mqtt://localhost:1883"
	cfg.MQTT.ScanTopic = ""

	_, err := InitMQTT(cfg)
	assert.ErrorContains(t, err, "scanTopic")
}

// subscribeSpy records Subscribe calls on top of the in-memory client
type subscribeSpy struct {
	*MockClient
	mock.Mock
}

func (s *subscribeSpy) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	s.Called(topic, qos)
	return s.MockClient.Subscribe(topic, qos, callback)
}

func newConnectedSource(t *testing.T) (*MQTTScanSource, *MockClient) {
	t.Helper()
	client := NewMockClient()
	client.SetConnected(true)
	cfg := DefaultConfig()
	cfg.MQTT.ScanTopic = "robot/+/scan"
	src := NewMQTTScanSource(client, cfg)
	require.NoError(t, src.Subscribe())
	t.Cleanup(src.Close)
	return src, client
}

func TestMQTTScanSource_Subscribe(t *testing.T) {
	spy := &subscribeSpy{MockClient: NewMockClient()}
	spy.On("Subscribe", "scanslam/scan", byte(1)).Return()

	cfg := DefaultConfig()
	cfg.MQTT.QoS = 1
	src := NewMQTTScanSource(spy, cfg)
	require.NoError(t, src.Subscribe())
	spy.AssertExpectations(t)

	spy.MockClient.SetSubscribeError(errors.New("denied"))
	assert.ErrorContains(t, src.Subscribe(), "denied")
}

// pendingToken never completes within a wait
type pendingToken struct{ MockToken }

func (t *pendingToken) WaitTimeout(time.Duration) bool { return false }

type stalledSubscriber struct{ *MockClient }

func (s *stalledSubscriber) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return &pendingToken{}
}

func TestMQTTScanSource_SubscribeTimeout(t *testing.T) {
	src := NewMQTTScanSource(&stalledSubscriber{NewMockClient()}, DefaultConfig())
	err := src.Subscribe()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestMQTTScanSource_DeliversInOrder(t *testing.T) {
	src, client := newConnectedSource(t)

	client.SimulateMessage("robot/a/scan", []byte(`{"id": 1, "points": [{"x": 1, "y": 0}]}`))
	client.SimulateMessage("robot/a/scan", []byte(`garbage`))
	client.SimulateMessage("robot/b/scan", []byte(`{"id": 2, "points": [{"x": 2, "y": 0}]}`))
	client.SimulateMessage("robot/a/status", []byte(`{"id": 3, "points": [{"x": 3, "y": 0}]}`))

	ctx := context.Background()
	for _, want := range []int{1, 2} {
		scan, ok, err := src.LoadNext(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, scan.ID)
	}
	received, dropped := src.Counts()
	assert.Equal(t, 2, received, "undecodable payloads are not counted")
	assert.Zero(t, dropped)
}

func TestMQTTScanSource_DropsWhenFull(t *testing.T) {
	src, client := newConnectedSource(t)
	for i := 0; i < cap(src.scans)+3; i++ {
		client.SimulateMessage("robot/a/scan", []byte(`{"points": [{"x": 1, "y": 0}]}`))
	}
	received, dropped := src.Counts()
	assert.Equal(t, cap(src.scans)+3, received)
	assert.Equal(t, 3, dropped)
}

func TestMQTTScanSource_LoadNextStops(t *testing.T) {
	src, _ := newConnectedSource(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok, err := src.LoadNext(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		src.Close()
	}()
	_, ok, err = src.LoadNext(context.Background())
	assert.False(t, ok)
	assert.NoError(t, err, "close ends the stream without an error")

	src.Close()
	assert.False(t, src.IsConnected())
}

func TestMQTTScanSource_ConnectionState(t *testing.T) {
	client := NewMockClient()
	src := NewMQTTScanSource(client, DefaultConfig())
	assert.False(t, src.IsConnected())

	src.onConnect(client)
	assert.True(t, src.IsConnected())

	src.onConnectionLost(client, errors.New("broker went away"))
	assert.False(t, src.IsConnected())
	assert.Same(t, client, src.Client())
}
