package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"artnet2ha/internal/artnet"
	"artnet2ha/internal/logger"
	"artnet2ha/internal/policy"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type publication struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// fakeClient implements the parts of mqtt.Client the bridge uses.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	connectToken mqtt.Token
	publishErr   error
	pubs         []publication
	subs         []string
	disconnects  int
}

func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectToken != nil {
		return f.connectToken
	}
	f.connected = true
	return doneToken(nil)
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	default:
		body = fmt.Sprint(p)
	}
	f.pubs = append(f.pubs, publication{topic: topic, qos: qos, retained: retained, payload: body})
	return doneToken(f.publishErr)
}

func (f *fakeClient) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, topic)
	return doneToken(nil)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeClient) publications() []publication {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publication(nil), f.pubs...)
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

func testDiscovery() DiscoveryConf {
	return DiscoveryConf{
		Prefix:       "homeassistant",
		NodeName:     "artnet_bridge",
		ObjectPrefix: "artnet",
		ForceUpdate:  true,
		Universe:     0,
		StartChannel: 1,
		ChannelCount: 3,
	}
}

func newTestClient(t *testing.T, fake *fakeClient) *ClientMQTT {
	t.Helper()
	c := NewClient(logger.Discard(), MQTTConf{ClientID: "artnet_bridge", Host: "broker", Port: "1883"}, testDiscovery())
	c.newClient = func(*mqtt.ClientOptions) mqtt.Client { return fake }
	return c
}

func TestBuildOptions(t *testing.T) {
	c := NewClient(logger.Discard(), MQTTConf{
		ClientID:     "bridge-1",
		Host:         "core-mosquitto",
		Port:         "1883",
		User:         "user",
		Password:     "secret",
		KeepAlive:    30,
		ReconnectMin: 2,
		ReconnectMax: 20,
	}, testDiscovery())
	opts := c.buildOptions()

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://core-mosquitto:1883", opts.Servers[0].String())
	assert.Equal(t, "bridge-1", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, int64(30), opts.KeepAlive)
	assert.Equal(t, 2*time.Second, opts.ConnectRetryInterval)
	assert.Equal(t, 20*time.Second, opts.MaxReconnectInterval)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.ConnectRetry)

	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "artnet_bridge/status", opts.WillTopic)
	assert.Equal(t, PayloadOffline, string(opts.WillPayload))
	assert.Equal(t, byte(1), opts.WillQos)
	assert.True(t, opts.WillRetained)
}

func TestPublish_Validation(t *testing.T) {
	c := newTestClient(t, &fakeClient{})

	assert.ErrorIs(t, c.Publish("", "1", 0, false), ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish("a/b", "1", 2, false), ErrInvalidQoS)
	assert.ErrorIs(t, c.Publish("a/b", "1", 0, false), ErrNotConnected, "not started")
}

func TestPublish_ChannelAndAddress(t *testing.T) {
	fake := &fakeClient{}
	c := newTestClient(t, fake)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.PublishChannel(0, 12, 255))
	require.NoError(t, c.PublishAddress("192.168.1.20"))

	pubs := fake.publications()
	require.Len(t, pubs, 2)
	assert.Equal(t, publication{topic: "artnet_bridge/u/0/ch/12", qos: 0, retained: false, payload: "255"}, pubs[0])
	assert.Equal(t, publication{topic: "artnet_bridge/eth/ip", qos: 1, retained: true, payload: "192.168.1.20"}, pubs[1])
}

func TestPublish_HandedToPahoWhileConnecting(t *testing.T) {
	connect := &fakeToken{done: make(chan struct{})}
	fake := &fakeClient{connectToken: connect}
	c := newTestClient(t, fake)

	pol := policy.New(clockwork.NewFakeClock(), policy.Conf{StartChannel: 1, ChannelCount: 3, PublishOnChangeOnly: true}, nil)
	l := artnet.NewListener(logger.Discard(), artnet.ListenerConf{StartChannel: 1, ChannelCount: 3}, pol, c, nil)
	scene := artnet.Frame{Data: []byte{10, 20, 30}}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()
	require.Eventually(t, func() bool { return c.getClient() != nil }, time.Second, time.Millisecond)
	require.False(t, fake.IsConnected())

	assert.Equal(t, 3, l.HandleFrame(scene))

	close(connect.done)
	require.NoError(t, <-errCh)
	for i := 0; i < 100; i++ {
		l.HandleFrame(scene)
	}

	var channels []string
	for _, p := range fake.publications() {
		channels = append(channels, p.topic+"="+p.payload)
	}
	assert.Equal(t, []string{
		"artnet_bridge/u/0/ch/1=10",
		"artnet_bridge/u/0/ch/2=20",
		"artnet_bridge/u/0/ch/3=30",
	}, channels)
}

func TestPublish_TokenError(t *testing.T) {
	fake := &fakeClient{publishErr: errors.New("broken pipe")}
	c := newTestClient(t, fake)
	require.NoError(t, c.Start(context.Background()))

	err := c.PublishChannel(0, 1, 1)
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestStart_ContextCanceled(t *testing.T) {
	fake := &fakeClient{connectToken: &fakeToken{done: make(chan struct{})}}
	c := newTestClient(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Start(ctx)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStart_ConnectError(t *testing.T) {
	fake := &fakeClient{connectToken: doneToken(errors.New("not authorized"))}
	c := newTestClient(t, fake)

	assert.ErrorIs(t, c.Start(context.Background()), ErrConnectionFailed)
}

func TestConnectHandler_AnnouncesNode(t *testing.T) {
	fake := &fakeClient{}
	c := newTestClient(t, fake)
	require.NoError(t, c.Start(context.Background()))

	c.connectHandler(fake)

	pubs := fake.publications()
	require.Len(t, pubs, 1+1+3, "online + ip sensor + 3 channel sensors")
	assert.Equal(t, publication{topic: "artnet_bridge/status", qos: 1, retained: true, payload: PayloadOnline}, pubs[0])
	for _, p := range pubs[1:] {
		assert.Equal(t, byte(1), p.qos)
		assert.True(t, p.retained)
	}
	assert.Equal(t, []string{"homeassistant/status"}, fake.subs)
}

func TestMessageHandler_BirthRepublishesDiscovery(t *testing.T) {
	fake := &fakeClient{}
	c := newTestClient(t, fake)
	require.NoError(t, c.Start(context.Background()))

	c.messageHandler(fake, fakeMessage{topic: "homeassistant/status", payload: []byte("offline")})
	assert.Empty(t, fake.publications())

	c.messageHandler(fake, fakeMessage{topic: "other/status", payload: []byte("online")})
	assert.Empty(t, fake.publications())

	c.messageHandler(fake, fakeMessage{topic: "homeassistant/status", payload: []byte(" Online\n")})
	assert.Len(t, fake.publications(), 4)
}

func TestStop_PublishesOfflineOnce(t *testing.T) {
	fake := &fakeClient{}
	c := newTestClient(t, fake)
	require.NoError(t, c.Start(context.Background()))
	require.True(t, c.IsConnected())

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	pubs := fake.publications()
	require.Len(t, pubs, 1)
	assert.Equal(t, publication{topic: "artnet_bridge/status", qos: 1, retained: true, payload: PayloadOffline}, pubs[0])
	assert.Equal(t, 1, fake.disconnects)
	assert.ErrorIs(t, c.HealthCheck(), ErrNotConnected)
	assert.ErrorIs(t, c.PublishChannel(0, 1, 1), ErrNotConnected)
}

func TestStop_BeforeStart(t *testing.T) {
	c := newTestClient(t, &fakeClient{})
	assert.NoError(t, c.Stop())
}

func TestBuildDiscovery(t *testing.T) {
	cfg := testDiscovery()
	cfg.Universe = 2
	cfg.StartChannel = 10
	cfg.ExpireAfter = 60
	cfg.ForceUpdate = false

	msgs, err := BuildDiscovery(cfg)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, "homeassistant/sensor/artnet_eth_ip/config", msgs[0].Topic)
	var ip map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &ip))
	assert.Equal(t, "artnet_bridge_ip", ip["unique_id"])
	assert.Equal(t, "artnet_bridge/eth/ip", ip["state_topic"])
	assert.Equal(t, "diagnostic", ip["entity_category"])
	assert.NotContains(t, ip, "force_update")

	assert.Equal(t, "homeassistant/sensor/artnet_u2_ch10/config", msgs[1].Topic)
	assert.Equal(t, "homeassistant/sensor/artnet_u2_ch12/config", msgs[3].Topic)

	var ch SensorConfig
	require.NoError(t, json.Unmarshal(msgs[2].Payload, &ch))
	assert.Equal(t, "DMX U2 CH11", ch.Name)
	assert.Equal(t, "artnet_bridge_u2_ch11", ch.UniqueID)
	assert.Equal(t, "artnet_bridge/u/2/ch/11", ch.StateTopic)
	assert.Equal(t, "artnet_bridge/status", ch.AvailabilityTopic)
	assert.Equal(t, "measurement", ch.StateClass)
	assert.Equal(t, 60, ch.ExpireAfter)
	require.NotNil(t, ch.ForceUpdate)
	assert.False(t, *ch.ForceUpdate)
	assert.Equal(t, []string{"artnet_bridge"}, ch.Device.Identifiers)
}

func TestBuildDiscovery_NoExpireAfter(t *testing.T) {
	msgs, err := BuildDiscovery(testDiscovery())
	require.NoError(t, err)

	var ch map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &ch))
	assert.NotContains(t, ch, "expire_after")
	assert.Equal(t, true, ch["force_update"])
}
