package clientmqtt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"artnet2ha/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// publishTimeoutQoS0 keeps the Art-Net listener from stalling on a slow broker.
	publishTimeoutQoS0 = 250 * time.Millisecond
	publishTimeoutQoS1 = 5 * time.Second
	connectTimeout     = 10 * time.Second
	disconnectQuiesce  = 500 // milliseconds
)

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	ctx       context.Context
	log       logger.Logger
	cfgClient MQTTConf
	discovery DiscoveryConf
	topics    Topics
	opts      *mqtt.ClientOptions
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu      sync.RWMutex
	client  mqtt.Client
	stopped bool
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfgClient MQTTConf, discovery DiscoveryConf) *ClientMQTT {
	if cfgClient.Schema == "" {
		cfgClient.Schema = "tcp"
	}
	return &ClientMQTT{
		ctx:       context.Background(),
		log:       log,
		cfgClient: cfgClient,
		discovery: discovery,
		topics:    Topics{Node: discovery.NodeName},
		newClient: mqtt.NewClient,
	}
}

// Topics returns the topic builder of this node.
func (c *ClientMQTT) Topics() Topics {
	return c.topics
}

// Start connects to the broker and blocks until the first connection succeeds
// or ctx is done. Reconnection afterwards is handled by paho.
func (c *ClientMQTT) Start(ctx context.Context) error {
	redirectPahoLogs(c.log)

	c.ctx = ctx
	c.opts = c.buildOptions()

	client := c.newClient(c.opts)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	c.log.With(logger.Fields{"module": "mqtt"}).Infof("Status: %v", client.IsConnected())
	return nil
}

func (c *ClientMQTT) buildOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetClientID(c.cfgClient.ClientID).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(seconds(c.cfgClient.ReconnectMin, time.Second)).
		SetMaxReconnectInterval(seconds(c.cfgClient.ReconnectMax, 30*time.Second)).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(seconds(c.cfgClient.KeepAlive, 60*time.Second)).
		SetWill(c.topics.Availability(), PayloadOffline, 1, true)

	if c.cfgClient.User != "" {
		opts.SetUsername(c.cfgClient.User)
		opts.SetPassword(c.cfgClient.Password)
	}
	return opts
}

func seconds(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

// Stop publishes the offline status and disconnects. Safe to call more than once.
func (c *ClientMQTT) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	if client.IsConnected() {
		token := client.Publish(c.topics.Availability(), 1, true, PayloadOffline)
		if !token.WaitTimeout(publishTimeoutQoS1) {
			c.log.With(logger.Fields{"module": "mqtt"}).Warn("timeout publishing offline status")
		}
	}
	// Disconnect also stops a connect retry loop that never succeeded.
	client.Disconnect(disconnectQuiesce)
	c.log.With(logger.Fields{"module": "mqtt"}).Info("MQTT client disconnected")
	return nil
}

// IsConnected reports the current connection state.
func (c *ClientMQTT) IsConnected() bool {
	cl := c.getClient()
	return cl != nil && cl.IsConnected()
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *ClientMQTT) HealthCheck() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (c *ClientMQTT) getClient() mqtt.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return nil
	}
	return c.client
}

// Publish sends payload to topic. QoS 0 waits only briefly for the write,
// QoS 1 waits for the acknowledgement. While paho is connecting or
// reconnecting the message is handed to it anyway; paho queues it or fails
// the token. ErrNotConnected is returned only before Start and after Stop.
func (c *ClientMQTT) Publish(topic, payload string, qos byte, retain bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > 1 {
		return ErrInvalidQoS
	}

	cl := c.getClient()
	if cl == nil {
		return ErrNotConnected
	}

	timeout := publishTimeoutQoS0
	if qos > 0 {
		timeout = publishTimeoutQoS1
	}
	token := cl.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishChannel publishes a DMX value: QoS 0, not retained, last value wins.
func (c *ClientMQTT) PublishChannel(universe uint16, channel int, value byte) error {
	return c.Publish(c.topics.Channel(universe, channel), strconv.Itoa(int(value)), 0, false)
}

// PublishAddress publishes the bridge IP: QoS 1, retained.
func (c *ClientMQTT) PublishAddress(ip string) error {
	return c.Publish(c.topics.IP(), ip, 1, true)
}

func (c *ClientMQTT) connectHandler(client mqtt.Client) {
	log := c.log.With(logger.Fields{"module": "mqtt"})
	log.Infof("client connected to server %s:%s", c.cfgClient.Host, c.cfgClient.Port)

	c.watch(c.topics.Availability(), client.Publish(c.topics.Availability(), 1, true, PayloadOnline))
	c.sub(client, BirthTopic(c.discovery.Prefix))
	c.publishDiscovery(client)
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.With(logger.Fields{"module": "mqtt"}).Warnf("server connect lost: %v", err)
}

func (c *ClientMQTT) messageHandler(client mqtt.Client, msg mqtt.Message) {
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("received message: %s from topic: %s", msg.Payload(), msg.Topic())
	if msg.Topic() != BirthTopic(c.discovery.Prefix) {
		return
	}
	if strings.ToLower(strings.TrimSpace(string(msg.Payload()))) == PayloadOnline {
		c.log.With(logger.Fields{"module": "mqtt"}).Info("Home Assistant is online; re-publishing discovery")
		c.publishDiscovery(client)
	}
}

func (c *ClientMQTT) sub(client mqtt.Client, topic string) {
	token := client.Subscribe(topic, 0, c.messageHandler)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("topic %s subscription error. %v", topic, token.Error())
				return
			}
		}
		c.log.With(logger.Fields{"module": "mqtt"}).Debugf("topic %s subscribed", topic)
	}()
}

func (c *ClientMQTT) publishDiscovery(client mqtt.Client) {
	log := c.log.With(logger.Fields{"module": "mqtt"})
	msgs, err := BuildDiscovery(c.discovery)
	if err != nil {
		log.Errorf("discovery: %v", err)
		return
	}
	for _, m := range msgs {
		c.watch(m.Topic, client.Publish(m.Topic, 1, true, m.Payload))
	}
	log.Infof("published discovery for %d DMX channels", c.discovery.ChannelCount)
}

// watch logs the outcome of an asynchronous publish.
func (c *ClientMQTT) watch(topic string, token mqtt.Token) {
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("error publish topic %s. %v", topic, token.Error())
			}
		}
	}()
}
