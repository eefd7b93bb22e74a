// Package livefeed implements a live telemetry feed over MQTT.
//
// A bridge running next to the simulator publishes telemetry to a broker.
// Startup only succeeds once the first message has arrived, so a broker whose
// bridge is idle reads as unavailable rather than as a connected sim.
// Two payload shapes are accepted on the subscribed topic filter:
//
//	sim/telemetry          {"IsOnTrack":true,"Lap":3,"FuelLevel":41.2}
//	sim/telemetry/Lap      3
//
// Objects merge every field into the latest-value buffer; a bare scalar is
// stored under the last topic segment. The buffer only keeps the most recent
// value per field; the sampler reads it at its own rate.
package livefeed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"laplogger/internal/ratelimit"
	"laplogger/telemetry"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultMaxPayload     = 64 << 10
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config describes the broker connection.
type Config struct {
	Broker   string
	Port     int
	Topic    string
	ClientID string
	// ConnectTimeout bounds the handshake in Startup.
	ConnectTimeout time.Duration
	// StaleAfter reports the feed disconnected when nothing has arrived for
	// this long; zero disables the check.
	StaleAfter time.Duration
	// MaxPayloadBytes drops larger messages; zero uses 64 KiB.
	MaxPayloadBytes int
}

// Client is an MQTT-backed telemetry feed. It satisfies source.Feed.
//
// Thread Safety:
//   - paho delivers messages on its own goroutine; they update latest under mu
//   - Freeze/Unfreeze hold the read lock so one Poll sees a consistent view
//   - Reconnection is left to the session state machine, not to paho
type Client struct {
	cfg    Config
	client mqtt.Client

	mu        sync.RWMutex
	latest    map[string]telemetry.Value
	lastSeen  time.Time
	firstData chan struct{}

	subscribed atomic.Bool
	dropped    *ratelimit.Counter
	now        func() time.Time
}

// NewClient creates a feed; nothing connects until Startup.
func NewClient(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = defaultMaxPayload
	}
	return &Client{
		cfg:       cfg,
		latest:    make(map[string]telemetry.Value),
		firstData: make(chan struct{}),
		dropped:   ratelimit.NewCounter(time.Minute),
		now:       time.Now,
	}
}

// Purpose: Connect to the broker, subscribe, and wait for the first
// telemetry message.
// Key aspects: Both the handshake and the first message must arrive within
// ConnectTimeout; a broker with an idle bridge is reported as an error and
// the link is dropped. Auto-reconnect is off so a dropped link surfaces
// through IsConnected.
// Upstream: source.LiveSource.Startup.
// Downstream: mqtt.NewClient, onConnect, awaitData.
func (c *Client) Startup(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.Broker) == "" {
		return errors.New("livefeed: broker is empty")
	}
	if strings.TrimSpace(c.cfg.Topic) == "" {
		return errors.New("livefeed: topic is empty")
	}
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.cfg.Broker, c.cfg.Port)
	opts.AddBroker(brokerURL)

	clientID := c.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("laplogger-%d", time.Now().Unix())
	}
	opts.SetClientID(clientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	firstData := c.resetBuffer()
	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", brokerURL, err)
	}
	if err := c.awaitData(ctx, firstData); err != nil {
		_ = c.Shutdown()
		return fmt.Errorf("%s: %w", brokerURL, err)
	}
	log.Printf("Live feed: receiving telemetry from %s", brokerURL)
	return nil
}

// awaitData blocks until the first message lands in the buffer.
func (c *Client) awaitData(ctx context.Context, firstData <-chan struct{}) error {
	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-firstData:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("no telemetry on %s within %s", c.cfg.Topic, c.cfg.ConnectTimeout)
	}
}

// onConnect is called when connection is established
func (c *Client) onConnect(client mqtt.Client) {
	token := client.Subscribe(c.cfg.Topic, 0, c.messageHandler)
	if token.Wait() && token.Error() != nil {
		log.Printf("Live feed: failed to subscribe to %s: %v", c.cfg.Topic, token.Error())
		return
	}
	c.subscribed.Store(true)
	log.Printf("Live feed: subscribed to %s", c.cfg.Topic)
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.subscribed.Store(false)
	log.Printf("Live feed: connection lost: %v", err)
}

// messageHandler merges one message into the latest-value buffer.
func (c *Client) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	if len(payload) > c.cfg.MaxPayloadBytes {
		if total, ok := c.dropped.Inc(); ok {
			log.Printf("Live feed: dropping %d-byte payload on %s (limit %d, %d dropped)", len(payload), msg.Topic(), c.cfg.MaxPayloadBytes, total)
		}
		return
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		if total, ok := c.dropped.Inc(); ok {
			log.Printf("Live feed: failed to parse message on %s: %v (%d dropped)", msg.Topic(), err, total)
		}
		return
	}

	updates := make(map[string]telemetry.Value)
	switch v := decoded.(type) {
	case map[string]any:
		for key, raw := range v {
			updates[key] = telemetry.FromAny(raw)
		}
	default:
		key := msg.Topic()
		if idx := strings.LastIndexByte(key, '/'); idx >= 0 {
			key = key[idx+1:]
		}
		if key == "" {
			return
		}
		updates[key] = telemetry.FromAny(v)
	}

	c.mu.Lock()
	for key, val := range updates {
		c.latest[key] = val
	}
	if c.lastSeen.IsZero() {
		close(c.firstData)
	}
	c.lastSeen = c.now()
	c.mu.Unlock()
}

// resetBuffer empties the buffer and returns the channel closed by the next
// first message.
func (c *Client) resetBuffer() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = make(map[string]telemetry.Value)
	c.lastSeen = time.Time{}
	c.firstData = make(chan struct{})
	c.subscribed.Store(false)
	return c.firstData
}

// IsConnected reports a live broker link that has delivered data and is
// still delivering it.
func (c *Client) IsConnected() bool {
	if c.client == nil || !c.client.IsConnected() {
		return false
	}
	return !c.stale()
}

// stale is true before the first message and, with StaleAfter set, once
// the feed has gone quiet for longer than that.
func (c *Client) stale() bool {
	c.mu.RLock()
	last := c.lastSeen
	c.mu.RUnlock()
	if last.IsZero() {
		return true
	}
	if c.cfg.StaleAfter <= 0 {
		return false
	}
	return c.now().Sub(last) > c.cfg.StaleAfter
}

// Freeze blocks buffer updates until Unfreeze.
func (c *Client) Freeze() { c.mu.RLock() }

// Unfreeze releases Freeze.
func (c *Client) Unfreeze() { c.mu.RUnlock() }

// Get returns the latest value for key. Call between Freeze and Unfreeze.
func (c *Client) Get(key string) (telemetry.Value, bool) {
	v, ok := c.latest[key]
	return v, ok
}

// Dropped counts messages rejected as oversize or malformed.
func (c *Client) Dropped() uint64 { return c.dropped.Total() }

// Shutdown unsubscribes and closes the broker connection.
func (c *Client) Shutdown() error {
	if c.client == nil {
		return nil
	}
	if c.client.IsConnected() {
		if c.subscribed.Load() {
			c.client.Unsubscribe(c.cfg.Topic).WaitTimeout(time.Second)
		}
		// Disconnect (wait up to 250ms for clean disconnect)
		c.client.Disconnect(250)
	}
	c.client = nil
	c.subscribed.Store(false)
	return nil
}
