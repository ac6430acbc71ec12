// Package bus is a reliable MQTT wrapper: outbound publishes are queued
// in-memory while disconnected and drained in FIFO order on reconnect;
// inbound messages are routed to per-topic-filter handlers and
// dispatched off the read pump so slow handlers never block message
// delivery.
package bus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fleethub/internal/metrics"
)

// Handler processes one inbound message on a subscribed topic.
type Handler func(topic string, payload []byte)

type queuedPublish struct {
	topic   string
	payload []byte
	qos     byte
}

// Client is the manager's sole bus dependency: Subscribe before Start,
// Publish any time (it queues while disconnected), Start to run the
// connect/reconnect loop until ctx is cancelled.
type Client struct {
	logger *slog.Logger

	mu          sync.Mutex
	transport   *mqttTransport
	connected   bool
	subscribers []subscription
	queue       []queuedPublish
}

type subscription struct {
	filter  string
	handler Handler
}

// New constructs a disconnected Client targeting addr with the given
// client ID.
func New(addr, clientID string, logger *slog.Logger) *Client {
	c := &Client{logger: logger}
	c.transport = newMQTTTransport(addr, clientID, logger, c.dispatch)
	return c
}

// Subscribe registers handler for topic filter. Subscriptions persist
// across reconnects: Start re-issues every registered filter after each
// successful connect.
func (c *Client) Subscribe(filter string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, subscription{filter: filter, handler: handler})
}

// Publish sends payload to topic at the given QoS. If the bus is
// currently disconnected, the publish is queued and drained in FIFO
// order once reconnected.
func (c *Client) Publish(topic string, payload []byte, qos byte) {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	if connected {
		if err := c.transport.publish(topic, payload, qos); err == nil {
			return
		}
		c.markDisconnected()
	}

	c.mu.Lock()
	c.queue = append(c.queue, queuedPublish{topic: topic, payload: payload, qos: qos})
	depth := len(c.queue)
	c.mu.Unlock()
	metrics.SetBusQueueDepth(depth)
}

// Start runs the connect/pump/reconnect loop until ctx is cancelled,
// with a short backoff between reconnect attempts.
func (c *Client) Start(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for ctx.Err() == nil {
		if err := c.transport.connect(ctx); err != nil {
			c.logger.Warn("bus connect failed", "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		c.mu.Lock()
		c.connected = true
		subs := append([]subscription(nil), c.subscribers...)
		c.mu.Unlock()

		for _, s := range subs {
			if err := c.transport.subscribe(s.filter); err != nil {
				c.logger.Warn("bus subscribe failed", "filter", s.filter, "err", err)
			}
		}

		c.drainQueue()

		if err := c.transport.pump(ctx); err != nil {
			c.logger.Warn("bus pump ended", "err", err)
		}
		c.markDisconnected()
		c.transport.close()
	}
}

func (c *Client) drainQueue() {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()
	metrics.SetBusQueueDepth(0)

	for i, p := range pending {
		if err := c.transport.publish(p.topic, p.payload, p.qos); err != nil {
			c.logger.Warn("drain publish failed, requeueing remainder", "topic", p.topic, "err", err)
			c.mu.Lock()
			c.queue = append(append([]queuedPublish(nil), pending[i:]...), c.queue...)
			depth := len(c.queue)
			c.mu.Unlock()
			metrics.SetBusQueueDepth(depth)
			return
		}
	}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.Lock()
	subs := append([]subscription(nil), c.subscribers...)
	c.mu.Unlock()

	for _, s := range subs {
		if topicMatches(s.filter, topic) {
			go s.handler(topic, payload)
		}
	}
}

// topicMatches implements MQTT's '+' single-level and '#' multi-level
// wildcard matching against a concrete published topic.
func topicMatches(filter, topic string) bool {
	fParts := strings.Split(filter, "/")
	tParts := strings.Split(topic, "/")

	for i, fp := range fParts {
		if fp == "#" {
			return true
		}
		if i >= len(tParts) {
			return false
		}
		if fp != "+" && fp != tParts[i] {
			return false
		}
	}
	return len(fParts) == len(tParts)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
