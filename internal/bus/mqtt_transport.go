package bus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
)

// mqttTransport adapts the natiu-mqtt Client/VariablesConnect/HandleNext
// API (normally paired with an embedded tinygo TCP stack) onto a
// standard library net.Conn dialed with net.Dialer, on the assumption
// that natiu-mqtt's Client only needs something satisfying net.Conn and
// has no hard dependency on the embedded stack's own connection type.
type mqttTransport struct {
	addr     string
	clientID string
	logger   *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	client *mqtt.Client

	onMessage func(topic string, payload []byte)
}

func newMQTTTransport(addr, clientID string, logger *slog.Logger, onMessage func(topic string, payload []byte)) *mqttTransport {
	return &mqttTransport{addr: addr, clientID: clientID, logger: logger, onMessage: onMessage}
}

func (t *mqttTransport) connect(ctx context.Context) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", t.addr, err)
	}

	userBuf := make([]byte, 4096)
	cfg := mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: userBuf},
		OnPub: func(head mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			payload, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			if t.onMessage != nil {
				t.onMessage(string(varPub.TopicName), payload)
			}
			return nil
		},
	}
	client := mqtt.NewClient(cfg)

	var varconn mqtt.VariablesConnect
	clientID := t.clientID
	if clientID == "" {
		clientID = "fleetd-" + randomHex(4)
	}
	varconn.SetDefaultMQTT([]byte(clientID))

	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := client.StartConnect(conn, &varconn); err != nil {
		conn.Close()
		return fmt.Errorf("start mqtt connect: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && !client.IsConnected() {
		if err := client.HandleNext(); err != nil && !errors.Is(err, io.EOF) {
			t.logger.Debug("mqtt handshake handle-next", "err", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !client.IsConnected() {
		conn.Close()
		return fmt.Errorf("mqtt connect timeout against %s", t.addr)
	}

	t.mu.Lock()
	t.conn = conn
	t.client = client
	t.mu.Unlock()
	return nil
}

// pump runs client.HandleNext() in a loop until ctx is cancelled or the
// connection fails, delivering inbound publishes via onMessage.
func (t *mqttTransport) pump(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.mu.Lock()
		client := t.client
		conn := t.conn
		t.mu.Unlock()
		if client == nil || conn == nil {
			return errors.New("mqtt transport not connected")
		}
		conn.SetDeadline(time.Now().Add(30 * time.Second))
		if err := client.HandleNext(); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("mqtt handle-next: %w", err)
		}
	}
}

func (t *mqttTransport) subscribe(topic string) error {
	t.mu.Lock()
	client := t.client
	conn := t.conn
	t.mu.Unlock()
	if client == nil {
		return errors.New("mqtt transport not connected")
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	sub := mqtt.VariablesSubscribe{
		TopicFilters:     []mqtt.SubscribeRequest{{TopicFilter: []byte(topic), QoS: mqtt.QoS0}},
		PacketIdentifier: randomPacketID(),
	}
	return client.StartSubscribe(sub)
}

func (t *mqttTransport) publish(topic string, payload []byte, qos byte) error {
	t.mu.Lock()
	client := t.client
	conn := t.conn
	t.mu.Unlock()
	if client == nil {
		return errors.New("mqtt transport not connected")
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	flags, err := mqtt.NewPublishFlags(mqtt.QoS(qos), false, false)
	if err != nil {
		return err
	}
	varPub := mqtt.VariablesPublish{TopicName: []byte(topic), PacketIdentifier: randomPacketID()}
	return client.PublishPayload(flags, varPub, payload)
}

func (t *mqttTransport) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Disconnect(errors.New("fleetd shutting down"))
	}
	if t.conn != nil {
		t.conn.Close()
	}
	t.client = nil
	t.conn = nil
}

func randomPacketID() uint16 {
	b := make([]byte, 2)
	rand.Read(b)
	return uint16(b[0])<<8 | uint16(b[1])
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}
