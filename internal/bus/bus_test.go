package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTopicMatchesPlusWildcard(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"probe/+/ping", "probe/host.example/ping", true},
		{"probe/+/ping", "probe/host.example/fans", false},
		{"probe/+/ping", "probe/a/b/ping", false},
		{"api/device/+", "api/device/wake", true},
		{"fac/#", "fac/scram/17,18", true},
		{"fac/#", "fac/scram", true},
		{"knx/switch/+", "knx/switch/5", true},
	}
	for _, c := range cases {
		if got := topicMatches(c.filter, c.topic); got != c.want {
			t.Errorf("topicMatches(%q, %q) = %v, want %v", c.filter, c.topic, got, c.want)
		}
	}
}

func TestPublishQueuesWhileDisconnected(t *testing.T) {
	c := New("127.0.0.1:0", "test-client", discardLogger())
	c.Publish("manager/device_event", []byte(`{}`), 1)
	c.Publish("manager/device_event", []byte(`{}`), 1)

	c.mu.Lock()
	depth := len(c.queue)
	c.mu.Unlock()
	if depth != 2 {
		t.Fatalf("expected 2 queued publishes, got %d", depth)
	}
}

func TestDispatchDeliversToMatchingSubscribers(t *testing.T) {
	c := New("127.0.0.1:0", "test-client", discardLogger())
	received := make(chan string, 1)
	c.Subscribe("probe/+/ping", func(topic string, payload []byte) {
		received <- topic
	})
	c.dispatch("probe/host1/ping", []byte("1"))

	select {
	case topic := <-received:
		if topic != "probe/host1/ping" {
			t.Errorf("unexpected topic: %s", topic)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}
