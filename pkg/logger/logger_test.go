package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) all() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestLogger_TypedFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With(String("component", "runner"))

	l.Info("run done",
		Int("pairs", 12),
		Duration("took", 1500*time.Millisecond),
		Bool("partial", false),
		Time("at", time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))),
		Error(errors.New("boom")),
	)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "runner", line["component"])
	assert.Equal(t, 12.0, line["pairs"])
	assert.Equal(t, 1500.0, line["took"])
	assert.Equal(t, false, line["partial"])
	assert.Equal(t, "2026-05-01T11:00:00.000Z", line["at"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "run done", line["message"])
}

func TestLogger_CollectorAggregatesErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := NewWriter(&bytes.Buffer{})
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Publisher: pub})

	child := l.With(String("component", "store"))
	for i := 0; i < 3; i++ {
		child.Error("write failed", String("op", "publish"))
	}
	child.Error("write failed", String("op", "sync"))
	child.Warn("slow", Int("ms", 900))
	l.RemoveCollector()

	got := pub.all()
	require.Len(t, got, 2, "warnings are not collected by default")
	assert.Equal(t, "logs", pub.topic)
	assert.Equal(t, 3, got[0].Count, "most frequent first")
	assert.Equal(t, "publish", got[0].Fields["op"])
	assert.Contains(t, got[0].Caller, "pkg/logger/logger_test.go:")
	assert.Equal(t, 1, got[1].Count)
}

func TestLogCollector_ThresholdFlush(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub, IncludeWarn: true})

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	assert.Eventually(t, func() bool { return len(pub.all()) == 2 }, time.Second, 5*time.Millisecond)

	c.AddLog("warn", "c", map[string]interface{}{"k": 1}, "x.go:3")
	c.Close()
	c.Close()
	assert.Len(t, pub.all(), 3)
}

func TestNew_RejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Format: "json", Output: "stdout"})
	assert.Error(t, err)

	l, err := New(&Config{Level: "warn", Format: "json", Output: "stderr", Component: "test"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}
