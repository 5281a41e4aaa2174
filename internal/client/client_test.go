package client

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"keyless-recovery/internal/config"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestProduceMessage(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaProducer{writer: w, brokers: []string{"localhost:9092"}, topic: "events", logger: zap.NewNop()}

	err := p.ProduceMessage(context.Background(), []byte("k"), []byte(`{"a":1}`), map[string]string{"event_type": "otp.sent"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("k"), w.msgs[0].Key)
	require.Len(t, w.msgs[0].Headers, 1)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte("otp.sent"), w.msgs[0].Headers[0].Value)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProduceMessageWrapsWriterError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := &KafkaProducer{writer: w, topic: "events", logger: zap.NewNop()}

	err := p.ProduceMessage(context.Background(), nil, []byte("x"), nil)
	assert.ErrorContains(t, err, "leader not available")
}

func TestNewKafkaProducerNeedsBrokers(t *testing.T) {
	_, err := NewKafkaProducer(&config.Config{Kafka: config.KafkaConfig{Enabled: true}}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestExtractHostPort(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"localhost", "localhost:9000"},
		{"localhost:9001", "localhost:9001"},
		{"http://ch.internal", "ch.internal:9000"},
		{"https://ch.internal", "ch.internal:9440"},
		{"clickhouse://ch.internal:9000/", "ch.internal:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, extractHostPort(tt.url))
		})
	}
	assert.Equal(t, "ch.internal", extractHostname("https://ch.internal"))
}
