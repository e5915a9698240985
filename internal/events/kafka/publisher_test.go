package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishEncodesJSONWithKey(t *testing.T) {
	w := &recordingWriter{}
	p := &Publisher{writer: w}

	err := p.Publish(context.Background(), "PaymentRequest:p1", map[string]string{"action": "PAYMENT_APPROVED"})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	assert.Equal(t, "PaymentRequest:p1", string(w.messages[0].Key))
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, "PAYMENT_APPROVED", decoded["action"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishRejectsUnencodableEvent(t *testing.T) {
	p := &Publisher{writer: &recordingWriter{}}
	assert.Error(t, p.Publish(context.Background(), "k", make(chan int)))
}
