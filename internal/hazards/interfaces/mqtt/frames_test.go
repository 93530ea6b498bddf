package mqtt

import (
	"context"
	"testing"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hazards "safeflame/internal/hazards/domain"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type collectingSubmitter struct{ frames []hazards.Frame }

func (s *collectingSubmitter) Submit(frame hazards.Frame) bool {
	s.frames = append(s.frames, frame)
	return true
}

type fakeSubscriber struct {
	topic   string
	handler paho.MessageHandler
}

func (s *fakeSubscriber) Subscribe(_ context.Context, topic string, handler paho.MessageHandler) error {
	s.topic = topic
	s.handler = handler
	return nil
}

func TestSubscribeFramesDecodesPayloads(t *testing.T) {
	sub := &fakeSubscriber{}
	frames := &collectingSubmitter{}
	require.NoError(t, SubscribeFrames(context.Background(), sub, "safeflame/frames", frames, nil))
	assert.Equal(t, "safeflame/frames", sub.topic)

	sub.handler(nil, fakeMessage{topic: "safeflame/frames", payload: []byte(`{"at":1700000000,"smoke_boxes":[{"x1":1,"y1":1,"x2":2,"y2":2}]}`)})
	sub.handler(nil, fakeMessage{topic: "safeflame/frames", payload: []byte(`not json`)})

	require.Len(t, frames.frames, 1)
	assert.Equal(t, "mqtt", frames.frames[0].Source)
	assert.Len(t, frames.frames[0].SmokeBoxes, 1)
}

func TestSubscribeFramesValidates(t *testing.T) {
	assert.Error(t, SubscribeFrames(context.Background(), nil, "t", &collectingSubmitter{}, nil))
	assert.Error(t, SubscribeFrames(context.Background(), &fakeSubscriber{}, "t", nil, nil))
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
	_, err = NewClient(Config{Broker: "tcp://localhost:1883", QoS: 3}, nil)
	assert.Error(t, err)
	client, err := NewClient(Config{Broker: "tcp://localhost:1883"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "safeflame", client.cfg.ClientID)
}
