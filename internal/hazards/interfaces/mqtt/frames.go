package mqtt

import (
	"context"
	"errors"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	hazards "safeflame/internal/hazards/domain"
	"safeflame/internal/observability/metrics"
)

const sourceMQTT = "mqtt"

// FrameSubmitter queues frames for the capture loop.
type FrameSubmitter interface {
	Submit(frame hazards.Frame) bool
}

// Subscriber is the subscribe side of a broker connection.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler paho.MessageHandler) error
}

// FrameHandler returns a message handler decoding frames and submitting them.
func FrameHandler(submitter FrameSubmitter, logger *zap.Logger) paho.MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ paho.Client, msg paho.Message) {
		frame, err := hazards.DecodeFrame(msg.Payload(), sourceMQTT)
		if err != nil {
			metrics.IncFrame(sourceMQTT, metrics.ResultError)
			logger.Debug("dropping undecodable frame", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		submitter.Submit(frame)
	}
}

// SubscribeFrames wires the frames topic to the capture queue.
func SubscribeFrames(ctx context.Context, sub Subscriber, topic string, submitter FrameSubmitter, logger *zap.Logger) error {
	if sub == nil {
		return errors.New("mqtt frames: nil subscriber")
	}
	if submitter == nil {
		return errors.New("mqtt frames: nil submitter")
	}
	return sub.Subscribe(ctx, topic, FrameHandler(submitter, logger))
}
