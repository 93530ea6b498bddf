package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"safeflame/internal/escalation/application"
	escalation "safeflame/internal/escalation/domain"
	"safeflame/internal/observability/metrics"
)

// AlertArchive stores alerts durably.
type AlertArchive interface {
	Save(ctx context.Context, alert escalation.Alert) error
}

// ArchiveSink writes alerts to an archive.
type ArchiveSink struct {
	archive AlertArchive
}

// NewArchiveSink constructs an archive sink.
func NewArchiveSink(archive AlertArchive) (*ArchiveSink, error) {
	if archive == nil {
		return nil, errors.New("archive sink: nil archive")
	}
	return &ArchiveSink{archive: archive}, nil
}

// Name implements Sink.
func (s *ArchiveSink) Name() string { return "archive" }

// Deliver implements Sink.
func (s *ArchiveSink) Deliver(ctx context.Context, event application.Event) error {
	if event.Type != application.EventAlert || event.Alert == nil {
		return nil
	}
	return s.archive.Save(ctx, *event.Alert)
}

// Publisher publishes raw payloads on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MQTTSink publishes alerts to <prefix>/<zone> and advice to <prefix>/<zone>/advice.
type MQTTSink struct {
	publisher Publisher
	prefix    string
}

// NewMQTTSink constructs an MQTT sink.
func NewMQTTSink(publisher Publisher, prefix string) (*MQTTSink, error) {
	if publisher == nil {
		return nil, errors.New("mqtt sink: nil publisher")
	}
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return nil, errors.New("mqtt sink: empty topic prefix")
	}
	return &MQTTSink{publisher: publisher, prefix: prefix}, nil
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Deliver implements Sink.
func (s *MQTTSink) Deliver(ctx context.Context, event application.Event) error {
	var (
		topic   string
		payload any
	)
	switch {
	case event.Type == application.EventAlert && event.Alert != nil:
		topic = s.prefix + "/" + topicSegment(event.Alert.Zone)
		payload = event.Alert
	case event.Type == application.EventAdvice && event.Advice != nil:
		topic = s.prefix + "/" + topicSegment(event.Advice.Zone) + "/advice"
		payload = event.Advice
	default:
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, topic, body)
}

// topicSegment strips MQTT wildcards and separators from a zone name.
func topicSegment(zone string) string {
	replacer := strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_")
	return replacer.Replace(zone)
}

// Advisor produces safety guidance for an alert.
type Advisor interface {
	Advise(ctx context.Context, alert escalation.Alert) (escalation.Advice, bool)
}

// EventPublisher accepts events for fan-out.
type EventPublisher interface {
	Publish(event application.Event)
}

// AdviceSink asks the advisor about each alert and republishes the advice.
type AdviceSink struct {
	advisor   Advisor
	publisher EventPublisher
}

// NewAdviceSink constructs an advice sink.
func NewAdviceSink(advisor Advisor, publisher EventPublisher) (*AdviceSink, error) {
	if advisor == nil {
		return nil, errors.New("advice sink: nil advisor")
	}
	if publisher == nil {
		return nil, errors.New("advice sink: nil publisher")
	}
	return &AdviceSink{advisor: advisor, publisher: publisher}, nil
}

// Name implements Sink.
func (s *AdviceSink) Name() string { return "advisor" }

// Deliver implements Sink.
func (s *AdviceSink) Deliver(ctx context.Context, event application.Event) error {
	if event.Type != application.EventAlert || event.Alert == nil {
		return nil
	}
	advice, ok := s.advisor.Advise(ctx, *event.Alert)
	if !ok {
		return nil
	}
	metrics.IncAdvice(advice.Source)
	s.publisher.Publish(application.AdviceEvent(advice))
	return nil
}

// LogSink writes alerts and advice to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("alerts")}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s *LogSink) Deliver(_ context.Context, event application.Event) error {
	switch {
	case event.Type == application.EventAlert && event.Alert != nil:
		alert := event.Alert
		fields := []zap.Field{
			zap.String("id", alert.ID),
			zap.String("kind", string(alert.Kind)),
			zap.String("zone", alert.Zone),
			zap.String("severity", string(alert.Severity)),
			zap.Time("at", alert.Timestamp),
		}
		switch alert.Severity {
		case escalation.SeverityCritical:
			s.logger.Error(alert.Message, fields...)
		case escalation.SeverityWarning:
			s.logger.Warn(alert.Message, fields...)
		default:
			s.logger.Info(alert.Message, fields...)
		}
	case event.Type == application.EventAdvice && event.Advice != nil:
		s.logger.Info("advice",
			zap.String("alert_id", event.Advice.AlertID),
			zap.String("zone", event.Advice.Zone),
			zap.String("source", event.Advice.Source),
			zap.String("text", event.Advice.Text),
		)
	}
	return nil
}
