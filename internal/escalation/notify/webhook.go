package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"safeflame/internal/escalation/application"
	escalation "safeflame/internal/escalation/domain"
)

// Channel delivers rendered content.
type Channel interface {
	Send(ctx context.Context, content string) error
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookChannel sends notifications to a webhook endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts the content using a DingTalk/WeCom-compatible text payload.
func (w *WebhookChannel) Send(ctx context.Context, content string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: content},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}

// WebhookSink renders alerts at or above a minimum severity and sends them
// through a channel.
type WebhookSink struct {
	channel     Channel
	template    *Template
	minSeverity escalation.Severity
}

// NewWebhookSink constructs a webhook sink.
func NewWebhookSink(channel Channel, template *Template, minSeverity escalation.Severity) (*WebhookSink, error) {
	if channel == nil {
		return nil, errors.New("webhook sink: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	if minSeverity == "" {
		minSeverity = escalation.SeverityWarning
	}
	return &WebhookSink{channel: channel, template: template, minSeverity: minSeverity}, nil
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Deliver implements Sink.
func (s *WebhookSink) Deliver(ctx context.Context, event application.Event) error {
	if event.Type != application.EventAlert || event.Alert == nil {
		return nil
	}
	if event.Alert.Severity.Rank() < s.minSeverity.Rank() {
		return nil
	}
	content, err := s.template.Render(templateDataFor(*event.Alert))
	if err != nil {
		return err
	}
	return s.channel.Send(ctx, content)
}
