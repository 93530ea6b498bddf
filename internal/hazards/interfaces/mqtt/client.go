package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Config configures the broker connection.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

type subscription struct {
	qos     byte
	handler paho.MessageHandler
}

// Client is a shared broker connection. Subscriptions are restored after reconnects.
type Client struct {
	cfg    Config
	client paho.Client
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

// NewClient prepares a client; call Connect before use.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt client: empty broker")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "safeflame"
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt client: invalid qos %d", cfg.QoS)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{cfg: cfg, logger: logger, subs: make(map[string]subscription)}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	c.client = paho.NewClient(opts)
	return c, nil
}

// Connect dials the broker with exponential backoff and disconnects when ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(func() error {
		token := c.client.Connect()
		if token.Wait() && token.Error() != nil {
			c.logger.Warn("mqtt connect failed", zap.String("broker", c.cfg.Broker), zap.Error(token.Error()))
			return token.Error()
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("mqtt client: connect %s: %w", c.cfg.Broker, err)
	}
	c.logger.Info("mqtt connected", zap.String("broker", c.cfg.Broker))

	go func() {
		<-ctx.Done()
		c.Close()
	}()
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info("mqtt disconnected")
	}
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	return waitToken(ctx, token)
}

// Subscribe registers handler for topic. The subscription survives reconnects.
func (c *Client) Subscribe(ctx context.Context, topic string, handler paho.MessageHandler) error {
	if topic == "" {
		return errors.New("mqtt client: empty topic")
	}
	c.mu.Lock()
	c.subs[topic] = subscription{qos: c.cfg.QoS, handler: handler}
	c.mu.Unlock()
	return waitToken(ctx, c.client.Subscribe(topic, c.cfg.QoS, handler))
}

func (c *Client) onConnect(client paho.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.Unlock()
	for topic, sub := range subs {
		token := client.Subscribe(topic, sub.qos, sub.handler)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.logger.Warn("mqtt resubscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}

func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
