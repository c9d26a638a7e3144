// Package mqtt publishes the alert state to an MQTT broker as a retained
// message, so late subscribers see the current conditions immediately.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/couchcryptid/flood-telemetry/internal/alert"
	"github.com/couchcryptid/flood-telemetry/internal/config"
)

const (
	qosAtLeastOnce = 1
	disconnectWait = 250 // milliseconds
)

// client is the subset of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher implements alert.Publisher over MQTT.
type Publisher struct {
	client client
	topic  string
	logger *slog.Logger
}

// NewPublisher creates a publisher for cfg.MQTTBroker. It does not connect;
// call Connect before the first Publish.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	opts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	logger.Info("mqtt alert notifier enabled", "broker", cfg.MQTTBroker, "topic", cfg.MQTTTopic)
	return &Publisher{client: paho.NewClient(opts), topic: cfg.MQTTTopic, logger: logger}
}

// Connect dials the broker, backing off between failed attempts until it
// succeeds or ctx ends.
func (p *Publisher) Connect(ctx context.Context, initial, maxBackoff time.Duration) error {
	backoff := initial
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		err := wait(ctx, p.client.Connect())
		if err == nil {
			p.logger.Info("mqtt connected", "topic", p.topic)
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("connect mqtt: %w", ctx.Err())
		}
		p.logger.Warn("mqtt connect failed", "error", err, "retry_in", backoff)
		if !retry.SleepWithContext(ctx, backoff) {
			return fmt.Errorf("connect mqtt: %w", errors.Join(err, ctx.Err()))
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
}

// Publish implements alert.Publisher.
func (p *Publisher) Publish(ctx context.Context, s alert.State) error {
	payload, err := encodeState(s)
	if err != nil {
		return err
	}
	if err := wait(ctx, p.client.Publish(p.topic, qosAtLeastOnce, true, payload)); err != nil {
		return fmt.Errorf("publish alert state: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(disconnectWait)
}

func encodeState(s alert.State) ([]byte, error) {
	if s.Active == nil {
		s.Active = []alert.Trigger{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode alert state: %w", err)
	}
	return b, nil
}

// wait blocks until the token completes or ctx ends.
func wait(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
