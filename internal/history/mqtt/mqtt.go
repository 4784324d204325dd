package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/loykin/harness/internal/history"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	qosAtLeastOnce           = 1
)

// DefaultTopic is the topic prefix used when none is given.
const DefaultTopic = "harness/history"

// Options configures the broker connection.
type Options struct {
	Broker   string // tcp://host:port or ssl://host:port
	Topic    string // prefix; events go to <Topic>/<event type>
	ClientID string
	Username string
	Password string
}

// Sink publishes each event as JSON on <topic>/<event type>.
type Sink struct {
	client pahomqtt.Client
	topic  string
}

// New connects to the broker and returns a sink.
func New(o Options) (*Sink, error) {
	if strings.TrimSpace(o.Broker) == "" {
		return nil, errors.New("empty MQTT broker URL")
	}
	if o.ClientID == "" {
		o.ClientID = fmt.Sprintf("harness-%d", time.Now().UnixNano())
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(defaultConnectTimeout)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout after %v", defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &Sink{client: client, topic: normalizeTopic(o.Topic)}, nil
}

func normalizeTopic(t string) string {
	t = strings.Trim(strings.TrimSpace(t), "/")
	if t == "" {
		return DefaultTopic
	}
	return t
}

// Topic returns the topic an event is published on.
func Topic(prefix string, e history.Event) string {
	return normalizeTopic(prefix) + "/" + string(e.Type)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	token := s.client.Publish(Topic(s.topic, e), qosAtLeastOnce, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) Close() error {
	s.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
