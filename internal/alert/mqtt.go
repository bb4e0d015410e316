package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/fallwatch/internal/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig describes the broker connection used by MQTTSink.
type MQTTConfig struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTTSink publishes each alert as JSON to <prefix>/<source>/fall.
type MQTTSink struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// DialMQTT connects to the broker with auto-reconnect enabled and returns a sink.
func DialMQTT(cfg MQTTConfig, log *zap.Logger) (*MQTTSink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost, will auto-reconnect", zap.String("broker", cfg.Broker), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout: %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	log.Info("mqtt connection established", zap.String("broker", cfg.Broker), zap.String("client_id", cfg.ClientID))

	return NewMQTTSink(client, cfg.TopicPrefix, cfg.QoS), nil
}

// NewMQTTSink wraps an already connected client.
func NewMQTTSink(client mqtt.Client, prefix string, qos byte) *MQTTSink {
	if prefix == "" {
		prefix = "fallwatch"
	}
	return &MQTTSink{client: client, prefix: prefix, qos: qos}
}

// Topic returns the topic alerts from source are published on.
func (s *MQTTSink) Topic(source string) string {
	if source == "" {
		source = "default"
	}
	return s.prefix + "/" + source + "/fall"
}

// Deliver implements Sink.
func (s *MQTTSink) Deliver(ctx context.Context, ev types.AlertEvent, _ []byte) error {
	data, err := marshalEvent(ev)
	if err != nil {
		return err
	}
	topic := s.Topic(ev.Source)
	token := s.client.Publish(topic, s.qos, false, data)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to topic %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
