// Package alert publishes fault decisions to an MQTT broker.
package alert

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/offload"
	"codeberg.org/mutker/fogpdm/internal/predictor"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	ErrConnect = errors.ErrorCode("alert_connect_failed")
	ErrPublish = errors.ErrorCode("alert_publish_failed")

	DefaultTopic          = "fogpdm/machines/{machine_id}/alerts"
	DefaultPublishTimeout = 5 * time.Second
)

// Config holds the broker connection and topic pattern. {machine_id} in
// Topic is replaced per alert.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	PublishTimeout time.Duration
}

// Alert is the JSON payload published for every fault decision.
type Alert struct {
	MachineID   int            `json:"machine_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Tier        predictor.Tier `json:"tier"`
	Probability float64        `json:"probability"`
	Confidence  float64        `json:"confidence"`
	Method      string         `json:"method"`
	Escalated   bool           `json:"escalated"`
	LatencyMs   float64        `json:"latency_ms"`
}

// NewAlert builds the payload for r.
func NewAlert(r offload.RoutingResult) Alert {
	return Alert{
		MachineID:   r.MachineID,
		Timestamp:   r.Timestamp,
		Tier:        r.FinalLocation,
		Probability: r.Probability,
		Confidence:  r.Confidence(),
		Method:      r.Method,
		Escalated:   r.Escalated,
		LatencyMs:   float64(r.Latency) / float64(time.Millisecond),
	}
}

// publisher is the part of mqtt.Client the Publisher needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher is a result sink that publishes fault decisions. Normal
// decisions are ignored.
type Publisher struct {
	client  publisher
	topic   string
	qos     byte
	timeout time.Duration
	log     logger.Logger
	close   func()

	published atomic.Int64
}

// Connect dials the broker and returns a Publisher on that connection.
func Connect(cfg Config, log logger.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Debug().Str("broker", cfg.Broker).Msg("MQTT connection established")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(timeoutOrDefault(cfg.PublishTimeout))

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeoutOrDefault(cfg.PublishTimeout)) {
		return nil, errors.New().WithData(ErrConnect, struct{ Broker string }{cfg.Broker})
	}
	if err := token.Error(); err != nil {
		return nil, errors.New().Wrap(ErrConnect, err)
	}

	log.Info().Str("broker", cfg.Broker).Str("topic", topicOrDefault(cfg.Topic)).Msg("Fault alerts enabled")

	p := NewPublisher(client, cfg, log)
	p.close = func() { client.Disconnect(250) }
	return p, nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(client publisher, cfg Config, log logger.Logger) *Publisher {
	return &Publisher{
		client:  client,
		topic:   topicOrDefault(cfg.Topic),
		qos:     cfg.QoS,
		timeout: timeoutOrDefault(cfg.PublishTimeout),
		log:     log,
	}
}

func topicOrDefault(topic string) string {
	if topic == "" {
		return DefaultTopic
	}
	return topic
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPublishTimeout
	}
	return d
}

// Published returns the number of alerts delivered so far.
func (p *Publisher) Published() int64 {
	return p.published.Load()
}

// Record publishes an alert when r is a fault.
func (p *Publisher) Record(ctx context.Context, r offload.RoutingResult) error {
	if r.Fault != 1 {
		return nil
	}

	errFactory := errors.New()

	payload, err := json.Marshal(NewAlert(r))
	if err != nil {
		return errFactory.Wrap(ErrPublish, err)
	}

	topic := formatTopic(p.topic, r.MachineID)
	token := p.client.Publish(topic, p.qos, false, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return errFactory.Wrap(ErrPublish, ctx.Err())
	case <-timer.C:
		return errFactory.WithData(ErrPublish, struct{ Topic string }{topic})
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrPublish, err)
	}

	p.published.Add(1)
	p.log.Debug().Str("topic", topic).Int("machine_id", r.MachineID).Msg("Fault alert published")
	return nil
}

// Close disconnects from the broker if Connect opened the connection.
func (p *Publisher) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}

// formatTopic replaces the {machine_id} placeholder.
func formatTopic(pattern string, machineID int) string {
	return strings.ReplaceAll(pattern, "{machine_id}", strconv.Itoa(machineID))
}
