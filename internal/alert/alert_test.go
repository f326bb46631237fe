package alert

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/offload"
	"codeberg.org/mutker/fogpdm/internal/predictor"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type message struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu       sync.Mutex
	messages []message
	token    func() mqtt.Token
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.messages = append(c.messages, message{topic: topic, payload: payload.([]byte)})
	c.mu.Unlock()
	if c.token != nil {
		return c.token()
	}
	return newToken(nil, true)
}

func faultResult(machine int) offload.RoutingResult {
	return offload.RoutingResult{
		Outcome: predictor.Outcome{
			Fault:       1,
			Probability: 0.95,
			Latency:     3 * time.Millisecond,
			Tier:        predictor.TierCloud,
			Method:      "logistic",
		},
		MachineID:     machine,
		Timestamp:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		FinalLocation: predictor.TierCloud,
		Escalated:     true,
	}
}

func TestFormatTopic(t *testing.T) {
	assert.Equal(t, "fogpdm/machines/7/alerts", formatTopic(DefaultTopic, 7))
	assert.Equal(t, "plant/alerts", formatTopic("plant/alerts", 7))
}

func TestRecordPublishesFaults(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, Config{}, logger.Nop())

	normal := faultResult(1)
	normal.Fault = 0
	require.NoError(t, p.Record(context.Background(), normal))
	require.NoError(t, p.Record(context.Background(), faultResult(4)))

	require.Len(t, client.messages, 1)
	assert.Equal(t, "fogpdm/machines/4/alerts", client.messages[0].topic)
	assert.Equal(t, int64(1), p.Published())

	var got Alert
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &got))
	assert.Equal(t, 4, got.MachineID)
	assert.Equal(t, predictor.TierCloud, got.Tier)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.InDelta(t, 3.0, got.LatencyMs, 1e-9)
	assert.True(t, got.Escalated)
}

func TestRecordPublishError(t *testing.T) {
	client := &fakeClient{token: func() mqtt.Token {
		return newToken(errors.New().New(errors.ErrUnavailable), true)
	}}
	p := NewPublisher(client, Config{}, logger.Nop())

	err := p.Record(context.Background(), faultResult(1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrPublish))
	assert.Zero(t, p.Published())
}

func TestRecordPublishTimeout(t *testing.T) {
	client := &fakeClient{token: func() mqtt.Token { return newToken(nil, false) }}
	p := NewPublisher(client, Config{PublishTimeout: 20 * time.Millisecond}, logger.Nop())

	start := time.Now()
	err := p.Record(context.Background(), faultResult(1))
	assert.True(t, errors.HasCode(err, ErrPublish))
	assert.Less(t, time.Since(start), time.Second)
}
