package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken is an mqtt.Token whose completion is controlled by the test.
type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
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

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes. Methods the sink never calls panic via the nil embedded interface.
type fakeClient struct {
	mqtt.Client
	published    []published
	token        *fakeToken
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTSink_Topic(t *testing.T) {
	s := NewMQTTSink(&fakeClient{}, "", 0)
	assert.Equal(t, "fallwatch/cam-1/fall", s.Topic("cam-1"))
	assert.Equal(t, "fallwatch/default/fall", s.Topic(""))

	s = NewMQTTSink(&fakeClient{}, "site/ward-3", 1)
	assert.Equal(t, "site/ward-3/cam-1/fall", s.Topic("cam-1"))
}

func TestMQTTSink_Publishes(t *testing.T) {
	client := &fakeClient{token: completedToken(nil)}
	s := NewMQTTSink(client, "fallwatch", 1)

	require.NoError(t, s.Deliver(context.Background(), testEvent(2), []byte{0xFF}))
	require.Len(t, client.published, 1)

	msg := client.published[0]
	assert.Equal(t, "fallwatch/cam-1/fall", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var decoded payload
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, int64(2), decoded.Sequence)
	assert.Equal(t, "fall_detected_2.jpg", decoded.Artifact)

	s.Close()
	assert.True(t, client.disconnected)
}

func TestMQTTSink_PublishError(t *testing.T) {
	client := &fakeClient{token: completedToken(errors.New("not connected"))}
	s := NewMQTTSink(client, "", 0)

	err := s.Deliver(context.Background(), testEvent(0), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallwatch/cam-1/fall")
}

func TestMQTTSink_HonorsContext(t *testing.T) {
	// The token never completes, as when the broker is unreachable.
	client := &fakeClient{token: &fakeToken{done: make(chan struct{})}}
	s := NewMQTTSink(client, "", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Deliver(ctx, testEvent(0), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
