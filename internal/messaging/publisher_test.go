package messaging_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/shortlink/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher keeps everything published to it, keyed by topic.
type recordingPublisher struct {
	published map[string][]*message.Message
	err       error
	closed    bool
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{published: make(map[string][]*message.Message)}
}

func (p *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	if p.err != nil {
		return p.err
	}

	p.published[topic] = append(p.published[topic], msgs...)

	return nil
}

func (p *recordingPublisher) Close() error {
	p.closed = true

	return p.err
}

type clickTotal struct {
	Code   string  `json:"code"`
	Clicks float64 `json:"clicks"`
}

type ctxKey struct{}

func TestNewPublishFunc(t *testing.T) {
	t.Run("encodes the event onto its topic", func(t *testing.T) {
		pub := newRecordingPublisher()
		publish := messaging.NewPublishFunc[testEvent](pub, testTopic)

		require.NoError(t, publish(context.Background(), &testEvent{Code: "abc123", Kind: "deleted"}))
		require.NoError(t, publish(context.Background(), &testEvent{Code: "xyz789", Kind: "created"}))

		msgs := pub.published[testTopic]
		require.Len(t, msgs, 2)
		assert.JSONEq(t, `{"code":"abc123","kind":"deleted"}`, string(msgs[0].Payload))
		assert.Equal(t, testTopic, msgs[1].Metadata.Get(messaging.MetadataTopic))
		assert.NotEqual(t, msgs[0].UUID, msgs[1].UUID)
	})

	t.Run("carries the caller context", func(t *testing.T) {
		pub := newRecordingPublisher()
		publish := messaging.NewPublishFunc[testEvent](pub, testTopic)
		ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")

		require.NoError(t, publish(ctx, &testEvent{Code: "abc123"}))

		assert.Equal(t, "req-1", pub.published[testTopic][0].Context().Value(ctxKey{}))
	})

	t.Run("reports unencodable events", func(t *testing.T) {
		pub := newRecordingPublisher()
		publish := messaging.NewPublishFunc[clickTotal](pub, "clicks.flushed")

		err := publish(context.Background(), &clickTotal{Code: "abc123", Clicks: math.NaN()})

		require.ErrorContains(t, err, "encode clicks.flushed event")
		assert.Empty(t, pub.published)
	})

	t.Run("returns the publisher error", func(t *testing.T) {
		pub := newRecordingPublisher()
		pub.err = errors.New("stream unavailable")
		publish := messaging.NewPublishFunc[testEvent](pub, testTopic)

		assert.ErrorIs(t, publish(context.Background(), &testEvent{Code: "abc123"}), pub.err)
	})
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, messaging.Discard[testEvent]()(context.Background(), &testEvent{Code: "abc123"}))
}

func TestPublisherGroup(t *testing.T) {
	pub := newRecordingPublisher()
	group := messaging.NewPublisherGroup(pub)

	assert.Same(t, pub, group.Publisher())

	require.NoError(t, group.Shutdown())
	assert.True(t, pub.closed)
}
