package mq

import (
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublishing(t *testing.T) {
	msg, err := newPublishing(map[string]string{"purchase_id": "p1"})
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.EqualValues(t, amqp.Persistent, msg.DeliveryMode)
	assert.NotEmpty(t, msg.MessageId)
	assert.False(t, msg.Timestamp.IsZero())

	var got map[string]string
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, "p1", got["purchase_id"])
}

func TestNewPublishingUniqueIDs(t *testing.T) {
	a, err := newPublishing(1)
	require.NoError(t, err)
	b, err := newPublishing(1)
	require.NoError(t, err)
	assert.NotEqual(t, a.MessageId, b.MessageId)
}

func TestNewPublishingRejectsUnencodable(t *testing.T) {
	_, err := newPublishing(make(chan int))
	require.Error(t, err)
}
