package mq

import (
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	conn, err := dialWithRetry("amqp://broker", func(url string) (*amqp091.Connection, error) {
		calls++
		assert.Equal(t, "amqp://broker", url)
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return &amqp091.Connection{}, nil
	}, 5, time.Millisecond)

	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.Equal(t, 3, calls)
}

func TestDialWithRetry_GivesUp(t *testing.T) {
	refused := errors.New("connection refused")
	calls := 0
	_, err := dialWithRetry("amqp://broker", func(string) (*amqp091.Connection, error) {
		calls++
		return nil, refused
	}, 3, time.Millisecond)

	require.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "reminder.assignment.created.q", QueueName("assignment.created"))
}
