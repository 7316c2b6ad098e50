package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisherPublish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"event":"transaction.completed"}` {
			return errors.New("unexpected payload: " + string(val))
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisherWithProducer(producer)

	require.NoError(t, p.Publish("settlement", "1", `{"event":"transaction.completed"}`))
	assert.ErrorIs(t, p.Publish("settlement", "2", "{}"), sarama.ErrOutOfBrokers)

	require.NoError(t, p.Close())
}
