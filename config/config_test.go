package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultPublisherValidates(t *testing.T) {
	require.NoError(t, DefaultPublisher().Validate())
}

func TestPublisherValidate_CollectsEveryViolation(t *testing.T) {
	err := Publisher{}.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "flush interval")
	require.ErrorContains(t, err, "ask timeout")
	require.ErrorContains(t, err, "init backoff ceiling")
	require.ErrorContains(t, err, "lag poll interval")
	require.ErrorContains(t, err, "transaction max records")
}

func TestPublisherValidate_SingleViolation(t *testing.T) {
	cfg := DefaultPublisher()
	cfg.FlushInterval = -time.Second
	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "flush interval")
	require.NotContains(t, err.Error(), "ask timeout")
}

func validClient() Client {
	return Client{
		TransactionalID: "surge-testTopic-1",
		SeedBrokers:     []string{"localhost:9092"},
		StateTopic:      "testTopic",
		EventsTopic:     "testTopic-events",
		Partition:       1,
	}
}

func TestClientValidate(t *testing.T) {
	require.NoError(t, validClient().Validate())

	err := Client{Partition: -1}.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "transactional id")
	require.ErrorContains(t, err, "seed broker")
	require.ErrorContains(t, err, "state topic")
	require.ErrorContains(t, err, "events topic")
	require.ErrorContains(t, err, "invalid partition")
}
