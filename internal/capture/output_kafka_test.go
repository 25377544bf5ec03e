package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewKafkaOutputAppliesDefaults(t *testing.T) {
	out, err := NewKafkaOutput(KafkaOutputConfig{Brokers: []string{"localhost:9092"}, Topic: "sngcore-mirror"})
	require.NoError(t, err)
	defer out.writer.Close()

	require.Equal(t, defaultKafkaBatchSize, out.cfg.BatchSize)
	require.Equal(t, defaultKafkaBatchTimeout, out.cfg.BatchTimeout)
	require.Equal(t, defaultKafkaMaxAttempts, out.cfg.MaxAttempts)
	require.Equal(t, "snappy", out.cfg.Compression)
}

func TestNewKafkaOutputHonorsExplicitConfig(t *testing.T) {
	out, err := NewKafkaOutput(KafkaOutputConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "sngcore-mirror",
		BatchSize:    10,
		BatchTimeout: 50 * time.Millisecond,
		Compression:  "gzip",
		MaxAttempts:  1,
	})
	require.NoError(t, err)
	defer out.writer.Close()

	require.Equal(t, 10, out.cfg.BatchSize)
	require.Equal(t, 50*time.Millisecond, out.cfg.BatchTimeout)
	require.Equal(t, 1, out.cfg.MaxAttempts)
}

func TestNewKafkaOutputRejectsMissingBrokersOrTopic(t *testing.T) {
	_, err := NewKafkaOutput(KafkaOutputConfig{Topic: "sngcore-mirror"})
	require.Error(t, err)

	_, err = NewKafkaOutput(KafkaOutputConfig{Brokers: []string{"localhost:9092"}})
	require.Error(t, err)
}

func TestNewKafkaOutputRejectsInvalidCompression(t *testing.T) {
	_, err := NewKafkaOutput(KafkaOutputConfig{
		Brokers:     []string{"localhost:9092"},
		Topic:       "sngcore-mirror",
		Compression: "bogus",
	})
	require.Error(t, err)
}

func TestNewKafkaOutputAcceptsNoneCompression(t *testing.T) {
	out, err := NewKafkaOutput(KafkaOutputConfig{
		Brokers:     []string{"localhost:9092"},
		Topic:       "sngcore-mirror",
		Compression: "none",
	})
	require.NoError(t, err)
	defer out.writer.Close()
}
