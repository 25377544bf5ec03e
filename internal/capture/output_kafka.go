package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/otus-sngrep/sngcore/internal/packet"
)

// KafkaOutputConfig mirrors the teacher's KafkaReporter.Config, with the
// same defaults (batch_size=100, batch_timeout=100ms, compression=snappy,
// max_attempts=3).
type KafkaOutputConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string
	MaxAttempts  int
}

const (
	defaultKafkaBatchSize    = 100
	defaultKafkaBatchTimeout = 100 * time.Millisecond
	defaultKafkaMaxAttempts  = 3
)

// KafkaOutput mirrors captured packets to a Kafka topic as JSON envelopes —
// the **(NEW)** second CaptureOutput alongside the dump sink and HEP
// sender, grounded on the teacher's KafkaReporter (batching, compression
// codec selection, hash balancer for per-flow partition locality).
type KafkaOutput struct {
	cfg    KafkaOutputConfig
	writer *kafka.Writer
}

// NewKafkaOutput builds a Kafka writer for cfg, applying the teacher's
// defaults for any zero-valued field.
func NewKafkaOutput(cfg KafkaOutputConfig) (*KafkaOutput, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("capture: kafka output requires brokers and topic")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultKafkaBatchSize
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = defaultKafkaBatchTimeout
	}
	if cfg.Compression == "" {
		cfg.Compression = "snappy"
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultKafkaMaxAttempts
	}

	writerCfg := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Async:        false,
	}
	switch cfg.Compression {
	case "none":
		writerCfg.CompressionCodec = nil
	case "gzip":
		writerCfg.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		writerCfg.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		writerCfg.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("capture: invalid kafka compression %q", cfg.Compression)
	}

	return &KafkaOutput{cfg: cfg, writer: kafka.NewWriter(writerCfg)}, nil
}

// kafkaEnvelope is the JSON shape written to the mirror topic — the
// capture-side analogue of the teacher's OutputPacket serialization.
type kafkaEnvelope struct {
	TimestampMS int64  `json:"timestamp_ms"`
	SrcIP       string `json:"src_ip"`
	DstIP       string `json:"dst_ip"`
	SrcPort     uint16 `json:"src_port"`
	DstPort     uint16 `json:"dst_port"`
	Transport   string `json:"transport"`
	PayloadLen  int    `json:"payload_len"`
	Payload     []byte `json:"payload"`
}

// Write ships pkt to the configured topic, keyed by its 5-tuple so a single
// flow's messages land on the same partition.
func (o *KafkaOutput) Write(pkt *packet.Packet) error {
	env := kafkaEnvelope{
		SrcIP:      pkt.Src.IP().String(),
		DstIP:      pkt.Dst.IP().String(),
		SrcPort:    pkt.Src.Port(),
		DstPort:    pkt.Dst.Port(),
		Transport:  pkt.TransportTag,
		PayloadLen: len(pkt.Payload),
		Payload:    pkt.Payload,
	}
	if f := pkt.FirstFrame(); f != nil {
		env.TimestampMS = f.Timestamp.UnixMilli()
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("capture: serialize kafka envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%d-%s:%d", env.SrcIP, env.SrcPort, env.DstIP, env.DstPort)),
		Value: value,
		Time:  time.UnixMilli(env.TimestampMS),
	}
	return o.writer.WriteMessages(context.Background(), msg)
}

// Close flushes and closes the underlying writer.
func (o *KafkaOutput) Close() error {
	return o.writer.Close()
}
