package leaklog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/leakwatch/internal/config"
	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/log"
)

// Sink persists leak entries. Write is called from one goroutine per
// partition and must be safe for concurrent use.
type Sink interface {
	Name() string
	Write(ctx context.Context, entry core.LeakEntry) error
	Close() error
}

// LogSink writes entries to the process logger.
type LogSink struct {
	logger log.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: log.GetLogger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, e core.LeakEntry) error {
	s.logger.WithFields(map[string]interface{}{
		"app":       e.App,
		"remote_ip": e.RemoteIP,
		"label":     e.Label,
		"action":    e.Action.String(),
	}).Infof("leak %q", e.Value)
	return nil
}

func (s *LogSink) Close() error { return nil }

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultMaxAttempts  = 3
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes entries as JSON, keyed by app so one app's entries
// land on one Kafka partition.
type KafkaSink struct {
	topic  string
	writer messageWriter
}

// NewKafkaSink creates a synchronous writer for cfg.
func NewKafkaSink(cfg config.KafkaLeakLogConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka sink needs brokers and topic", core.ErrConfigInvalid)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}

	wc := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  defaultMaxAttempts,
		Async:        false,
	}
	switch cfg.Compression {
	case "none", "":
	case "gzip":
		wc.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		wc.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		wc.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("%w: kafka compression %q", core.ErrConfigInvalid, cfg.Compression)
	}

	return &KafkaSink{topic: cfg.Topic, writer: kafka.NewWriter(wc)}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, e core.LeakEntry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode leak entry: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.App),
		Value: value,
		Time:  e.Time,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
