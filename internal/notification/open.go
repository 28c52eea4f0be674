package notification

import (
	"fmt"
	"log/slog"
	"strings"
)

// Sink names accepted by Open.
const (
	SinkLog      = "log"
	SinkKafka    = "kafka"
	SinkRabbitMQ = "rabbitmq"
)

// Config selects and configures a notifier.
type Config struct {
	Sink          string
	KafkaBrokers  []string
	KafkaTopic    string
	RabbitMQURL   string
	RabbitMQQueue string
}

// Open builds the configured notifier. The returned close function is never
// nil.
func Open(cfg Config, logger *slog.Logger) (Notifier, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(cfg.Sink)) {
	case "", SinkLog:
		return NewLoggerNotifier(logger), noop, nil
	case SinkKafka:
		n, err := NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, noop, err
		}
		return n, n.Close, nil
	case SinkRabbitMQ:
		n, err := NewRabbitMQNotifier(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			return nil, noop, err
		}
		return n, n.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown notification sink %q", cfg.Sink)
	}
}
