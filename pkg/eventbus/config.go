package eventbus

import (
	"fmt"
	"os"
)

// Config parameterizes one Bus instance — one process, one durable named
// queue, bound to the shared topic exchange.
type Config struct {
	ServiceName string
	Environment string

	URL      string // full amqp:// URL; built from the pieces below if empty
	Username string
	Password string
	Host     string
	Port     string

	Exchange string // main topic exchange, default "events"

	PrefetchCount int // default 50
}

// FromEnv builds a Config for serviceName from the spec's recognized
// broker environment variables.
func FromEnv(serviceName string) Config {
	env := getEnv("ENVIRONMENT", getEnv("NODE_ENV", "development"))
	cfg := Config{
		ServiceName:   serviceName,
		Environment:   env,
		Username:      getEnv("RABBIT_MQ_USERNAME", "guest"),
		Password:      getEnv("RABBIT_MQ_PASSWORD", "guest"),
		Host:          getEnv("RABBIT_MQ_URL", "localhost"),
		Port:          getEnv("RABBIT_MQ_PORT", "5672"),
		Exchange:      getEnv("RABBIT_MQ_EVENTS_EXCHANGE", "events"),
		PrefetchCount: 50,
	}
	return cfg
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// AMQPURL returns the connection URL, building it from the pieces if URL is
// unset.
func (c Config) AMQPURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.Username, c.Password, c.Host, c.Port)
}

// QueueName is the service's durable named queue, <service>.<env>.queue.
func (c Config) QueueName() string {
	return fmt.Sprintf("%s.%s.queue", c.ServiceName, c.Environment)
}

// DeadLetterQueueName is the DLQ bound to the dead-letter exchange.
func (c Config) DeadLetterQueueName() string {
	return c.QueueName() + ".deadletter"
}

// UnroutableQueueName is bound to the alternate exchange.
func (c Config) UnroutableQueueName() string {
	return c.ServiceName + ".unroutable"
}

// AlternateExchange receives messages with no matching binding.
func (c Config) AlternateExchange() string {
	return c.Exchange + ".alternate"
}

// DeadLetterExchange receives messages whose processing ultimately failed.
func (c Config) DeadLetterExchange() string {
	return c.Exchange + ".deadletter"
}

// RetryQueueName names the nth retry queue for this service's main queue.
func (c Config) RetryQueueName(attempt int) string {
	return fmt.Sprintf("%s.retry.%d", c.QueueName(), attempt)
}

const (
	// QueueTTLMillis is the 7-day message TTL on the service's main queue.
	QueueTTLMillis = 7 * 24 * 60 * 60 * 1000
	// QueueMaxLength bounds the service queue's backlog.
	QueueMaxLength = 1_000_000
	// MaxRetries is the bounded retry ceiling before a message dead-letters.
	MaxRetries = 3
	// ReconnectFailureLimit is the consecutive-failure cap before fail-fast.
	ReconnectFailureLimit = 10
)
