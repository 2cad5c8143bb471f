package kafka

import "time"

type ProducerOption func(*ProducerConfig)

// ProducerConfig maps onto kafka.Writer. Zero values keep the defaults set
// by NewProducer.
type ProducerConfig struct {
	Brokers          []string
	DefaultTopic     string
	RequiredAcks     int
	Compression      string
	MaxAttempts      int
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	BatchSize        int
	BatchBytes       int
	BatchTimeout     time.Duration
	Async            bool
	AutoCreateTopics bool
	// PerPairOrdering routes messages by key hash so all events of one
	// symbol/timeframe land on one partition.
	PerPairOrdering bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

// WithDefaultTopic sets the topic PublishMessage uses.
func WithDefaultTopic(topic string) ProducerOption {
	return func(c *ProducerConfig) {
		if topic != "" {
			c.DefaultTopic = topic
		}
	}
}

// WithCompression accepts gzip, snappy, lz4 or zstd; anything else sends
// uncompressed.
func WithCompression(codec string) ProducerOption {
	return func(c *ProducerConfig) { c.Compression = codec }
}

// WithRequiredAcks takes -1 for all replicas, 0 for none, 1 for the leader.
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) { c.RequiredAcks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *ProducerConfig) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

func WithBatching(size, bytes int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if size > 0 {
			c.BatchSize = size
		}
		if bytes > 0 {
			c.BatchBytes = bytes
		}
		if linger > 0 {
			c.BatchTimeout = linger
		}
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if write > 0 {
			c.WriteTimeout = write
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

// WithAsync makes writes return before the broker acknowledges them.
func WithAsync(async bool) ProducerOption {
	return func(c *ProducerConfig) { c.Async = async }
}

func WithAutoCreateTopics(on bool) ProducerOption {
	return func(c *ProducerConfig) { c.AutoCreateTopics = on }
}

func WithPerPairOrdering(on bool) ProducerOption {
	return func(c *ProducerConfig) { c.PerPairOrdering = on }
}
