package sarama

import (
	"time"

	"github.com/IBM/sarama"
)

// Option configures the sarama broker.
type Option func(*options)

type options struct {
	clientID     string
	version      sarama.KafkaVersion
	flushFreq    time.Duration
	initial      int64
	saslUser     string
	saslPassword string
}

func defaults() options {
	return options{
		clientID:  "kafkabridge",
		version:   sarama.V2_8_0_0,
		flushFreq: 10 * time.Millisecond,
		initial:   sarama.OffsetOldest,
	}
}

// WithClientID sets the client ID sent to the brokers.
func WithClientID(id string) Option {
	return func(o *options) { o.clientID = id }
}

// WithVersion sets the Kafka protocol version.
func WithVersion(v sarama.KafkaVersion) Option {
	return func(o *options) { o.version = v }
}

// WithFlushFrequency sets how often the producer flushes batches.
func WithFlushFrequency(d time.Duration) Option {
	return func(o *options) { o.flushFreq = d }
}

// WithInitialOffset sets where a new consumer group starts (sarama.OffsetOldest or sarama.OffsetNewest).
func WithInitialOffset(offset int64) Option {
	return func(o *options) { o.initial = offset }
}

// WithPlainAuth authenticates with SASL/PLAIN.
func WithPlainAuth(user, password string) Option {
	return func(o *options) { o.saslUser, o.saslPassword = user, password }
}

// newConfig builds the sarama configuration shared by producer and consumers.
func newConfig(opts options) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = opts.clientID
	cfg.Version = opts.version

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Flush.Frequency = opts.flushFreq

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = opts.initial
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Offsets.AutoCommit.Interval = time.Second

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 10 * time.Second
	cfg.Net.WriteTimeout = 10 * time.Second

	if opts.saslUser != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		cfg.Net.SASL.User = opts.saslUser
		cfg.Net.SASL.Password = opts.saslPassword
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
