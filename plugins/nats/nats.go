package nats

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/camelya58/kafkabridge/broker"
	"github.com/camelya58/kafkabridge/core"
)

// keyHeader carries the record key; NATS messages have no key of their own.
const keyHeader = "Kafkabridge-Key"

// Factory creates a NATS broker from a broker.Config. Only the first
// address is dialled; the client discovers the rest of the cluster.
func Factory(cfg broker.Config) (core.Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafkabridge/nats: at least one broker URL is required")
	}
	return New(cfg.Brokers[0], cfg.Group, optsFromConfig(cfg)...)
}

// Broker implements core.Broker for NATS JetStream.
//
// Design decisions:
//   - One NATS connection per Broker instance; the client reconnects on its
//     own and only a closed connection ends subscriptions.
//   - Publish is asynchronous; the JetStream PubAck settles the ack and its
//     stream sequence becomes the offset.
//   - Each destination gets a stream (created once) and a durable consumer.
//   - Manual ack via Ack(); Nack() triggers server-side redelivery.
type Broker struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	group  string
	opts   options
	closed chan struct{}

	mu       sync.Mutex
	shutdown bool
	streams  map[string]jetstream.Stream
	subs     map[jetstream.ConsumeContext]struct{}
	acks     sync.WaitGroup
}

// New creates a NATS JetStream Broker. url is a standard NATS URL (nats://host:port).
func New(url, group string, fns ...Option) (*Broker, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	b := &Broker{
		group:   group,
		opts:    opts,
		closed:  make(chan struct{}),
		streams: make(map[string]jetstream.Stream),
		subs:    make(map[jetstream.ConsumeContext]struct{}),
	}

	natsOpts := []nats.Option{
		nats.Name(opts.name),
		nats.MaxReconnects(opts.maxReconnects),
		nats.ReconnectWait(opts.reconnectWait),
		nats.ClosedHandler(func(*nats.Conn) { close(b.closed) }),
	}
	if opts.user != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.user, opts.password))
	}

	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("kafkabridge/nats: connect to %q: %w: %w", url, core.ErrTransportUnavailable, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("kafkabridge/nats: init jetstream: %w", err)
	}

	b.conn = nc
	b.js = js
	return b, nil
}

// Publish sends the envelope via JetStream without waiting for the PubAck.
func (b *Broker) Publish(ctx context.Context, env core.Envelope, ack core.AckFunc) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if _, err := b.ensureStream(ctx, env.Topic); err != nil {
		return err
	}

	nm := &nats.Msg{
		Subject: env.Topic,
		Data:    env.Value,
		Header:  toHeader(env.Headers, env.Key),
	}
	paf, err := b.js.PublishMsgAsync(nm)
	if err != nil {
		return fmt.Errorf("kafkabridge/nats: publish to %q: %w", env.Topic, err)
	}

	b.acks.Add(1)
	go func() {
		defer b.acks.Done()
		select {
		case pa := <-paf.Ok():
			ack(core.SendResult{Destination: env.Topic, Offset: int64(pa.Sequence)}, nil)
		case err := <-paf.Err():
			ack(core.SendResult{}, fmt.Errorf("kafkabridge/nats: publish to %q: %w", env.Topic, err))
		case <-ctx.Done():
			ack(core.SendResult{}, ctx.Err())
		case <-b.closed:
			ack(core.SendResult{}, core.ErrBrokerClosed)
		}
	}()
	return nil
}

// ensureStream creates or updates the stream for topic once per Broker.
func (b *Broker) ensureStream(ctx context.Context, topic string) (jetstream.Stream, error) {
	b.mu.Lock()
	stream, ok := b.streams[topic]
	b.mu.Unlock()
	if ok {
		return stream, nil
	}

	streamName := sanitizeStreamName(topic)
	stream, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		MaxMsgs:   b.opts.maxMsgs,
		MaxBytes:  b.opts.maxBytes,
		MaxAge:    b.opts.maxAge,
		Replicas:  b.opts.replicas,
		Retention: b.opts.retention,
		Storage:   b.opts.storage,
	})
	if err != nil {
		return nil, fmt.Errorf("kafkabridge/nats: create stream %q: %w", streamName, err)
	}

	b.mu.Lock()
	b.streams[topic] = stream
	b.mu.Unlock()
	return stream, nil
}

// Subscribe creates or updates a JetStream stream and durable consumer
// for the given subject, then consumes records until the context is cancelled
// or the connection is closed.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler core.Handler) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	stream, err := b.ensureStream(ctx, topic)
	if err != nil {
		return err
	}

	consumerName := sanitizeStreamName(broker.GroupID(b.group, topic))
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    consumerName,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    b.opts.ackWait,
		MaxDeliver: b.opts.maxDeliver,
	})
	if err != nil {
		return fmt.Errorf("kafkabridge/nats: create consumer %q: %w", consumerName, err)
	}

	// Settlement is the handler's business; errors only matter to the caller.
	cc, err := cons.Consume(func(jsMsg jetstream.Msg) {
		_ = handler(ctx, newRecord(topic, jsMsg))
	})
	if err != nil {
		return fmt.Errorf("kafkabridge/nats: start consume on %q: %w", consumerName, err)
	}

	b.mu.Lock()
	b.subs[cc] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.subs, cc)
		b.mu.Unlock()
		cc.Stop()
	}()

	select {
	case <-ctx.Done():
		return nil
	case <-b.closed:
		if err := b.checkOpen(); err != nil {
			return err
		}
		return fmt.Errorf("kafkabridge/nats: %w: connection closed", core.ErrTransportUnavailable)
	}
}

// Close stops all consumers and closes the NATS connection. Pending publish
// acks resolve with core.ErrBrokerClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return nil
	}
	b.shutdown = true
	for s := range b.subs {
		s.Stop()
	}
	b.mu.Unlock()

	b.conn.Close()
	<-b.closed
	b.acks.Wait()
	return nil
}

func (b *Broker) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return core.ErrBrokerClosed
	}
	return nil
}

// sanitizeStreamName converts a subject pattern to a valid stream name
// by replacing special characters.
func sanitizeStreamName(topic string) string {
	buf := make([]byte, len(topic))
	for i := range len(topic) {
		c := topic[i]
		if c == '.' || c == '*' || c == '>' {
			buf[i] = '-'
		} else {
			buf[i] = c
		}
	}
	return string(buf)
}

func toHeader(h map[string]string, key []byte) nats.Header {
	header := nats.Header{}
	for k, v := range h {
		header.Set(k, v)
	}
	if len(key) > 0 {
		header.Set(keyHeader, base64.StdEncoding.EncodeToString(key))
	}
	return header
}

// optsFromConfig extracts options from broker.Config.
func optsFromConfig(cfg broker.Config) []Option {
	var opts []Option
	if cfg.ClientID != "" {
		opts = append(opts, WithName(cfg.ClientID))
	}
	if cfg.SASL.Enabled() {
		opts = append(opts, WithUserInfo(cfg.SASL.Username, cfg.SASL.Password))
	}
	if cfg.Extra == nil {
		return opts
	}
	if v, ok := cfg.Extra["max_deliver"].(int); ok {
		opts = append(opts, WithMaxDeliver(v))
	}
	if v, ok := cfg.Extra["replicas"].(int); ok {
		opts = append(opts, WithReplicas(v))
	}
	return opts
}
