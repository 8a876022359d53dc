package app

import (
	"github.com/camelya58/kafkabridge/broker"
	"github.com/camelya58/kafkabridge/plugins/kafka"
	"github.com/camelya58/kafkabridge/plugins/nats"
	"github.com/camelya58/kafkabridge/plugins/rabbitmq"
	"github.com/camelya58/kafkabridge/plugins/sarama"
)

// Transports returns a registry holding every supported broker plugin.
func Transports() *broker.Registry {
	r := broker.NewRegistry()
	for name, factory := range map[string]broker.Factory{
		"kafka":    kafka.Factory,
		"sarama":   sarama.Factory,
		"nats":     nats.Factory,
		"rabbitmq": rabbitmq.Factory,
	} {
		if err := r.Register(name, factory); err != nil {
			panic(err)
		}
	}
	return r
}
