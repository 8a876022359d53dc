package broker

// Config holds broker-agnostic configuration.
// Broker plugins extract the fields they need.
type Config struct {
	// Brokers is a list of broker addresses (e.g., "localhost:9092").
	Brokers []string

	// Group is the consumer group ID. Plugins derive one per destination
	// when it is empty.
	Group string

	// ClientID identifies this process to the broker.
	ClientID string

	SASL SASL

	// Extra holds plugin-specific configuration.
	Extra map[string]any
}

// SASL holds broker credentials. An empty Mechanism disables authentication.
type SASL struct {
	// Mechanism is one of "PLAIN", "SCRAM-SHA-256" or "SCRAM-SHA-512".
	Mechanism string
	Username  string
	Password  string
}

// Enabled reports whether credentials are configured.
func (s SASL) Enabled() bool { return s.Mechanism != "" }

// GroupID returns group, or a group derived from topic when group is empty.
func GroupID(group, topic string) string {
	if group != "" {
		return group
	}
	return "kafkabridge-" + topic
}
