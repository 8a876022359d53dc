package broker_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camelya58/kafkabridge/broker"
	"github.com/camelya58/kafkabridge/core"
	"github.com/camelya58/kafkabridge/internal/mock"
)

func TestRegistry(t *testing.T) {
	r := broker.NewRegistry()
	mb := mock.NewBroker()

	var got broker.Config
	require.NoError(t, r.Register("mock", func(cfg broker.Config) (core.Broker, error) {
		got = cfg
		return mb, nil
	}))
	require.NoError(t, r.Register("failing", func(broker.Config) (core.Broker, error) {
		return nil, errors.New("unreachable")
	}))

	assert.Equal(t, []string{"failing", "mock"}, r.Names())

	b, err := r.Create("mock", broker.Config{Brokers: []string{"localhost:9092"}, Group: "g"})
	require.NoError(t, err)
	assert.Same(t, mb, b)
	assert.Equal(t, "g", got.Group)

	_, err = r.Create("failing", broker.Config{})
	assert.ErrorContains(t, err, "unreachable")

	_, err = r.Create("missing", broker.Config{})
	assert.ErrorContains(t, err, `unknown broker "missing"`)
}

func TestRegistry_RegisterRejects(t *testing.T) {
	r := broker.NewRegistry()
	f := func(broker.Config) (core.Broker, error) { return mock.NewBroker(), nil }

	require.NoError(t, r.Register("kafka", f))
	assert.Error(t, r.Register("kafka", f))
	assert.Error(t, r.Register("", f))
	assert.Error(t, r.Register("nil", nil))
}

func TestSASL_Enabled(t *testing.T) {
	assert.False(t, broker.SASL{}.Enabled())
	assert.True(t, broker.SASL{Mechanism: "PLAIN"}.Enabled())
}

func TestGroupID(t *testing.T) {
	assert.Equal(t, "orders", broker.GroupID("orders", "msg"))
	assert.Equal(t, "kafkabridge-msg", broker.GroupID("", "msg"))
}
