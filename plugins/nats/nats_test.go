package nats

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camelya58/kafkabridge/broker"
	"github.com/camelya58/kafkabridge/core"
)

func TestSanitizeStreamName(t *testing.T) {
	tests := map[string]string{
		"msg":           "msg",
		"orders.us.*":   "orders-us--",
		"payments.>":    "payments--",
		"kafkabridge-a": "kafkabridge-a",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeStreamName(in), in)
	}
}

func TestFactory_RequiresURL(t *testing.T) {
	_, err := Factory(broker.Config{})
	assert.Error(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New("nats://127.0.0.1:1", "", WithReconnect(0, time.Millisecond))
	assert.ErrorIs(t, err, core.ErrTransportUnavailable)
}

func TestToHeader(t *testing.T) {
	h := toHeader(map[string]string{"trace": "abc"}, []byte{0, 0, 0, 0, 0, 0, 0, 42})

	assert.Equal(t, "abc", h.Get("trace"))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0, 0, 0, 0, 0, 0, 0, 42}), h.Get(keyHeader))

	assert.Empty(t, toHeader(nil, nil).Get(keyHeader))
}

func TestOptsFromConfig(t *testing.T) {
	o := defaults()
	for _, fn := range optsFromConfig(broker.Config{
		ClientID: "bridge-1",
		SASL:     broker.SASL{Mechanism: "PLAIN", Username: "u", Password: "p"},
		Extra:    map[string]any{"max_deliver": 3, "replicas": 2},
	}) {
		fn(&o)
	}

	assert.Equal(t, "bridge-1", o.name)
	assert.Equal(t, "u", o.user)
	assert.Equal(t, "p", o.password)
	assert.Equal(t, 3, o.maxDeliver)
	assert.Equal(t, 2, o.replicas)
}

// fakeMsg implements the parts of jetstream.Msg a record uses.
type fakeMsg struct {
	jetstream.Msg
	data   []byte
	header nats.Header
	meta   *jetstream.MsgMetadata
	acked  bool
	nacked bool
}

func (m *fakeMsg) Data() []byte         { return m.data }
func (m *fakeMsg) Headers() nats.Header { return m.header }
func (m *fakeMsg) Ack() error           { m.acked = true; return nil }
func (m *fakeMsg) Nak() error           { m.nacked = true; return nil }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	if m.meta == nil {
		return nil, jetstream.ErrNotJSMessage
	}
	return m.meta, nil
}

func TestRecord(t *testing.T) {
	ts := time.Unix(100, 0)
	msg := &fakeMsg{
		data:   []byte(`{"name":"Ann"}`),
		header: toHeader(map[string]string{"trace": "abc"}, []byte("k1")),
		meta: &jetstream.MsgMetadata{
			Sequence:  jetstream.SequencePair{Stream: 17, Consumer: 3},
			Timestamp: ts,
		},
	}

	r := newRecord("msg", msg)
	assert.Equal(t, "msg", r.Topic())
	assert.Equal(t, 0, r.Partition())
	assert.EqualValues(t, 17, r.Offset())
	assert.Equal(t, ts, r.Time())
	assert.Equal(t, []byte("k1"), r.Key())
	assert.Equal(t, map[string]string{"trace": "abc"}, r.Headers())

	require.NoError(t, r.Ack())
	require.NoError(t, r.Nack())
	assert.True(t, msg.acked)
	assert.True(t, msg.nacked)
}

func TestRecord_WithoutMetadata(t *testing.T) {
	r := newRecord("msg", &fakeMsg{header: nats.Header{}})
	assert.EqualValues(t, -1, r.Offset())
	assert.Nil(t, r.Key())
}
