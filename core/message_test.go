package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camelya58/kafkabridge/codec"
	"github.com/camelya58/kafkabridge/core"
	"github.com/camelya58/kafkabridge/internal/mock"
)

func TestNewMessage(t *testing.T) {
	m := core.NewMessage("msg", int64(1), "hello")
	assert.Equal(t, "msg", m.Destination)
	assert.Equal(t, -1, m.Partition)
	assert.EqualValues(t, -1, m.Offset)
}

func TestDecode(t *testing.T) {
	ts := time.Now()
	headers := map[string]string{"trace": "abc"}
	rec := &mock.Record{
		T: "msg", P: 2, O: 11, Ts: ts, H: headers,
		K: []byte{0, 0, 0, 0, 0, 0, 0, 42},
		V: []byte(`{"name":"Ann","age":30}`),
	}

	m, err := core.Decode(rec, codec.Int64{}, codec.JSON[user]{})
	require.NoError(t, err)
	assert.Equal(t, "msg", m.Destination)
	assert.EqualValues(t, 42, m.Key)
	assert.Equal(t, user{Name: "Ann", Age: 30}, m.Value)
	assert.Equal(t, 2, m.Partition)
	assert.EqualValues(t, 11, m.Offset)
	assert.Equal(t, ts, m.Timestamp)

	headers["trace"] = "changed"
	assert.Equal(t, "abc", m.Headers["trace"])
}

func TestDecode_NullKey(t *testing.T) {
	rec := &mock.Record{T: "msg-text", V: []byte("hi")}

	m, err := core.Decode(rec, codec.String{}, codec.String{})
	require.NoError(t, err)
	assert.Empty(t, m.Key)
	assert.Equal(t, "hi", m.Value)
}

func TestDecode_Errors(t *testing.T) {
	var de *codec.DeserializationError

	_, err := core.Decode(&mock.Record{T: "msg", K: []byte{1, 2}, V: []byte(`{}`)}, codec.Int64{}, codec.JSON[user]{})
	require.ErrorAs(t, err, &de)
	assert.Contains(t, err.Error(), "key of msg")

	_, err = core.Decode(&mock.Record{T: "msg", V: []byte(`{`)}, codec.Int64{}, codec.JSON[user]{})
	require.ErrorAs(t, err, &de)
	assert.Contains(t, err.Error(), "value of msg")
}
