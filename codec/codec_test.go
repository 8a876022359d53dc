package codec_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camelya58/kafkabridge/codec"
)

type address struct {
	Country    string `json:"country"`
	City       string `json:"city"`
	Street     string `json:"street"`
	HomeNumber int64  `json:"homeNumber"`
	FlatNumber int64  `json:"flatNumber"`
}

type user struct {
	Age     int64   `json:"age"`
	Name    string  `json:"name"`
	Address address `json:"address"`
}

type node struct {
	Next *node
}

func TestJSON_RoundTrip(t *testing.T) {
	c := codec.JSON[user]{}
	tests := []user{
		{},
		{Age: 30, Name: "Ann", Address: address{"Russia", "Moscow", "Lenina", 2, 100}},
		{Age: -1, Name: "Ёжик \"quoted\"", Address: address{City: "Kazan"}},
	}
	for _, want := range tests {
		t.Run(want.Name, func(t *testing.T) {
			data, err := c.Encode(want)
			require.NoError(t, err)
			got, err := c.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestJSON_FieldNames(t *testing.T) {
	data, err := codec.JSON[user]{}.Encode(user{Age: 1, Address: address{HomeNumber: 2}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"homeNumber":2`)
	assert.Contains(t, string(data), `"age":1`)
}

func TestJSON_EncodeUnsupported(t *testing.T) {
	_, err := codec.JSON[func()]{}.Encode(func() {})
	var se *codec.SerializationError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "func()", se.Type)
}

func TestJSON_EncodeCycle(t *testing.T) {
	n := &node{}
	n.Next = n
	_, err := codec.JSON[*node]{}.Encode(n)
	var se *codec.SerializationError
	assert.ErrorAs(t, err, &se)
}

func TestJSON_DecodeMalformed(t *testing.T) {
	for _, in := range []string{"", "{", "not json", `{"age":"thirty"}`, `{} trailing`} {
		_, err := codec.JSON[user]{}.Decode([]byte(in))
		var de *codec.DeserializationError
		assert.ErrorAs(t, err, &de, "input %q", in)
	}
}

func TestInt64(t *testing.T) {
	c := codec.Int64{}
	for _, v := range []int64{0, 1, 42, -42, 1 << 62, -1 << 63} {
		data, err := c.Encode(v)
		require.NoError(t, err)
		require.Len(t, data, 8)
		got, err := c.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	data, _ := c.Encode(42)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 42}, data)

	_, err := c.Decode([]byte{1, 2, 3})
	var de *codec.DeserializationError
	assert.ErrorAs(t, err, &de)
}

func TestString(t *testing.T) {
	c := codec.String{}
	data, err := c.Encode("hello, мир")
	require.NoError(t, err)
	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "hello, мир", got)

	_, err = c.Decode([]byte{0xff, 0xfe})
	var de *codec.DeserializationError
	assert.ErrorAs(t, err, &de)

	_, err = c.Encode(string([]byte{0xff}))
	var se *codec.SerializationError
	assert.ErrorAs(t, err, &se)
}

func TestBytes(t *testing.T) {
	c := codec.Bytes{}
	data, err := c.Encode([]byte("raw"))
	require.NoError(t, err)
	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), got)
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("boom")
	assert.ErrorIs(t, &codec.SerializationError{Type: "x", Err: cause}, cause)
	assert.ErrorIs(t, &codec.DeserializationError{Type: "x", Err: cause}, cause)
}
