package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Int64 uses the 8-byte big-endian layout of Kafka's LongSerializer, so keys
// interoperate with JVM producers and consumers.
type Int64 struct{}

func (Int64) Encode(v int64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), uint64(v)), nil
}

func (Int64) Decode(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, &DeserializationError{
			Type: "int64",
			Err:  fmt.Errorf("want 8 bytes, got %d", len(data)),
		}
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// String carries UTF-8 text as-is.
type String struct{}

func (String) Encode(v string) ([]byte, error) {
	if !utf8.ValidString(v) {
		return nil, &SerializationError{Type: "string", Err: errInvalidUTF8}
	}
	return []byte(v), nil
}

func (String) Decode(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", &DeserializationError{Type: "string", Err: errInvalidUTF8}
	}
	return string(data), nil
}

// Bytes passes payloads through untouched.
type Bytes struct{}

func (Bytes) Encode(v []byte) ([]byte, error) { return v, nil }

func (Bytes) Decode(data []byte) ([]byte, error) { return data, nil }

var errInvalidUTF8 = errors.New("invalid UTF-8")
