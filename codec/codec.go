// Package codec converts typed payloads to and from the bytes a transport
// carries. The same codec must be used on the publish and consume side of a
// destination.
package codec

import (
	"fmt"
	"reflect"
)

// Codec serializes and deserializes values of type T.
// Implement this interface for custom serialization formats (Protobuf, Avro, etc.).
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// SerializationError is returned by Encode when a value cannot be represented
// in the codec's format.
type SerializationError struct {
	Type string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("codec: encode %s: %v", e.Type, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// DeserializationError is returned by Decode on malformed input.
type DeserializationError struct {
	Type string
	Err  error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("codec: decode %s: %v", e.Type, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return t.String()
}
