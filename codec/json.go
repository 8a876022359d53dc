package codec

import "encoding/json"

// JSON encodes values with encoding/json.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Type: typeName[T](), Err: err}
	}
	return data, nil
}

func (JSON[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, &DeserializationError{Type: typeName[T](), Err: err}
	}
	return v, nil
}
