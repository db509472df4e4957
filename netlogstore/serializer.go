package netlogstore

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Serializer encodes values to, and decodes values from, the bytes of a single
// file. For every value v accepted by Encode, Decode(Encode(v)) must equal v.
type Serializer[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// JSONSerializer is the default serializer.
type JSONSerializer[T any] struct{}

var _ Serializer[int] = JSONSerializer[int]{}

// Encode implements Serializer.
func (JSONSerializer[T]) Encode(v T) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode JSON: %w", err)
	}
	return data, nil
}

// Decode implements Serializer.
func (JSONSerializer[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode JSON: %w", err)
	}
	return v, nil
}

// YAMLSerializer encodes values as YAML documents.
type YAMLSerializer[T any] struct{}

var _ Serializer[int] = YAMLSerializer[int]{}

// Encode implements Serializer.
func (YAMLSerializer[T]) Encode(v T) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode YAML: %w", err)
	}
	return data, nil
}

// Decode implements Serializer.
func (YAMLSerializer[T]) Decode(data []byte) (T, error) {
	var v T
	if err := yaml.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode YAML: %w", err)
	}
	return v, nil
}
