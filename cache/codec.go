package cache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts values to and from the byte payloads the cache stores.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MsgpackCodec encodes values with msgpack. It is the default codec.
type MsgpackCodec struct{}

var _ Codec = MsgpackCodec{}

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// Lookup retrieves a typed value. It reports found=false on a miss and an
// error when the stored payload cannot be decoded into T.
func Lookup[T any](m *Manager, key string) (T, bool, error) {
	var result T
	data, ok := m.GetBytes(key)
	if !ok {
		return result, false, nil
	}
	if err := m.cfg.codec.Unmarshal(data, &result); err != nil {
		m.counters.serializationFailures.Add(1)
		var zero T
		return zero, false, fmt.Errorf("cache: failed to unmarshal %q as %T: %w", key, zero, err)
	}
	return result, true, nil
}

// Get retrieves a typed value, returning def on a miss or decode failure.
//
//	token := cache.Get(m, "token", "")
func Get[T any](m *Manager, key string, def T) T {
	v, ok, err := Lookup[T](m, key)
	if err != nil {
		m.log.Warn("decode %q: %s", key, err)
		return def
	}
	if !ok {
		return def
	}
	return v
}
