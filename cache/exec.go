package cache

import (
	"context"
	"fmt"
	"time"
)

// Invoker is a function that produces a value of type T.
// The bool return indicates whether a value was found. Return false to signal
// "not found" without caching a zero value (e.g. sql.ErrNoRows scenarios).
type Invoker[T any] func(ctx context.Context) (T, bool, error)

type execResult[T any] struct {
	value T
	found bool
}

// Exec is a cache-aside helper. On a hit it returns the cached value with
// found=true. On a miss it calls invoke; concurrent misses for the same key
// share a single invocation. A found value is stored with ttl, while errors
// and not-found results are never cached. A payload that cannot be decoded
// into T is returned as an error without calling invoke.
func Exec[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, invoke Invoker[T]) (T, bool, error) {
	var zero T
	val, found, err := Lookup[T](m, key)
	if err != nil {
		return zero, false, err
	}
	if found {
		return val, true, nil
	}

	res, err, _ := m.flight.Do(key, func() (any, error) {
		v, ok, err := invoke(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			m.Set(key, v, ttl)
		}
		return execResult[T]{value: v, found: ok}, nil
	})
	if err != nil {
		return zero, false, err
	}
	r, ok := res.(execResult[T])
	if !ok {
		return zero, false, fmt.Errorf("cache: concurrent Exec for %q produced %T, want %T", key, res, r)
	}
	if !r.found {
		return zero, false, nil
	}
	return r.value, true, nil
}
