package cache

import "time"

type PutOptions struct {
	TTL time.Duration
}

type PutOption func(*PutOptions)

// WithTTL expires the entry after ttl. Zero means no expiry.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
	}
}

type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
	Len() int
}

type TypedCache[T any] interface {
	Put(key string, val T, opts ...PutOption)
	Get(key string) (T, bool)
	Delete(key string)
}

type typedCache[T any] struct {
	c Cache
}

func NewTyped[T any](c Cache) TypedCache[T] { return &typedCache[T]{c: c} }

// Get treats a value of another type as a miss.
func (t *typedCache[T]) Get(key string) (out T, ok bool) {
	v, found := t.c.Get(key)
	if !found {
		return out, false
	}
	out, ok = v.(T)
	return out, ok
}

func (t *typedCache[T]) Put(key string, val T, opts ...PutOption) { t.c.Put(key, val, opts...) }

func (t *typedCache[T]) Delete(key string) { t.c.Delete(key) }

var _ TypedCache[any] = (*typedCache[any])(nil)
