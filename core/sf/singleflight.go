package sf

import "golang.org/x/sync/singleflight"

// Group deduplicates concurrent calls with the same key. The zero value is
// ready to use.
type Group[T any] struct {
	group singleflight.Group
}

// Do runs fn once per key at a time; callers arriving while it runs wait and
// share its result. shared reports whether the result went to more than one
// caller.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	out, err, shared := g.group.Do(key, func() (any, error) {
		return fn()
	})
	if out != nil {
		v = out.(T)
	}
	return v, shared, err
}

// Forget makes the next Do for key run fn even if a call is in flight.
func (g *Group[T]) Forget(key string) {
	g.group.Forget(key)
}

func New[T any]() *Group[T] {
	return &Group[T]{}
}
