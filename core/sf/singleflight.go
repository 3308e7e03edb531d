package sf

import "golang.org/x/sync/singleflight"

// Group is a typed singleflight.Group. The zero value is ready to use.
type Group[T any] struct {
	group singleflight.Group
}

// Do runs fn unless a call for key is already in flight, in which case it
// waits for that call. shared reports whether the result was handed to
// more than one caller.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	out, err, shared := g.group.Do(key, func() (any, error) {
		return fn()
	})
	if out != nil {
		v = out.(T)
	}
	return v, shared, err
}

// Forget drops an in-flight call so the next Do for key runs fn again.
func (g *Group[T]) Forget(key string) { g.group.Forget(key) }
