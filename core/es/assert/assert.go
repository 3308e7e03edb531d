// Package assert builds named preconditions for aggregate commands.
package assert

import (
	"errors"
	"fmt"
	"slices"
)

var ErrFailed = errors.New("assertion failed")

type CondFunc func() bool

type Cond interface {
	String() string
	Eval() bool
	Check() error
}

type cond struct {
	name  string
	cond  CondFunc
	check func() error
}

func (c *cond) Check() error   { return c.check() }
func (c *cond) String() string { return c.name }
func (c *cond) Eval() bool     { return c.cond() }

func newCond(name string, condFn CondFunc) *cond {
	return &cond{name: name, cond: condFn, check: func() error {
		if !condFn() {
			return fmt.Errorf("%w: %s", ErrFailed, name)
		}
		return nil
	}}
}

func Not(c Cond) Cond {
	return newCond(fmt.Sprintf("not(%s)", c.String()), func() bool { return !c.Eval() })
}
func True(v bool, name string) Cond  { return newCond(name, func() bool { return v }) }
func False(v bool, name string) Cond { return newCond(name, func() bool { return !v }) }

// NotEmpty holds if s is not the empty string.
func NotEmpty(s, name string) Cond {
	return newCond(name+" must not be empty", func() bool { return s != "" })
}

// Positive holds if n > 0.
func Positive[N ~int | ~int64 | ~uint | ~uint64](n N, name string) Cond {
	return newCond(name+" must be positive", func() bool { return n > 0 })
}

// OneOf holds if v is one of allowed.
func OneOf[T comparable](v T, name string, allowed ...T) Cond {
	return newCond(fmt.Sprintf("%s must be one of %v", name, allowed), func() bool {
		return slices.Contains(allowed, v)
	})
}

// All holds if every condition holds. Check reports the first failure.
func All(cs ...Cond) Cond {
	all := newCond("all", func() bool {
		for _, c := range cs {
			if !c.Eval() {
				return false
			}
		}
		return true
	})
	all.check = func() error {
		for _, c := range cs {
			if err := c.Check(); err != nil {
				return err
			}
		}
		return nil
	}
	return all
}
