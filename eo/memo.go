package eo

import (
	"context"
	"errors"
	"sync"
)

// memo computes a value at most once for the Product that embeds it.
// Context cancellations are not remembered, so a later call may retry.
type memo[T any] struct {
	mu   sync.Mutex
	done bool
	val  T
	err  error
}

func (m *memo[T]) get(ctx context.Context, f func(context.Context) (T, error)) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return m.val, m.err
	}
	v, err := f(ctx)
	if err != nil && isCancellation(err) {
		var zero T
		return zero, err
	}
	m.val, m.err, m.done = v, err, true
	return v, err
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// instanceCache holds argumented memo cells. It belongs to one Product and is
// never shared.
type instanceCache struct {
	mu    sync.Mutex
	cells map[string]any
}

// cached returns the value of key in c, computing it with f on first use.
func cached[T any](ctx context.Context, c *instanceCache, key string, f func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	if c.cells == nil {
		c.cells = make(map[string]any)
	}
	cell, ok := c.cells[key].(*memo[T])
	if !ok {
		cell = &memo[T]{}
		c.cells[key] = cell
	}
	c.mu.Unlock()
	return cell.get(ctx, f)
}

// Cached memoizes f under key for the lifetime of p. Strategies defined
// outside this package use it for lookups that take arguments, such as
// auxiliary metadata files.
func Cached[T any](ctx context.Context, p *Product, key string, f func(context.Context) (T, error)) (T, error) {
	return cached(ctx, &p.cache, key, f)
}
