package llm

import "context"

// Pool bounds how many model calls run at once. Consumers share one
// pool so a burst on one queue cannot starve the others of the model.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a pool with n concurrent slots.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	return &Pool{sem: make(chan struct{}, n)}
}

// Do runs fn once a slot is free. Waiting is cancelable through ctx.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	return fn()
}
