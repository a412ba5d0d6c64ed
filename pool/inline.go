package pool

// InlinePool runs every task synchronously inside Submit. It exists for
// tests, where it makes the whole pipeline deterministic: by the time Submit
// returns, the completion callback has run.
type InlinePool struct {
	closed bool
}

// NewInlinePool returns a synchronous pool.
func NewInlinePool() *InlinePool { return &InlinePool{} }

// Submit implements Pool.
func (p *InlinePool) Submit(fn Task, done Done) (*Future, error) {
	if p.closed {
		return nil, ErrClosed
	}
	fut := &Future{}
	if fut.start() {
		v, err := fn()
		fut.finish()
		done(v, err)
	}
	return fut, nil
}

// Size implements Pool.
func (p *InlinePool) Size() int { return 1 }

// Close implements Pool.
func (p *InlinePool) Close() { p.closed = true }
