// Package tokens provides a pool of GitHub tokens shared by concurrent
// tracking tasks.
package tokens

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrNoTokens is returned when a pool is created without tokens.
var ErrNoTokens = errors.New("no github tokens configured")

// Pool hands out tokens to callers, blocking them while all tokens are in use.
type Pool struct {
	tokens []string
	sem    *semaphore.Weighted

	mu   sync.Mutex
	free []string
}

// NewPool creates a pool holding the tokens provided.
func NewPool(tokens []string) (*Pool, error) {
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}
	all := make([]string, len(tokens))
	copy(all, tokens)
	free := make([]string, len(tokens))
	copy(free, tokens)

	return &Pool{
		tokens: all,
		sem:    semaphore.NewWeighted(int64(len(tokens))),
		free:   free,
	}, nil
}

// Get waits until a token is available and leases it to the caller. The
// lease must be released once the caller is done with the token.
func (p *Pool) Get(ctx context.Context) (*Lease, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	n := len(p.free) - 1
	token := p.free[n]
	p.free = p.free[:n]
	p.mu.Unlock()

	return &Lease{pool: p, token: token}, nil
}

func (p *Pool) put(token string) {
	p.mu.Lock()
	p.free = append(p.free, token)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Size returns the number of tokens in the pool.
func (p *Pool) Size() int {
	return len(p.tokens)
}

// InUse returns the number of tokens currently leased.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens) - len(p.free)
}

// Tokens returns all the tokens in the pool, leased or not.
func (p *Pool) Tokens() []string {
	tokens := make([]string, len(p.tokens))
	copy(tokens, p.tokens)
	return tokens
}

// Lease is a token checked out from a Pool.
type Lease struct {
	pool  *Pool
	token string
	once  sync.Once
}

// Token returns the leased token.
func (l *Lease) Token() string {
	return l.token
}

// Release returns the token to the pool. Only the first call has any effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.put(l.token)
	})
}
