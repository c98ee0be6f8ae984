package s3

import (
	"context"
	"sync"

	"github.com/3leaps/catalog/pkg/provider"
)

// Resolver hands out one cached Provider per bucket, all sharing a base
// connection config.
type Resolver struct {
	base Config

	mu        sync.Mutex
	providers map[string]*Provider
}

// NewResolver creates a resolver. base.Bucket is ignored.
func NewResolver(base Config) *Resolver {
	return &Resolver{base: base, providers: make(map[string]*Provider)}
}

// Resolve returns the provider for bucket, creating it on first use.
func (r *Resolver) Resolve(ctx context.Context, bucket string) (provider.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[bucket]; ok {
		return p, nil
	}
	p, err := New(ctx, r.base.WithBucket(bucket))
	if err != nil {
		return nil, err
	}
	r.providers[bucket] = p
	return p, nil
}

// Func adapts the resolver to provider.Resolver.
func (r *Resolver) Func() provider.Resolver {
	return r.Resolve
}

// Close closes every cached provider.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for bucket, p := range r.providers {
		_ = p.Close()
		delete(r.providers, bucket)
	}
	return nil
}
