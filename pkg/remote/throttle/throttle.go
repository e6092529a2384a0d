// Package throttle limits how fast sessions are opened against a remote
// store.
package throttle

import (
	"context"

	"github.com/marmos91/rodsnfs/internal/ratelimiter"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

// Factory wraps a remote.SessionFactory so that Open waits on a rate
// limiter before delegating.
type Factory struct {
	next    remote.SessionFactory
	limiter *ratelimiter.RateLimiter
}

var _ remote.SessionFactory = (*Factory)(nil)

// New returns next unchanged when limiter is nil or unlimited.
func New(next remote.SessionFactory, limiter *ratelimiter.RateLimiter) remote.SessionFactory {
	if limiter == nil || limiter.Unlimited() {
		return next
	}
	return &Factory{next: next, limiter: limiter}
}

func (f *Factory) Open(ctx context.Context, acct remote.Account) (remote.Session, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return f.next.Open(ctx, acct)
}
