package identity

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultLookupTimeout bounds the authoritative store round trip so a slow
// database degrades into a denial instead of a hung request.
const DefaultLookupTimeout = 2 * time.Second

// Service fronts the repository for the auth core. Concurrent lookups for the
// same user are collapsed into a single query.
type Service struct {
	repo          Repository
	group         singleflight.Group
	lookupTimeout time.Duration
}

// NewService constructs a Service. A non-positive timeout falls back to the
// default.
func NewService(repo Repository, lookupTimeout time.Duration) *Service {
	if lookupTimeout <= 0 {
		lookupTimeout = DefaultLookupTimeout
	}
	return &Service{repo: repo, lookupTimeout: lookupTimeout}
}

// Lookup fetches the current account state for a user id. The call is bounded
// by the configured timeout and honours caller cancellation.
func (s *Service) Lookup(ctx context.Context, id string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	ch := s.group.DoChan(id, func() (any, error) {
		// Detached from the request context: a shared flight must not be
		// cancelled by whichever caller happens to leave first.
		lookupCtx, lookupCancel := context.WithTimeout(context.Background(), s.lookupTimeout)
		defer lookupCancel()
		return s.repo.FindByID(lookupCtx, id)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*User), nil
	}
}

// Repo exposes the underlying repository for collaborators that need
// operations beyond bounded lookups.
func (s *Service) Repo() Repository {
	return s.repo
}
