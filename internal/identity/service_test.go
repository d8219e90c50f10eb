package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/team-kenya/harambee/internal/identity"
	"github.com/team-kenya/harambee/internal/principal"
	_ "github.com/team-kenya/harambee/testing"
)

func TestLookup(t *testing.T) {
	repo := identity.NewMemoryRepository()
	require.NoError(t, repo.Create(context.Background(), &identity.User{
		ID:       "user-1",
		Email:    "jane@example.com",
		Role:     principal.RoleStudent,
		IsActive: true,
	}))
	svc := identity.NewService(repo, time.Second)

	user, err := svc.Lookup(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", user.Email)

	_, err = svc.Lookup(context.Background(), "missing")
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func TestLookupHonoursCancellation(t *testing.T) {
	repo := &slowRepo{MemoryRepository: identity.NewMemoryRepository(), delay: 500 * time.Millisecond}
	svc := identity.NewService(repo, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Lookup(ctx, "user-1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLookupCollapsesConcurrentCalls(t *testing.T) {
	repo := &slowRepo{MemoryRepository: identity.NewMemoryRepository(), delay: 50 * time.Millisecond}
	require.NoError(t, repo.Create(context.Background(), &identity.User{
		ID: "user-1", Email: "jane@example.com", Role: principal.RoleStudent, IsActive: true,
	}))
	svc := identity.NewService(repo, time.Second)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Lookup(context.Background(), "user-1")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Less(t, repo.Calls(), 8)
}

type slowRepo struct {
	*identity.MemoryRepository
	delay time.Duration
	mu    sync.Mutex
	calls int
}

func (r *slowRepo) FindByID(ctx context.Context, id string) (*identity.User, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.delay):
	}
	return r.MemoryRepository.FindByID(ctx, id)
}

func (r *slowRepo) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
