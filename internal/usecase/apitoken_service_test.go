package usecase

import (
	"context"
	"sync"
	"testing"

	"challenge_server/internal/domain"
)

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]bool
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]bool)}
}

func (r *fakeTokenRepo) Add(_ context.Context, token domain.APIToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.TokenID] = token.Enabled
	return nil
}

func (r *fakeTokenRepo) SetEnabled(_ context.Context, tokenID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[tokenID]; !ok {
		return domain.ErrChallengeNotFound
	}
	r.tokens[tokenID] = enabled
	return nil
}

func (r *fakeTokenRepo) Exists(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[tokenID]
	return ok, nil
}

func (r *fakeTokenRepo) Enabled(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[tokenID], nil
}

func TestAPITokenLifecycle(t *testing.T) {
	repo := newFakeTokenRepo()
	svc, err := NewAPITokenService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	if err := svc.Add(ctx, "tok-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.Add(ctx, "tok-1"); err == nil {
		t.Fatalf("duplicate token must be rejected")
	}

	ok, err := svc.Validate(ctx, "tok-1")
	if err != nil || !ok {
		t.Fatalf("fresh token must validate: %v %v", ok, err)
	}

	if err := svc.SetEnabled(ctx, "tok-1", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if ok, _ := svc.Validate(ctx, "tok-1"); ok {
		t.Fatalf("disabled token must not validate")
	}

	if ok, _ := svc.Validate(ctx, ""); ok {
		t.Fatalf("empty token must not validate")
	}
	if ok, _ := svc.Validate(ctx, "unknown"); ok {
		t.Fatalf("unknown token must not validate")
	}
}
