package remoteapi

import (
	"context"
	"sync"
	"time"
)

// FakeClient is an in-memory remoteapi.Client for tests, matching spec
// §9's "remote API client is an interface with one implementation; swap
// for tests" design note.
type FakeClient struct {
	mu sync.Mutex

	// PushResponses, keyed by Idempotency-Key, is consulted first; when
	// absent, DefaultPushResponse is returned.
	PushResponses       map[string]PushResponse
	DefaultPushResponse PushResponse

	PushCalls []PushRequest

	PullResult PulledEntities
	PullErr    error

	Locks       map[string]LockRequest
	LockErr     error
	DeleteLocks []string
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		PushResponses:       make(map[string]PushResponse),
		DefaultPushResponse: PushResponse{StatusCode: 201},
		Locks:               make(map[string]LockRequest),
	}
}

func (f *FakeClient) Push(_ context.Context, req PushRequest) (PushResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PushCalls = append(f.PushCalls, req)
	if resp, ok := f.PushResponses[req.IdempotencyKey]; ok {
		return resp, nil
	}
	return f.DefaultPushResponse, nil
}

func (f *FakeClient) PullSince(_ context.Context, _ time.Time) (PulledEntities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PullResult, f.PullErr
}

func (f *FakeClient) PostLock(_ context.Context, req LockRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LockErr != nil {
		return f.LockErr
	}
	f.Locks[req.Entity+":"+req.EntityID] = req
	return nil
}

func (f *FakeClient) DeleteLock(_ context.Context, entity, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := entity + ":" + entityID
	delete(f.Locks, key)
	f.DeleteLocks = append(f.DeleteLocks, key)
	return nil
}
