package services

import (
	"context"
	"sync"
	"time"
)

// Shared test doubles for the service tests. The registry and outbox fakes
// live in their packages (the in-memory backends); only the broker, key
// service and workflow trigger need local stand-ins.

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu         sync.Mutex
	registered []string
	unstaged   []string
	served     []string
	deleted    []string
	failWith   error
}

func (p *capturePublisher) FileRegistered(_ context.Context, objectID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.registered = append(p.registered, objectID)
	return nil
}

func (p *capturePublisher) UnstagedDownloadRequested(_ context.Context, objectID string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.unstaged = append(p.unstaged, objectID)
	return nil
}

func (p *capturePublisher) DownloadServed(_ context.Context, objectID string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.served = append(p.served, objectID)
	return nil
}

func (p *capturePublisher) FileDeleted(_ context.Context, objectID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.deleted = append(p.deleted, objectID)
	return nil
}

func (p *capturePublisher) counts() (registered, unstaged, served int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.registered), len(p.unstaged), len(p.served)
}

func (p *capturePublisher) deletedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.deleted)
}

type fakeEnvelopes struct {
	envelope []byte
	err      error
	calls    int
}

func (f *fakeEnvelopes) GetEnvelope(_ context.Context, _, _ string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.envelope, nil
}

type fakeSecretDeleter struct {
	mu      sync.Mutex
	secrets []string
	err     error
}

func (f *fakeSecretDeleter) DeleteSecret(_ context.Context, secretID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.secrets = append(f.secrets, secretID)
	return nil
}

type fakeStagingTrigger struct {
	mu      sync.Mutex
	objects []string
}

func (f *fakeStagingTrigger) RequestStaging(_ context.Context, objectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = append(f.objects, objectID)
	return nil
}
