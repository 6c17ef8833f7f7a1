package core

import (
	"context"
	"sort"
	"sync"

	"escalarm/internal/types"
)

// mockLogger implements types.Logger for testing purposes.
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockLogger) add(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, s)
}

func (m *mockLogger) Info(msg string, args ...any)  { m.add("info:" + msg) }
func (m *mockLogger) Error(msg string, args ...any) { m.add("error:" + msg) }
func (m *mockLogger) Warn(msg string, args ...any)  { m.add("warn:" + msg) }
func (m *mockLogger) With(args ...any) types.Logger  { return m }

// fakeBackend is an in-memory Backend with injectable failures.
type fakeBackend struct {
	mu         sync.Mutex
	authorized bool
	pending    map[string]Request
	added      []Request
	removed    []string

	authErr    error
	addErr     error
	pendingErr error
	removeErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{authorized: true, pending: make(map[string]Request)}
}

func (f *fakeBackend) Authorized(context.Context) (bool, error) {
	return f.authorized, f.authErr
}

func (f *fakeBackend) Add(_ context.Context, req Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.pending[req.Identifier] = req
	f.added = append(f.added, req)
	return nil
}

func (f *fakeBackend) Pending(context.Context) ([]Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	out := make([]Request, 0, len(f.pending))
	for _, r := range f.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (f *fakeBackend) Remove(_ context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	for _, id := range ids {
		delete(f.pending, id)
		f.removed = append(f.removed, id)
	}
	return nil
}

func (f *fakeBackend) RemoveAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.pending = make(map[string]Request)
	return nil
}

func (f *fakeBackend) identifiers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.pending))
	for id := range f.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
