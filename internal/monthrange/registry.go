package monthrange

import (
	"context"
	"sync"
)

// Registry keeps one Manager per branch so staged deletions survive between requests.
type Registry struct {
	store Store
	opts  Options

	mu       sync.Mutex
	managers map[string]*Manager
}

func NewRegistry(store Store, opts Options) *Registry {
	return &Registry{store: store, opts: opts.withDefaults(), managers: map[string]*Manager{}}
}

// Branch returns the branch's manager, loading its stored range on first use.
func (r *Registry) Branch(ctx context.Context, branchID string) (*Manager, error) {
	if branchID == "" {
		return nil, ErrNoBranch
	}

	r.mu.Lock()
	m, ok := r.managers[branchID]
	r.mu.Unlock()
	if ok {
		return m, nil
	}

	m = NewManager(r.store, r.opts)
	if err := m.SetBranch(ctx, branchID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.managers[branchID]; ok {
		return existing, nil
	}
	r.managers[branchID] = m
	return m, nil
}

// Reset forgets the branch's manager, discarding any staged deletion.
func (r *Registry) Reset(branchID string) {
	r.mu.Lock()
	delete(r.managers, branchID)
	r.mu.Unlock()
}
