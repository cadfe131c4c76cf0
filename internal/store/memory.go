package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/imamik/gsclone/internal/workflow"
)

// Memory is a Store held in process memory. Records are copied on the way
// in and out.
type Memory struct {
	mu        sync.RWMutex
	workflows map[int]*workflow.Workflow
	guests    map[int]*workflow.ManagedGuest
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		workflows: make(map[int]*workflow.Workflow),
		guests:    make(map[int]*workflow.ManagedGuest),
	}
}

func (m *Memory) SaveWorkflow(_ context.Context, w *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.GuestID] = w.Copy()
	return nil
}

func (m *Memory) GetWorkflow(_ context.Context, guestID int) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workflows[guestID]
	if !ok {
		return nil, fmt.Errorf("workflow %d: %w", guestID, ErrNotFound)
	}
	return w.Copy(), nil
}

func (m *Memory) ListWorkflows(_ context.Context) ([]*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*workflow.Workflow, 0, len(m.workflows))
	for _, w := range m.workflows {
		out = append(out, w.Copy())
	}
	SortWorkflows(out)
	return out, nil
}

func (m *Memory) DeleteWorkflow(_ context.Context, guestID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, guestID)
	return nil
}

func (m *Memory) SaveGuest(_ context.Context, g *workflow.ManagedGuest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guests[g.GuestID] = g.Copy()
	return nil
}

func (m *Memory) GetGuest(_ context.Context, guestID int) (*workflow.ManagedGuest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guests[guestID]
	if !ok {
		return nil, fmt.Errorf("guest %d: %w", guestID, ErrNotFound)
	}
	return g.Copy(), nil
}

func (m *Memory) ListGuests(_ context.Context, ownerID string) ([]*workflow.ManagedGuest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*workflow.ManagedGuest, 0, len(m.guests))
	for _, g := range m.guests {
		if ownerID == "" || g.OwnerID == ownerID {
			out = append(out, g.Copy())
		}
	}
	SortGuests(out)
	return out, nil
}

func (m *Memory) DeleteGuest(_ context.Context, guestID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.guests, guestID)
	return nil
}

var _ Store = (*Memory)(nil)
