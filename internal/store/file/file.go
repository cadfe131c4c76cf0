// Package file stores workflows and guests in a single JSON document on
// local disk. Writes are atomic (temp file plus rename) and serialized
// across processes with flock(2).
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/imamik/gsclone/internal/store"
	"github.com/imamik/gsclone/internal/workflow"
)

const (
	dataFile   = "state.json"
	lockFile   = "state.lock"
	retryDelay = 100 * time.Millisecond
)

type document struct {
	Workflows map[int]*workflow.Workflow     `json:"workflows"`
	Guests    map[int]*workflow.ManagedGuest `json:"guests"`
}

func (d *document) init() {
	if d.Workflows == nil {
		d.Workflows = make(map[int]*workflow.Workflow)
	}
	if d.Guests == nil {
		d.Guests = make(map[int]*workflow.ManagedGuest)
	}
}

// Store is a file-backed store.Store.
type Store struct {
	dataPath string
	lock     *flock.Flock

	// mu serializes goroutines; flock only excludes other processes.
	mu sync.Mutex
}

// New opens (creating if needed) a store in dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}
	return &Store{
		dataPath: filepath.Join(dir, dataFile),
		lock:     flock.New(filepath.Join(dir, lockFile)),
	}, nil
}

// Path returns the data file location.
func (s *Store) Path() string {
	return s.dataPath
}

// with loads the document under lock and passes it to fn.
func (s *Store) with(ctx context.Context, fn func(*document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("acquire flock %s: %w", s.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire flock %s: context done", s.lock.Path())
	}
	defer func() { _ = s.lock.Unlock() }()

	var doc document
	raw, err := os.ReadFile(s.dataPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read %s: %w", s.dataPath, err)
	default:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", s.dataPath, err)
		}
	}
	doc.init()
	return fn(&doc)
}

// update is a read-modify-write; the document is persisted when fn
// returns nil.
func (s *Store) update(ctx context.Context, fn func(*document) error) error {
	return s.with(ctx, func(doc *document) error {
		if err := fn(doc); err != nil {
			return err
		}
		return atomicWriteJSON(s.dataPath, doc)
	})
}

func atomicWriteJSON(path string, v any) (err error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()
	defer tmp.Close() //nolint:errcheck

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp to target: %w", err)
	}
	return nil
}

func (s *Store) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	return s.update(ctx, func(doc *document) error {
		doc.Workflows[w.GuestID] = w.Copy()
		return nil
	})
}

func (s *Store) GetWorkflow(ctx context.Context, guestID int) (*workflow.Workflow, error) {
	var out *workflow.Workflow
	err := s.with(ctx, func(doc *document) error {
		w, ok := doc.Workflows[guestID]
		if !ok {
			return fmt.Errorf("workflow %d: %w", guestID, store.ErrNotFound)
		}
		out = w
		return nil
	})
	return out, err
}

func (s *Store) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	var out []*workflow.Workflow
	err := s.with(ctx, func(doc *document) error {
		out = make([]*workflow.Workflow, 0, len(doc.Workflows))
		for _, w := range doc.Workflows {
			out = append(out, w)
		}
		return nil
	})
	store.SortWorkflows(out)
	return out, err
}

func (s *Store) DeleteWorkflow(ctx context.Context, guestID int) error {
	return s.update(ctx, func(doc *document) error {
		delete(doc.Workflows, guestID)
		return nil
	})
}

func (s *Store) SaveGuest(ctx context.Context, g *workflow.ManagedGuest) error {
	return s.update(ctx, func(doc *document) error {
		doc.Guests[g.GuestID] = g.Copy()
		return nil
	})
}

func (s *Store) GetGuest(ctx context.Context, guestID int) (*workflow.ManagedGuest, error) {
	var out *workflow.ManagedGuest
	err := s.with(ctx, func(doc *document) error {
		g, ok := doc.Guests[guestID]
		if !ok {
			return fmt.Errorf("guest %d: %w", guestID, store.ErrNotFound)
		}
		out = g
		return nil
	})
	return out, err
}

func (s *Store) ListGuests(ctx context.Context, ownerID string) ([]*workflow.ManagedGuest, error) {
	var out []*workflow.ManagedGuest
	err := s.with(ctx, func(doc *document) error {
		out = make([]*workflow.ManagedGuest, 0, len(doc.Guests))
		for _, g := range doc.Guests {
			if ownerID == "" || g.OwnerID == ownerID {
				out = append(out, g)
			}
		}
		return nil
	})
	store.SortGuests(out)
	return out, err
}

func (s *Store) DeleteGuest(ctx context.Context, guestID int) error {
	return s.update(ctx, func(doc *document) error {
		delete(doc.Guests, guestID)
		return nil
	})
}

var _ store.Store = (*Store)(nil)
