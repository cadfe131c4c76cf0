// Package s3 stores workflows and guests as JSON objects in an S3
// compatible bucket, one object per record:
//
//	<prefix>/workflows/<guestId>.json
//	<prefix>/guests/<guestId>.json
package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	s3client "github.com/imamik/gsclone/internal/platform/s3"
	"github.com/imamik/gsclone/internal/store"
	"github.com/imamik/gsclone/internal/workflow"
)

// readConcurrency bounds parallel object reads during a listing.
const readConcurrency = 8

// ObjectClient is the subset of the S3 client the store needs.
type ObjectClient interface {
	PutObject(ctx context.Context, key string, data []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Store is an object-storage backed store.Store.
type Store struct {
	client ObjectClient
	prefix string
}

// New returns a store that keeps its objects under prefix.
func New(client ObjectClient, prefix string) *Store {
	return &Store{client: client, prefix: strings.Trim(prefix, "/")}
}

func (s *Store) key(kind string, guestID int) string {
	return path.Join(s.prefix, kind, strconv.Itoa(guestID)+".json")
}

func (s *Store) dir(kind string) string {
	return path.Join(s.prefix, kind) + "/"
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.client.PutObject(ctx, key, data)
}

func (s *Store) get(ctx context.Context, key string, v any) error {
	data, err := s.client.GetObject(ctx, key)
	if errors.Is(err, s3client.ErrObjectNotFound) {
		return fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	return nil
}

// list loads every object below dir. Objects deleted between the listing
// and the read are skipped.
func list[T any](ctx context.Context, s *Store, kind string) ([]*T, error) {
	keys, err := s.client.ListObjects(ctx, s.dir(kind))
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make([]*T, 0, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		g.Go(func() error {
			v := new(T)
			if err := s.get(gctx, key, v); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			}
			mu.Lock()
			out = append(out, v)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	return s.put(ctx, s.key("workflows", w.GuestID), w)
}

func (s *Store) GetWorkflow(ctx context.Context, guestID int) (*workflow.Workflow, error) {
	var w workflow.Workflow
	if err := s.get(ctx, s.key("workflows", guestID), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	ws, err := list[workflow.Workflow](ctx, s, "workflows")
	if err != nil {
		return nil, err
	}
	store.SortWorkflows(ws)
	return ws, nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, guestID int) error {
	return s.client.DeleteObject(ctx, s.key("workflows", guestID))
}

func (s *Store) SaveGuest(ctx context.Context, g *workflow.ManagedGuest) error {
	return s.put(ctx, s.key("guests", g.GuestID), g)
}

func (s *Store) GetGuest(ctx context.Context, guestID int) (*workflow.ManagedGuest, error) {
	var g workflow.ManagedGuest
	if err := s.get(ctx, s.key("guests", guestID), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) ListGuests(ctx context.Context, ownerID string) ([]*workflow.ManagedGuest, error) {
	all, err := list[workflow.ManagedGuest](ctx, s, "guests")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, g := range all {
		if ownerID == "" || g.OwnerID == ownerID {
			out = append(out, g)
		}
	}
	store.SortGuests(out)
	return out, nil
}

func (s *Store) DeleteGuest(ctx context.Context, guestID int) error {
	return s.client.DeleteObject(ctx, s.key("guests", guestID))
}

var _ store.Store = (*Store)(nil)
