// Package store persists provisioning workflows and managed guests.
//
// Two backends implement Store: file (a flock-protected JSON document on
// local disk) and s3 (one object per record in a bucket). Memory is an
// in-process implementation for tests and dry runs.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/imamik/gsclone/internal/workflow"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// WorkflowStore keeps one workflow per guest.
type WorkflowStore interface {
	// SaveWorkflow inserts or replaces the workflow of w.GuestID.
	SaveWorkflow(ctx context.Context, w *workflow.Workflow) error
	GetWorkflow(ctx context.Context, guestID int) (*workflow.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error)
	DeleteWorkflow(ctx context.Context, guestID int) error
}

// GuestStore keeps managed guests.
type GuestStore interface {
	// SaveGuest inserts or replaces the guest of g.GuestID.
	SaveGuest(ctx context.Context, g *workflow.ManagedGuest) error
	GetGuest(ctx context.Context, guestID int) (*workflow.ManagedGuest, error)
	// ListGuests returns the guests of ownerID, or all guests when ownerID
	// is empty.
	ListGuests(ctx context.Context, ownerID string) ([]*workflow.ManagedGuest, error)
	DeleteGuest(ctx context.Context, guestID int) error
}

// Store combines both record types.
type Store interface {
	WorkflowStore
	GuestStore
}

// SortWorkflows orders by guest id.
func SortWorkflows(ws []*workflow.Workflow) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].GuestID < ws[j].GuestID })
}

// SortGuests orders by guest id.
func SortGuests(gs []*workflow.ManagedGuest) {
	sort.Slice(gs, func(i, j int) bool { return gs[i].GuestID < gs[j].GuestID })
}
