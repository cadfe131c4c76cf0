// Package storetest holds behaviour tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/gsclone/internal/store"
	"github.com/imamik/gsclone/internal/workflow"
)

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("workflow round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		w := workflow.New(101, "u1", "srv-a", 100, t0)
		w.WorldSeed = "42"
		w.CloneTask = workflow.TaskRef{Node: "pve1", UPID: "UPID:pve1:1"}
		w.SetProgress(30)
		require.NoError(t, s.SaveWorkflow(ctx, w))

		got, err := s.GetWorkflow(ctx, 101)
		require.NoError(t, err)
		assert.Equal(t, "srv-a", got.RequestedName)
		assert.Equal(t, 30, got.ProgressPercent)
		assert.Equal(t, "UPID:pve1:1", got.CloneTask.UPID)
		assert.True(t, got.CreatedAt.Equal(t0))
	})

	t.Run("save replaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		w := workflow.New(101, "u1", "srv-a", 100, t0)
		require.NoError(t, s.SaveWorkflow(ctx, w))
		w.MarkCloned("pve1")
		require.NoError(t, w.Complete(t0.Add(time.Minute)))
		require.NoError(t, s.SaveWorkflow(ctx, w))

		got, err := s.GetWorkflow(ctx, 101)
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)

		all, err := s.ListWorkflows(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("stored copy is isolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		w := workflow.New(101, "u1", "srv-a", 100, t0)
		require.NoError(t, s.SaveWorkflow(ctx, w))
		w.RequestedName = "changed"

		got, err := s.GetWorkflow(ctx, 101)
		require.NoError(t, err)
		assert.Equal(t, "srv-a", got.RequestedName)
	})

	t.Run("missing records", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetWorkflow(ctx, 999)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetGuest(ctx, 999)
		require.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.DeleteWorkflow(ctx, 999))
		require.NoError(t, s.DeleteGuest(ctx, 999))
	})

	t.Run("list workflows sorted", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, id := range []int{105, 101, 103} {
			require.NoError(t, s.SaveWorkflow(ctx, workflow.New(id, "u1", "srv", 100, t0)))
		}
		all, err := s.ListWorkflows(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []int{101, 103, 105}, []int{all[0].GuestID, all[1].GuestID, all[2].GuestID})

		require.NoError(t, s.DeleteWorkflow(ctx, 103))
		all, err = s.ListWorkflows(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("guests by owner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		guests := []*workflow.ManagedGuest{
			{GuestID: 102, OwnerID: "u1", DisplayName: "b", CreatedAt: t0},
			{GuestID: 101, OwnerID: "u1", DisplayName: "a", CreatedAt: t0,
				RemoteAccess: &workflow.RemoteAccess{User: "mc", Inherited: true}},
			{GuestID: 201, OwnerID: "u2", DisplayName: "c", CreatedAt: t0},
		}
		for _, g := range guests {
			require.NoError(t, s.SaveGuest(ctx, g))
		}

		mine, err := s.ListGuests(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, 101, mine[0].GuestID)
		require.NotNil(t, mine[0].RemoteAccess)
		assert.Equal(t, "mc", mine[0].RemoteAccess.User)

		all, err := s.ListGuests(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		require.NoError(t, s.DeleteGuest(ctx, 101))
		_, err = s.GetGuest(ctx, 101)
		require.ErrorIs(t, err, store.ErrNotFound)

		mine, err = s.ListGuests(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, mine, 1)
	})
}
