package triage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlemetrics/qc-service/internal/model"
	"github.com/settlemetrics/qc-service/internal/qc"
	"github.com/settlemetrics/qc-service/internal/store"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewQueue(st)
}

func submitFlag(t *testing.T, q *Queue) *model.FlagReport {
	t.Helper()
	flag, err := q.Submit(context.Background(), model.FlagReport{
		CaseID:      "case-1",
		FlagType:    model.FlagIncorrectData,
		Description: "settlement amount does not match the agreement",
		SubmittedBy: "user-1",
	})
	require.NoError(t, err)
	return flag
}

func TestQueue_Submit(t *testing.T) {
	q := newTestQueue(t)

	flag := submitFlag(t, q)
	assert.NotEmpty(t, flag.ID)
	assert.Equal(t, model.FlagPending, flag.Status)
	assert.False(t, flag.CreatedAt.IsZero())

	got, err := q.Get(context.Background(), flag.ID)
	require.NoError(t, err)
	assert.Equal(t, flag.ID, got.ID)
}

func TestQueue_Submit_Anonymous(t *testing.T) {
	q := newTestQueue(t)

	flag, err := q.Submit(context.Background(), model.FlagReport{
		CaseID:      "case-1",
		FlagType:    model.FlagOther,
		Description: "something looks off",
	})
	require.NoError(t, err)
	assert.Empty(t, flag.SubmittedBy)
}

func TestQueue_Submit_ForcesCleanInitialState(t *testing.T) {
	q := newTestQueue(t)

	// Submitter-provided status and resolution fields are ignored.
	flag, err := q.Submit(context.Background(), model.FlagReport{
		CaseID:          "case-1",
		FlagType:        model.FlagIncorrectData,
		Description:     "bad data",
		Status:          model.FlagResolved,
		ResolutionNotes: "pre-resolved",
		ResolvedBy:      "sneaky",
	})
	require.NoError(t, err)
	assert.Equal(t, model.FlagPending, flag.Status)
	assert.Empty(t, flag.ResolutionNotes)
	assert.Empty(t, flag.ResolvedBy)
	assert.Nil(t, flag.ResolvedAt)
}

func TestQueue_Submit_Validation(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Submit(ctx, model.FlagReport{FlagType: model.FlagOther, Description: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case id required")

	_, err = q.Submit(ctx, model.FlagReport{CaseID: "case-1", FlagType: model.FlagOther, Description: "   "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "description required")

	_, err = q.Submit(ctx, model.FlagReport{CaseID: "case-1", FlagType: "weird", Description: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag type")
}

func TestQueue_Get_Missing(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Get(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, qc.ErrNotFound))
}

func TestQueue_UpdateStatus_ResolveNeedsNotes(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	flag := submitFlag(t, q)

	_, err := q.UpdateStatus(ctx, flag.ID, model.FlagResolved, "triager-1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, qc.ErrMissingResolutionNotes))

	got, err := q.UpdateStatus(ctx, flag.ID, model.FlagResolved, "triager-1", "amount corrected in review")
	require.NoError(t, err)
	assert.Equal(t, model.FlagResolved, got.Status)
	assert.Equal(t, "triager-1", got.ResolvedBy)
	assert.Equal(t, "amount corrected in review", got.ResolutionNotes)
	require.NotNil(t, got.ResolvedAt)
}

func TestQueue_UpdateStatus_ReviewingOnlyFromPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	flag := submitFlag(t, q)

	got, err := q.UpdateStatus(ctx, flag.ID, model.FlagReviewing, "triager-1", "")
	require.NoError(t, err)
	assert.Equal(t, model.FlagReviewing, got.Status)

	// reviewing -> reviewing is not a transition.
	_, err = q.UpdateStatus(ctx, flag.ID, model.FlagReviewing, "triager-1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, qc.ErrInvalidTransition))
}

func TestQueue_UpdateStatus_DirectReject(t *testing.T) {
	q := newTestQueue(t)
	flag := submitFlag(t, q)

	// pending may jump straight to rejected.
	got, err := q.UpdateStatus(context.Background(), flag.ID, model.FlagRejected, "triager-1", "not reproducible")
	require.NoError(t, err)
	assert.Equal(t, model.FlagRejected, got.Status)
}

func TestQueue_UpdateStatus_TerminalIsImmutable(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	flag := submitFlag(t, q)

	_, err := q.UpdateStatus(ctx, flag.ID, model.FlagResolved, "triager-1", "fixed")
	require.NoError(t, err)

	_, err = q.UpdateStatus(ctx, flag.ID, model.FlagReviewing, "triager-1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, qc.ErrInvalidTransition))

	_, err = q.UpdateStatus(ctx, flag.ID, model.FlagRejected, "triager-2", "changed my mind")
	require.Error(t, err)
	assert.True(t, errors.Is(err, qc.ErrInvalidTransition))
}

func TestQueue_UpdateStatus_CannotReturnToPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	flag := submitFlag(t, q)

	_, err := q.UpdateStatus(ctx, flag.ID, model.FlagReviewing, "triager-1", "")
	require.NoError(t, err)

	_, err = q.UpdateStatus(ctx, flag.ID, model.FlagPending, "triager-1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, qc.ErrInvalidTransition))
}

func TestQueue_List(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	submitFlag(t, q)
	flag2 := submitFlag(t, q)
	_, err := q.UpdateStatus(ctx, flag2.ID, model.FlagResolved, "triager-1", "fixed")
	require.NoError(t, err)

	pending, err := q.List(ctx, store.FlagFilter{Status: model.FlagPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := q.List(ctx, store.FlagFilter{CaseID: "case-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
