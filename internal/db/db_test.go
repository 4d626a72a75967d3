package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildtall-systems/ticketbot/internal/fsm"
	"github.com/buildtall-systems/ticketbot/internal/provider"
)

var target = Target{ProjectID: 85939, ScreenID: 154068, SkuID: 460112}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenJournal(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n))
	assert.Zero(t, n)
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	started := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	run, err := db.StartRun(ctx, target, started)
	require.NoError(t, err)
	assert.Equal(t, ResultRunning, run.Result)

	got, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, target, got.Target)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Nil(t, got.FinishedAt)

	finished := started.Add(3 * time.Minute)
	require.NoError(t, db.FinishRun(ctx, run.ID, ResultDone, "order 12345", finished))

	got, err = db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultDone, got.Result)
	assert.Equal(t, "order 12345", got.Detail)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(finished))

	err = db.FinishRun(ctx, run.ID, ResultAborted, "again", finished)
	assert.ErrorIs(t, err, ErrRunFinished)
}

func TestFinishRun_NotFound(t *testing.T) {
	db := openTestDB(t)

	err := db.FinishRun(context.Background(), 999, ResultDone, "", time.Now())
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = db.GetRun(context.Background(), 999)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, err := db.StartRun(ctx, target, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	runs, err := db.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Greater(t, runs[0].ID, runs[1].ID)
}

func TestRecorder_JournalsSteps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	run, err := db.StartRun(ctx, target, at)
	require.NoError(t, err)

	rec := NewRecorder(db, run.ID, nil)
	rec.Observe(ctx, fsm.Step{
		Seq: 1, Trigger: fsm.TriggerNext,
		From: fsm.StateStart, To: fsm.StateAwaitingSaleWindow,
		Rule: "always", Outcome: fsm.NoOutcome{}, At: at,
	})
	rec.Observe(ctx, fsm.Step{
		Seq: 2, Trigger: fsm.TriggerCreateOrder,
		From: fsm.StateSubmittingOrder, To: fsm.StateAwaitingInventory,
		Rule:    "inventory exhausted",
		Outcome: fsm.CodeOutcome{Response: provider.NewResponse(provider.OpCreateOrder, provider.RawSoldOut, "sold out")},
		At:      at.Add(time.Second),
	})
	rec.Observe(ctx, fsm.Step{
		Seq: 3, Trigger: fsm.TriggerQueryTicket,
		From: fsm.StateAwaitingInventory, To: fsm.StateSubmittingOrder,
		Rule: "purchasable", Outcome: fsm.FlagOutcome(true), At: at.Add(2 * time.Second),
	})

	steps, err := db.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, "next", steps[0].Trigger)
	assert.Nil(t, steps[0].RawCode)
	assert.Empty(t, steps[0].Code)

	assert.Equal(t, "submitting_order", steps[1].From)
	assert.Equal(t, "awaiting_inventory", steps[1].To)
	assert.Equal(t, "inventory_exhausted", steps[1].Code)
	require.NotNil(t, steps[1].RawCode)
	assert.Equal(t, provider.RawSoldOut, *steps[1].RawCode)
	assert.Equal(t, "sold out", steps[1].Message)

	assert.Equal(t, "true", steps[2].Code)
	assert.True(t, steps[2].CreatedAt.Equal(at.Add(2*time.Second)))
}

func TestRecorder_DuplicateSeqDoesNotPanic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	run, err := db.StartRun(ctx, target, time.Now())
	require.NoError(t, err)

	rec := NewRecorder(db, run.ID, nil)
	step := fsm.Step{Seq: 1, Trigger: fsm.TriggerNext, From: fsm.StateStart, To: fsm.StateAwaitingSaleWindow, Outcome: fsm.NoOutcome{}, At: time.Now()}
	rec.Observe(ctx, step)
	rec.Observe(ctx, step)

	steps, err := db.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}
