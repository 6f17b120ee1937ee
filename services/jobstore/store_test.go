package jobstore

import (
	"context"
	"testing"
	"time"

	"atr-meanrev-backtest/services/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := &Job{
		ID:        NewID(),
		Status:    StatusCompleted,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Result:    &engine.Result{Symbol: "XAUUSD", Bars: 100},
	}
	require.NoError(t, s.Put(ctx, job))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 100, got.Result.Bars)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
}

func TestStore_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), NewID())
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), NewID()), ErrJobNotFound)
}

func TestStore_RejectsBadID(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.Put(context.Background(), &Job{ID: "../etc"}))
}

func TestStore_ListAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		j := &Job{ID: NewID(), Status: StatusCompleted, CreatedAt: t0.Add(time.Duration(i) * time.Hour), Result: &engine.Result{Bars: i}}
		require.NoError(t, s.Put(ctx, j))
		ids = append(ids, j.ID)
	}

	jobs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Nil(t, jobs[0].Result)

	require.NoError(t, s.Delete(ctx, ids[0]))
	jobs, err = s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	id := NewID()
	require.NoError(t, s.Put(context.Background(), &Job{ID: id, Status: StatusFailed, Error: "bad csv"}))
	require.NoError(t, s.Close())

	s, err = Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "bad csv", got.Error)
}
