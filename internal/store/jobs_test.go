package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStore_Lifecycle(t *testing.T) {
	t.Parallel()

	s := NewJobStore(OpenTestDB(t))
	ctx := context.Background()

	created, err := s.CreatePending(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, created.Status)

	loaded, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, loaded.Status)
	assert.Empty(t, loaded.Result)

	require.NoError(t, s.MarkFinished(ctx, "job-1", `{"agent_answer":"ok"}`))

	loaded, err = s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFinished, loaded.Status)
	assert.Equal(t, `{"agent_answer":"ok"}`, loaded.Result)
}

func TestJobStore_TerminalTransitionHappensOnce(t *testing.T) {
	t.Parallel()

	s := NewJobStore(OpenTestDB(t))
	ctx := context.Background()

	_, err := s.CreatePending(ctx, "job-2")
	require.NoError(t, err)
	require.NoError(t, s.MarkError(ctx, "job-2", "oracle unreachable"))

	err = s.MarkFinished(ctx, "job-2", `{}`)
	require.ErrorIs(t, err, ErrAlreadyTerminal)

	loaded, err := s.Get(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, JobStatusError, loaded.Status)
	assert.Equal(t, "oracle unreachable", loaded.Result)
}

func TestJobStore_NotFound(t *testing.T) {
	t.Parallel()

	s := NewJobStore(OpenTestDB(t))

	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	err = s.MarkFinished(context.Background(), "missing", `{}`)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJobStore_DuplicateID(t *testing.T) {
	t.Parallel()

	s := NewJobStore(OpenTestDB(t))
	ctx := context.Background()

	_, err := s.CreatePending(ctx, "dup")
	require.NoError(t, err)
	_, err = s.CreatePending(ctx, "dup")
	require.Error(t, err)
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.True(t, JobStatusFinished.Terminal())
	assert.True(t, JobStatusError.Terminal())
	assert.False(t, JobStatusExecuted.Terminal())
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()

	db := OpenTestDB(t)
	require.NoError(t, Migrate(db))

	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'queries'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "queries", name)
}

func TestJobStore_FailPending(t *testing.T) {
	t.Parallel()

	s := NewJobStore(OpenTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.CreatePending(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkFinished(ctx, "c", `{}`))

	n, err := s.FailPending(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	a, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, JobStatusError, a.Status)
	assert.Equal(t, "interrupted", a.Result)

	c, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFinished, c.Status)
}

func TestVersion(t *testing.T) {
	t.Parallel()

	v, err := Version(OpenTestDB(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
