package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseRepo_AcquireExclusive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLeaseRepo(db)
	ctx := context.Background()

	ok, err := repo.Acquire(ctx, "dispatch", "node-a", time.Minute, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Acquire(ctx, "dispatch", "node-b", time.Minute, testNow.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "lease held by another node must not be granted")

	ok, err = repo.Acquire(ctx, "dispatch", "node-a", time.Minute, testNow.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "holder may renew")
}

func TestLeaseRepo_ExpiredLeaseIsTakenOver(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLeaseRepo(db)
	ctx := context.Background()

	ok, err := repo.Acquire(ctx, "dispatch", "node-a", time.Minute, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Acquire(ctx, "dispatch", "node-b", time.Minute, testNow.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseRepo_Release(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLeaseRepo(db)
	ctx := context.Background()

	ok, err := repo.Acquire(ctx, "dispatch", "node-a", time.Hour, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.Release(ctx, "dispatch", "node-b"))
	ok, err = repo.Acquire(ctx, "dispatch", "node-b", time.Hour, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-holder is ignored")

	require.NoError(t, repo.Release(ctx, "dispatch", "node-a"))
	ok, err = repo.Acquire(ctx, "dispatch", "node-b", time.Hour, testNow)
	require.NoError(t, err)
	assert.True(t, ok)
}
