package sessionlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouchCreatesAndAges(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Touch(dir))

	age, ok := Age(dir)
	require.True(t, ok)
	assert.Less(t, age, time.Second)
}

func TestAgeMissingReportsNotOK(t *testing.T) {
	dir := t.TempDir()
	_, ok := Age(dir)
	assert.False(t, ok)
}

func TestTouchRefreshesExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Touch(dir))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, Touch(dir))

	age, ok := Age(dir)
	require.True(t, ok)
	assert.Less(t, age, 100*time.Millisecond)
}

func TestRemoveThenAgeReportsAbsent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Touch(dir))
	require.NoError(t, Remove(dir))

	_, ok := Age(dir)
	assert.False(t, ok)
}

func TestRemoveMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, Remove(dir))
}
