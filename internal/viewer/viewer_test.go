package viewer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateThenGetRoundTrips(t *testing.T) {
	tr := NewTracker()
	tr.Update("vid", "1080p", 4)

	v, ok := tr.Get("vid", "1080p")
	require.True(t, ok)
	assert.Equal(t, uint32(4), v.LastRequestedSegment)
	assert.Greater(t, v.LastAccessAtMs, int64(0))
}

func TestGetMissingReportsNotOK(t *testing.T) {
	tr := NewTracker()
	_, ok := tr.Get("vid", "1080p")
	assert.False(t, ok)
}

func TestUpdateOverwritesPreviousSegment(t *testing.T) {
	tr := NewTracker()
	tr.Update("vid", "1080p", 4)
	tr.Update("vid", "1080p", 9)

	v, ok := tr.Get("vid", "1080p")
	require.True(t, ok)
	assert.Equal(t, uint32(9), v.LastRequestedSegment)
}

func TestRemoveDropsEntry(t *testing.T) {
	tr := NewTracker()
	tr.Update("vid", "1080p", 4)
	tr.Remove("vid", "1080p")

	_, ok := tr.Get("vid", "1080p")
	assert.False(t, ok)
}

func TestSnapshotListsAllEntriesWithSplitKeys(t *testing.T) {
	tr := NewTracker()
	tr.Update("vidA", "1080p", 1)
	tr.Update("vidB", "audio-eng", 2)

	snap := tr.Snapshot()
	require.Len(t, snap, 2)

	found := map[string]string{}
	for _, e := range snap {
		found[e.VideoID] = e.Label
	}
	assert.Equal(t, "1080p", found["vidA"])
	assert.Equal(t, "audio-eng", found["vidB"])
}

func TestHasSkippedAheadBoundary(t *testing.T) {
	v := Viewer{LastRequestedSegment: 10}
	assert.False(t, hasSkippedAhead(v, 13))
	assert.True(t, hasSkippedAhead(v, 14))
}

func TestHasSkippedAheadIgnoresBackwardSeeks(t *testing.T) {
	v := Viewer{LastRequestedSegment: 10}
	assert.False(t, hasSkippedAhead(v, 2))
}
