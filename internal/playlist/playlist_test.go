package playlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
)

func sampleGrid() *grid.Grid {
	p := grid.NewPlanner(nil)
	g, err := p.Plan("vid", grid.MediaMeta{DurationSeconds: 30, VideoFPS: 25}, 6.0)
	if err != nil {
		panic(err)
	}
	return g
}

func TestRenderTagOrder(t *testing.T) {
	g := sampleGrid()
	text := Render(g, Options{IsVideo: true, VideoRange: "PQ"})

	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.True(t, len(lines) > 5)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-VERSION:7", lines[1])
	assert.Equal(t, "#EXT-X-VIDEO-RANGE:PQ", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "#EXT-X-TARGETDURATION:"))
	assert.Equal(t, "#EXT-X-MEDIA-SEQUENCE:0", lines[4])
	assert.Equal(t, "#EXT-X-PLAYLIST-TYPE:VOD", lines[5])
	assert.Equal(t, "#EXT-X-ENDLIST", lines[len(lines)-1])
}

func TestRenderAudioOmitsVideoRange(t *testing.T) {
	g := sampleGrid()
	text := Render(g, Options{IsVideo: false})
	assert.NotContains(t, text, "VIDEO-RANGE")
}

func TestRenderSegmentExtensionAndQueryParams(t *testing.T) {
	g := sampleGrid()
	text := Render(g, Options{IsVideo: true, FMP4: true})
	assert.Contains(t, text, "000.m4s?runtimeTicks=0&actualSegmentLengthTicks=")

	text = Render(g, Options{IsVideo: true, FMP4: false})
	assert.Contains(t, text, "000.ts?runtimeTicks=0&actualSegmentLengthTicks=")
}

func TestEnsureWritesOnceThenRemembers(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(nil)
	g := sampleGrid()

	require.NoError(t, b.Ensure("vid", "1080p", g, dir, Options{IsVideo: true}))
	path := filepath.Join(dir, "playlist.m3u8")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))
	require.NoError(t, b.Ensure("vid", "1080p", g, dir, Options{IsVideo: true}))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tampered", string(after))
	assert.NotEqual(t, string(data), "tampered")
}

func TestForgetAllowsRewrite(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(nil)
	g := sampleGrid()

	require.NoError(t, b.Ensure("vid", "1080p", g, dir, Options{IsVideo: true}))
	b.Forget("vid", "1080p")

	path := filepath.Join(dir, "playlist.m3u8")
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))
	require.NoError(t, b.Ensure("vid", "1080p", g, dir, Options{IsVideo: true}))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, "tampered", string(after))
}
