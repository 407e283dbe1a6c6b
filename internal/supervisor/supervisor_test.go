package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"
	"github.com/Apezdr/hls-prototype-sub001/internal/grid"
	"github.com/Apezdr/hls-prototype-sub001/internal/hwpool"
	"github.com/Apezdr/hls-prototype-sub001/internal/playlist"
	"github.com/Apezdr/hls-prototype-sub001/internal/session"
	"github.com/Apezdr/hls-prototype-sub001/internal/statushub"
	"github.com/Apezdr/hls-prototype-sub001/internal/viewer"
)

type fakeProber struct {
	meta grid.MediaMeta
	err  error
}

func (f fakeProber) Probe(ctx context.Context, sourcePath string) (grid.MediaMeta, error) {
	return f.meta, f.err
}

type fakeAnalytics struct {
	mu       sync.Mutex
	starts   []string
	ends     []uint
	nextID   uint
}

func (f *fakeAnalytics) RecordStart(videoID, label string) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.starts = append(f.starts, videoID+"/"+label)
	return f.nextID, nil
}

func (f *fakeAnalytics) RecordEnd(id uint, segmentsServed int, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, id)
	return nil
}

func (f *fakeAnalytics) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeAnalytics) endCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ends)
}

type fakeStatusHub struct {
	mu     sync.Mutex
	events []statushub.Event
}

func (f *fakeStatusHub) Publish(ev statushub.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeStatusHub) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

// writeFakeFFmpeg writes a script that locates the -hls_segment_filename
// pattern in its own argv, materializes "000.ts" alongside it, then
// sleeps so the child stays alive for Stop/seek assertions.
func writeFakeFFmpeg(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-ffmpeg.sh")
	script := `#!/bin/sh
pattern=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-hls_segment_filename" ]; then
    pattern="$arg"
  fi
  prev="$arg"
done
d=$(dirname "$pattern")
echo segment-bytes > "$d/000.ts"
sleep 5
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestSupervisor(t *testing.T, ffmpegPath string) (*Supervisor, string) {
	t.Helper()
	sup, base, _ := newTestSupervisorWithAnalytics(t, ffmpegPath, nil)
	return sup, base
}

func newTestSupervisorWithAnalytics(t *testing.T, ffmpegPath string, rec analyticsRecorder) (*Supervisor, string, *fakeAnalytics) {
	t.Helper()
	sup, base, fa, _ := newTestSupervisorWithDeps(t, ffmpegPath, rec, nil)
	return sup, base, fa
}

func newTestSupervisorWithStatusHub(t *testing.T, ffmpegPath string, hub statusPublisher) (*Supervisor, string) {
	t.Helper()
	sup, base, _, _ := newTestSupervisorWithDeps(t, ffmpegPath, nil, hub)
	return sup, base
}

func newTestSupervisorWithDeps(t *testing.T, ffmpegPath string, rec analyticsRecorder, hub statusPublisher) (*Supervisor, string, *fakeAnalytics, *fakeStatusHub) {
	t.Helper()
	base := t.TempDir()
	sup := New(Deps{
		GridPlanner:            grid.NewPlanner(nil),
		PlaylistBuilder:        playlist.NewBuilder(nil),
		Viewer:                 viewer.NewTracker(),
		HWPool:                 hwpool.New(0),
		Prober:                 fakeProber{meta: grid.MediaMeta{DurationSeconds: 60, VideoFPS: 25}},
		ArgBuilder:             ffmpegproc.ArgBuilder{},
		FFmpegPath:             ffmpegPath,
		TargetSegmentSeconds:   6.0,
		BaseOutputDir:          base,
		PauseThreshold:         60 * time.Second,
		ViewerInactivity:       180 * time.Second,
		Analytics:              rec,
		StatusHub:              hub,
	})
	fa, _ := rec.(*fakeAnalytics)
	fh, _ := hub.(*fakeStatusHub)
	return sup, base, fa, fh
}

func testReq(videoID, label string) VariantRequest {
	return VariantRequest{
		VideoID:    videoID,
		Label:      label,
		SourcePath: "/src/movie.mkv",
		Variant:    ffmpegproc.Variant{Label: label, Kind: ffmpegproc.KindVideo, VideoCodec: "h264"},
	}
}

func TestEnsureVariantPlaylistWritesOnceAndReturnsPath(t *testing.T) {
	sup, base := newTestSupervisor(t, "true")
	req := testReq("movie42", "720p")

	path1, err := sup.EnsureVariantPlaylist(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "movie42", "720p", "playlist.m3u8"), path1)
	assert.FileExists(t, path1)

	path2, err := sup.EnsureVariantPlaylist(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, path1, path2)
}

func TestEnsureSegmentColdStartReturnsStablePath(t *testing.T) {
	dir := t.TempDir()
	fake := writeFakeFFmpeg(t, dir)
	sup, _ := newTestSupervisor(t, fake)
	req := testReq("movie42", "720p")

	path, err := sup.EnsureSegment(context.Background(), req, 0)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, path, "000.ts")
}

func TestEnsureSegmentReusesSessionForSequentialRequests(t *testing.T) {
	dir := t.TempDir()
	fake := writeFakeFFmpeg(t, dir)
	sup, _ := newTestSupervisor(t, fake)
	req := testReq("movie42", "720p")

	path1, err := sup.EnsureSegment(context.Background(), req, 0)
	require.NoError(t, err)

	sup.tableMu.Lock()
	sessCountBefore := len(sup.sessions)
	sup.tableMu.Unlock()
	require.Equal(t, 1, sessCountBefore)

	path2, err := sup.EnsureSegment(context.Background(), req, 0)
	require.NoError(t, err)
	assert.Equal(t, path1, path2)

	sup.tableMu.Lock()
	sessCountAfter := len(sup.sessions)
	sup.tableMu.Unlock()
	assert.Equal(t, 1, sessCountAfter)
}

func TestEnsureSegmentOutOfRangeReportsNotFound(t *testing.T) {
	sup, _ := newTestSupervisor(t, "true")
	req := testReq("movie42", "720p")

	_, err := sup.EnsureSegment(context.Background(), req, 999999)
	require.Error(t, err)
}

func TestEnsureSegmentForwardSeekStopsOldSessionAndStartsNew(t *testing.T) {
	dir := t.TempDir()
	fake := writeFakeFFmpeg(t, dir)
	sup, _ := newTestSupervisor(t, fake)
	req := testReq("movie42", "720p")

	_, err := sup.EnsureSegment(context.Background(), req, 0)
	require.NoError(t, err)

	key := keyOf("movie42", "720p")
	sup.tableMu.Lock()
	firstSess := sup.sessions[key]
	sup.tableMu.Unlock()
	require.NotNil(t, firstSess)

	// No progress has been reported, so segment 50 lies far beyond
	// latestSegment plus the seek-ahead tolerance: a forward seek.
	_, _ = sup.EnsureSegment(context.Background(), req, 50)

	sup.tableMu.Lock()
	secondSess := sup.sessions[key]
	sup.tableMu.Unlock()
	require.NotNil(t, secondSess)
	assert.NotSame(t, firstSess, secondSess)
}

func TestCanonicalLabelSwapsCaseInsensitiveMatch(t *testing.T) {
	sup, _ := newTestSupervisor(t, "true")
	req := testReq("movie42", "1080p")
	_, err := sup.EnsureVariantPlaylist(context.Background(), req)
	require.NoError(t, err)

	got := sup.canonicalLabel("movie42", "1080P")
	assert.Equal(t, "1080p", got)
}

func TestPauseInactivePausesStaleSessionsOnly(t *testing.T) {
	dir := t.TempDir()
	fake := writeFakeFFmpeg(t, dir)
	sup, _ := newTestSupervisor(t, fake)
	req := testReq("movie42", "720p")

	_, err := sup.EnsureSegment(context.Background(), req, 0)
	require.NoError(t, err)

	sup.PauseInactive(time.Now().Add(sup.deps.PauseThreshold + time.Second))

	key := keyOf("movie42", "720p")
	sup.tableMu.Lock()
	sess := sup.sessions[key]
	sup.tableMu.Unlock()
	require.NotNil(t, sess)

	require.Eventually(t, func() bool {
		return sess.State() == session.Paused
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnsureSegmentRecordsAnalyticsStartAndSeekRestartRecordsEnd(t *testing.T) {
	dir := t.TempDir()
	fake := writeFakeFFmpeg(t, dir)
	rec := &fakeAnalytics{}
	sup, _, _ := newTestSupervisorWithAnalytics(t, fake, rec)
	req := testReq("movie42", "720p")

	_, err := sup.EnsureSegment(context.Background(), req, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.startCount())
	assert.Equal(t, 0, rec.endCount())

	_, _ = sup.EnsureSegment(context.Background(), req, 50)
	assert.Equal(t, 2, rec.startCount())
	assert.Equal(t, 1, rec.endCount())
}

func TestStopSessionRecordsAnalyticsEnd(t *testing.T) {
	dir := t.TempDir()
	fake := writeFakeFFmpeg(t, dir)
	rec := &fakeAnalytics{}
	sup, _, _ := newTestSupervisorWithAnalytics(t, fake, rec)
	req := testReq("movie42", "720p")

	_, err := sup.EnsureSegment(context.Background(), req, 0)
	require.NoError(t, err)

	sup.StopSession("movie42", "720p")
	assert.Equal(t, 1, rec.endCount())
}

func TestEnsureSegmentPublishesStartedAndSeekRestartPublishesStoppedThenStarted(t *testing.T) {
	dir := t.TempDir()
	fake := writeFakeFFmpeg(t, dir)
	hub := &fakeStatusHub{}
	sup, _ := newTestSupervisorWithStatusHub(t, fake, hub)
	req := testReq("movie42", "720p")

	_, err := sup.EnsureSegment(context.Background(), req, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"started"}, hub.types())

	_, _ = sup.EnsureSegment(context.Background(), req, 50)
	assert.Equal(t, []string{"started", "stopped", "started"}, hub.types())
}

func TestStopSessionPublishesStopped(t *testing.T) {
	dir := t.TempDir()
	fake := writeFakeFFmpeg(t, dir)
	hub := &fakeStatusHub{}
	sup, _ := newTestSupervisorWithStatusHub(t, fake, hub)
	req := testReq("movie42", "720p")

	_, err := sup.EnsureSegment(context.Background(), req, 0)
	require.NoError(t, err)

	sup.StopSession("movie42", "720p")
	assert.Equal(t, []string{"started", "stopped"}, hub.types())
}

func TestEnsureSegmentExplicitWritesOneShotFile(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-explicit.sh")
	explicitScript := "#!/bin/sh\nlast=\"\"\nfor arg in \"$@\"; do last=\"$arg\"; done\necho bytes > \"$last\"\n"
	require.NoError(t, os.WriteFile(script, []byte(explicitScript), 0o755))
	sup, _ := newTestSupervisor(t, script)
	req := testReq("movie42", "720p")

	path, err := sup.EnsureSegmentExplicit(context.Background(), req, ExplicitOffset{RuntimeTicks: 10_000_000, ActualSegmentLengthTicks: 60_000_000})
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, filepath.Base(path), fmt.Sprintf("explicit-%d", int64(10_000_000)))
}
