package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerger_MuxAudio(t *testing.T) {
	calls := fakeTools(t)
	dir := t.TempDir()
	video := writeClip(t, dir, "base.mkv", "V", 30, 1920, 1080)

	res, err := newTestMerger().MuxAudio(context.Background(), video, []string{"/x/en.aac", "/x/jp.m4a"}, dir, &memSink{})
	require.NoError(t, err)
	assert.Equal(t, StrategyMux, res.Strategy)
	assert.True(t, strings.HasPrefix(filepath.Base(res.Path), "merged_audio_"))

	log := readCalls(t, calls)
	require.Len(t, log, 1)
	assert.Contains(t, log[0], "-map 0 -map 1:a -map 2:a -c copy")
}

func TestMerger_MuxSubtitles(t *testing.T) {
	calls := fakeTools(t)
	dir := t.TempDir()
	video := writeClip(t, dir, "ep1.mkv", "V", 30, 1920, 1080)

	res, err := newTestMerger().MuxSubtitles(context.Background(), video, []string{"/x/ep1.srt"}, dir, &memSink{})
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(res.Path), "ep1")

	log := readCalls(t, calls)
	require.Len(t, log, 1)
	assert.Contains(t, log[0], "-map 0 -map 1 -c copy")
}

func TestMerger_Mux_noTracks(t *testing.T) {
	m := newTestMerger()
	_, err := m.MuxAudio(context.Background(), "v.mkv", nil, t.TempDir(), &memSink{})
	assert.ErrorIs(t, err, ErrNoTracks)
	_, err = m.MuxSubtitles(context.Background(), "v.mkv", nil, t.TempDir(), &memSink{})
	assert.ErrorIs(t, err, ErrNoTracks)
}

func TestMerger_Mux_failureRemovesOutput(t *testing.T) {
	fakeTools(t, "FAKE_FAIL=mux")
	dir := t.TempDir()
	video := writeClip(t, dir, "base.mkv", "V", 30, 1920, 1080)

	_, err := newTestMerger().MuxAudio(context.Background(), video, []string{"/x/a.aac"}, dir, &memSink{})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)

	matches, _ := filepath.Glob(filepath.Join(dir, "merged_audio_*"))
	assert.Empty(t, matches)
}

func TestMerger_Thumbnail(t *testing.T) {
	calls := fakeTools(t)
	dir := t.TempDir()
	video := writeClip(t, dir, "movie.mkv", "V", 120, 1920, 1080)

	thumb, err := newTestMerger().Thumbnail(context.Background(), video)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "movie.jpg"), thumb)

	_, err = os.Stat(thumb)
	require.NoError(t, err)

	log := readCalls(t, calls)
	require.Len(t, log, 1)
	assert.Contains(t, log[0], "-ss 60.000 -vframes 1 -c:v mjpeg -f image2")
}

func TestMerger_Thumbnail_noDuration(t *testing.T) {
	fakeTools(t)
	path := filepath.Join(t.TempDir(), "x.mkv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := newTestMerger().Thumbnail(context.Background(), path)
	assert.ErrorIs(t, err, ErrNotAvailable)
}
