package media

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coah80/mergebot/internal/progress"
)

type memSink struct {
	mu    sync.Mutex
	texts []string
}

func (s *memSink) ID() string { return "test-sink" }

func (s *memSink) Edit(ctx context.Context, text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return nil
}

func (s *memSink) all() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.texts, "\n---\n")
}

func newTestMerger() *Merger {
	return NewMerger(NewProber(), progress.NewThrottle(0), nil)
}

func TestMerger_Merge_tooFewInputs(t *testing.T) {
	calls := fakeTools(t)
	m := newTestMerger()

	_, err := m.Merge(context.Background(), []string{"only.mp4"}, t.TempDir(), &memSink{})
	assert.ErrorIs(t, err, ErrTooFewInputs)
	assert.Empty(t, readCalls(t, calls))
}

func TestMerger_Merge_fastPath(t *testing.T) {
	calls := fakeTools(t)
	dir := t.TempDir()
	inputs := []string{
		writeClip(t, dir, "one.mkv", "AAA", 10, 1280, 720),
		writeClip(t, dir, "it's two.mkv", "BBB", 10, 1280, 720),
		writeClip(t, dir, "three.mkv", "CCC", 10, 1280, 720),
	}
	sink := &memSink{}

	res, err := newTestMerger().Merge(context.Background(), inputs, dir, sink)
	require.NoError(t, err)

	assert.Equal(t, StrategyFast, res.Strategy)
	assert.True(t, strings.HasPrefix(filepath.Base(res.Path), "merged_"))
	assert.Equal(t, ".mkv", filepath.Ext(res.Path))

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "AAABBBCCC", string(data))

	_, err = os.Stat(filepath.Join(dir, manifestName))
	assert.True(t, os.IsNotExist(err), "manifest should be removed")

	log := readCalls(t, calls)
	require.Len(t, log, 1)
	assert.True(t, strings.HasPrefix(log[0], "concat "))
	assert.Contains(t, sink.all(), "fast mode")
}

func TestMerger_Merge_relativeInputsAreCanonicalized(t *testing.T) {
	fakeTools(t)
	dir := t.TempDir()
	writeClip(t, dir, "a.mkv", "A", 5, 640, 360)
	writeClip(t, dir, "b.mkv", "B", 5, 640, 360)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	res, err := newTestMerger().Merge(context.Background(), []string{"a.mkv", "b.mkv"}, dir, &memSink{})
	require.NoError(t, err)
	assert.Equal(t, StrategyFast, res.Strategy)
}

func TestMerger_Merge_fallbackRunsOnce(t *testing.T) {
	calls := fakeTools(t, "FAKE_FAIL=concat")
	dir := t.TempDir()
	inputs := []string{
		writeClip(t, dir, "a.mp4", "A", 10, 1920, 1080),
		writeClip(t, dir, "b.mp4", "B", 10, 1280, 720),
	}
	sink := &memSink{}

	res, err := newTestMerger().Merge(context.Background(), inputs, dir, sink)
	require.NoError(t, err)

	assert.Equal(t, StrategyFallback, res.Strategy)
	assert.True(t, strings.HasPrefix(filepath.Base(res.Path), "merged_fallback_"))

	var fallbacks, concats int
	for _, c := range readCalls(t, calls) {
		switch {
		case strings.HasPrefix(c, "fallback "):
			fallbacks++
			assert.Contains(t, c, "[0:v:0][0:a:0][1:v:0][1:a:0]concat=n=2:v=1:a=1[v][a]")
			assert.Contains(t, c, "-c:v libx264 -preset fast -crf 23 -c:a aac -b:a 192k")
			assert.Contains(t, c, "-progress pipe:1")
		case strings.HasPrefix(c, "concat "):
			concats++
		}
	}
	assert.Equal(t, 1, concats)
	assert.Equal(t, 1, fallbacks)

	_, err = os.Stat(filepath.Join(dir, manifestName))
	assert.True(t, os.IsNotExist(err), "manifest should be removed before fallback")

	text := sink.all()
	assert.Contains(t, text, "Switching to robust mode")
	assert.Contains(t, text, "25.0%")
	assert.Contains(t, text, "robust mode")
}

func TestMerger_Merge_manifestWriteFailureFallsBackOnce(t *testing.T) {
	calls := fakeTools(t)
	dir := t.TempDir()
	inputs := []string{
		writeClip(t, dir, "a.mp4", "A", 10, 1920, 1080),
		writeClip(t, dir, "b.mp4", "B", 10, 1920, 1080),
	}
	// a directory in the manifest's place makes the write fail
	require.NoError(t, os.Mkdir(filepath.Join(dir, manifestName), 0755))

	res, err := newTestMerger().Merge(context.Background(), inputs, dir, &memSink{})
	require.NoError(t, err)
	assert.Equal(t, StrategyFallback, res.Strategy)

	var fallbacks, concats int
	for _, c := range readCalls(t, calls) {
		switch {
		case strings.HasPrefix(c, "fallback "):
			fallbacks++
		case strings.HasPrefix(c, "concat "):
			concats++
		}
	}
	assert.Equal(t, 0, concats, "fast phase never starts without a manifest")
	assert.Equal(t, 1, fallbacks)

	_, err = os.Stat(filepath.Join(dir, manifestName))
	assert.True(t, os.IsNotExist(err))
}

func TestMerger_Merge_spawnFailureFallsBackOnce(t *testing.T) {
	calls := fakeTools(t)
	fake := execCommand
	missing := filepath.Join(t.TempDir(), "no-such-ffmpeg")
	var spawnFailures int
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if name == "ffmpeg" && strings.Contains(strings.Join(args, " "), "-f concat") {
			spawnFailures++
			return exec.CommandContext(ctx, missing, args...)
		}
		return fake(ctx, name, args...)
	}

	dir := t.TempDir()
	inputs := []string{
		writeClip(t, dir, "a.mp4", "A", 10, 1920, 1080),
		writeClip(t, dir, "b.mp4", "B", 10, 1920, 1080),
	}

	res, err := newTestMerger().Merge(context.Background(), inputs, dir, &memSink{})
	require.NoError(t, err)
	assert.Equal(t, StrategyFallback, res.Strategy)
	assert.Equal(t, 1, spawnFailures)

	log := readCalls(t, calls)
	require.Len(t, log, 1)
	assert.True(t, strings.HasPrefix(log[0], "fallback "))

	_, err = os.Stat(filepath.Join(dir, manifestName))
	assert.True(t, os.IsNotExist(err))
}

func TestMerger_Merge_fallbackFailureIsTerminal(t *testing.T) {
	calls := fakeTools(t, "FAKE_FAIL=concat,fallback")
	dir := t.TempDir()
	inputs := []string{
		writeClip(t, dir, "a.mp4", "A", 10, 1920, 1080),
		writeClip(t, dir, "b.mp4", "B", 10, 1280, 720),
	}

	_, err := newTestMerger().Merge(context.Background(), inputs, dir, &memSink{})
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Contains(t, exitErr.Stderr, "Non-monotonous DTS")
	assert.Len(t, readCalls(t, calls), 2)

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "merged"), "partial output %s left behind", e.Name())
	}
}

func TestMerger_Merge_fallbackNeedsDurations(t *testing.T) {
	calls := fakeTools(t, "FAKE_FAIL=concat")
	dir := t.TempDir()
	good := writeClip(t, dir, "a.mp4", "A", 10, 1920, 1080)
	bad := filepath.Join(dir, "b.mp4")
	require.NoError(t, os.WriteFile(bad, []byte("B"), 0644))

	_, err := newTestMerger().Merge(context.Background(), []string{good, bad}, dir, &memSink{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.Contains(t, err.Error(), "b.mp4")

	for _, c := range readCalls(t, calls) {
		assert.False(t, strings.HasPrefix(c, "fallback "), "re-encode must not start without durations")
	}
}

func TestMerger_Merge_emptyOutputTriggersFallback(t *testing.T) {
	fakeTools(t, "FAKE_EMPTY_OUTPUT=1")
	dir := t.TempDir()
	inputs := []string{
		writeClip(t, dir, "a.mp4", "", 10, 1920, 1080),
		writeClip(t, dir, "b.mp4", "", 10, 1920, 1080),
	}

	_, err := newTestMerger().Merge(context.Background(), inputs, dir, &memSink{})
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestMerger_Merge_cancelledSkipsFallback(t *testing.T) {
	calls := fakeTools(t, "FAKE_HANG=concat")
	dir := t.TempDir()
	inputs := []string{
		writeClip(t, dir, "a.mp4", "A", 10, 1920, 1080),
		writeClip(t, dir, "b.mp4", "B", 10, 1920, 1080),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := newTestMerger().Merge(ctx, inputs, dir, &memSink{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	for _, c := range readCalls(t, calls) {
		assert.False(t, strings.HasPrefix(c, "fallback "))
	}
	_, err = os.Stat(filepath.Join(dir, manifestName))
	assert.True(t, os.IsNotExist(err))
}

func TestParseProgressLine(t *testing.T) {
	cases := []struct {
		line string
		want int64
		ok   bool
	}{
		{"out_time_ms=1500000", 1500000, true},
		{"out_time_us=42", 42, true},
		{"  out_time_us=7  ", 7, true},
		{"out_time_ms=N/A", 0, false},
		{"out_time_ms=", 0, false},
		{"out_time_ms=-5", 0, false},
		{"out_time_ms=+5", 0, false},
		{"out_time=00:00:01.500000", 0, false},
		{"progress=continue", 0, false},
		{"garbage", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseProgressLine(c.line)
		assert.Equal(t, c.ok, ok, c.line)
		assert.Equal(t, c.want, got, c.line)
	}
}

func TestParseProgressLine_malformedDoesNotCorruptNext(t *testing.T) {
	var last int64
	for _, line := range []string{"out_time_us=1000000", "out_time_ms=N/A", "out_time_us=2000000"} {
		if v, ok := ParseProgressLine(line); ok {
			last = v
		}
	}
	assert.Equal(t, int64(2000000), last)
}

func TestWriteManifest_escapesQuotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, writeManifest(path, []string{"/tmp/a b.mp4", "/tmp/it's.mp4"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file '/tmp/a b.mp4'\nfile '/tmp/it'\\''s.mp4'\n", string(data))
}
