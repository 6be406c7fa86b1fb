package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coah80/mergebot/internal/media"
	"github.com/coah80/mergebot/internal/progress"
	"github.com/coah80/mergebot/internal/session"
	"github.com/coah80/mergebot/internal/transfer"
)

type nopSink struct{}

func (nopSink) ID() string                             { return "pipeline-test" }
func (nopSink) Edit(ctx context.Context, s string) error { return nil }

// fakeMerger concatenates file contents instead of running ffmpeg.
type fakeMerger struct {
	mu    sync.Mutex
	calls []string
}

func (m *fakeMerger) record(call string, files ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	m.calls = append(m.calls, call+" "+strings.Join(names, ","))
}

func (m *fakeMerger) join(out string, files ...string) (*media.Result, error) {
	var data []byte
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		data = append(data, b...)
	}
	return &media.Result{Path: out}, os.WriteFile(out, data, 0644)
}

func (m *fakeMerger) Merge(ctx context.Context, inputs []string, workDir string, sink progress.Sink) (*media.Result, error) {
	m.record("merge", inputs...)
	res, err := m.join(filepath.Join(workDir, "merged_1.mkv"), inputs...)
	if res != nil {
		res.Strategy = media.StrategyFast
	}
	return res, err
}

func (m *fakeMerger) MuxAudio(ctx context.Context, video string, audios []string, workDir string, sink progress.Sink) (*media.Result, error) {
	m.record("audio", append([]string{video}, audios...)...)
	res, err := m.join(filepath.Join(workDir, "merged_audio_1.mkv"), append([]string{video}, audios...)...)
	if res != nil {
		res.Strategy = media.StrategyMux
	}
	return res, err
}

func (m *fakeMerger) MuxSubtitles(ctx context.Context, video string, subs []string, workDir string, sink progress.Sink) (*media.Result, error) {
	m.record("subs", append([]string{video}, subs...)...)
	out := filepath.Join(workDir, "merged_subs_"+filepath.Base(video))
	res, err := m.join(out, append([]string{video}, subs...)...)
	if res != nil {
		res.Strategy = media.StrategyMux
	}
	return res, err
}

type fakeDeliverer struct {
	got     transfer.Delivery
	content string
	err     error
}

func (d *fakeDeliverer) Deliver(ctx context.Context, dl transfer.Delivery, sink progress.Sink) (string, error) {
	d.got = dl
	data, err := os.ReadFile(dl.Path)
	if err != nil {
		return "", err
	}
	d.content = string(data)
	return "https://example.test/" + dl.Name, d.err
}

// fileServer serves /<name> with the name's content, except /slow/ paths
// which send a few bytes and stall until the client goes away.
func fileServer(t *testing.T, stalled chan<- struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/slow/") {
			w.Header().Set("Content-Length", "1000000")
			w.Write(make([]byte, 2048))
			w.(http.Flusher).Flush()
			if stalled != nil {
				stalled <- struct{}{}
			}
			<-r.Context().Done()
			return
		}
		fmt.Fprint(w, "<"+strings.TrimPrefix(r.URL.Path, "/")+">")
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	root      string
	store     *session.Store
	merger    *fakeMerger
	deliverer *fakeDeliverer
	runner    *Runner
	srv       *httptest.Server
}

func newHarness(t *testing.T, stalled chan<- struct{}) *harness {
	t.Helper()
	h := &harness{
		root:      t.TempDir(),
		store:     session.NewStore(0),
		merger:    &fakeMerger{},
		deliverer: &fakeDeliverer{},
		srv:       fileServer(t, stalled),
	}
	throttle := progress.NewThrottle(0)
	fetcher := transfer.NewFetcher(1<<30, time.Minute, 2, throttle, nil)
	h.runner = New(Config{WorkRoot: h.root}, h.store, fetcher, h.merger, h.deliverer, throttle, nil)
	return h
}

func (h *harness) ref(name string) session.Ref {
	return session.Ref{URL: h.srv.URL + "/" + name, Filename: filepath.Base(name)}
}

func (h *harness) queue(t *testing.T, user string, fn func(s *session.Session) error) {
	t.Helper()
	require.NoError(t, h.store.Update(user, fn))
}

func (h *harness) assertClean(t *testing.T, user string) {
	t.Helper()
	entries, err := os.ReadDir(h.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "work root should be empty")
	_, ok := h.store.Snapshot(user)
	assert.False(t, ok, "session should be reset")
	assert.Zero(t, h.runner.Active())
}

func TestRunner_Run_videos(t *testing.T) {
	h := newHarness(t, nil)
	h.queue(t, "u1", func(s *session.Session) error {
		for _, n := range []string{"a.mkv", "b.mkv", "c.mkv"} {
			if err := s.AddVideo(h.ref(n)); err != nil {
				return err
			}
		}
		s.SetRename("Season 1")
		s.SetDestination(transfer.ObjectStorageLink)
		return nil
	})

	out, err := h.runner.Run(context.Background(), "u1", nopSink{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Season 1.mkv", out.Name)
	assert.Equal(t, "https://example.test/Season 1.mkv", out.Link)
	assert.Equal(t, media.StrategyFast, out.Strategy)
	assert.Equal(t, session.ModeVideoVideo, out.Mode)
	assert.Equal(t, transfer.ObjectStorageLink, h.deliverer.got.Destination)
	assert.Equal(t, "<a.mkv><b.mkv><c.mkv>", h.deliverer.content)
	assert.Equal(t, int64(len(h.deliverer.content)), out.Size)
	assert.Equal(t, []string{"merge a.mkv,b.mkv,c.mkv"}, h.merger.calls)

	h.assertClean(t, "u1")
}

func TestRunner_Run_defaultNameIsMergedBasename(t *testing.T) {
	h := newHarness(t, nil)
	h.queue(t, "u1", func(s *session.Session) error {
		if err := s.AddVideo(h.ref("a.mp4")); err != nil {
			return err
		}
		return s.AddVideo(h.ref("b.mp4"))
	})

	out, err := h.runner.Run(context.Background(), "u1", nopSink{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "merged_1.mkv", out.Name)
	assert.Equal(t, "merged_1.mkv", h.deliverer.got.Name)
}

func TestRunner_Run_audio(t *testing.T) {
	h := newHarness(t, nil)
	h.queue(t, "u1", func(s *session.Session) error {
		if err := s.AddVideo(h.ref("movie.mkv")); err != nil {
			return err
		}
		if err := s.PairAudio(h.ref("en.aac")); err != nil {
			return err
		}
		return s.PairAudio(h.ref("jp.aac"))
	})

	out, err := h.runner.Run(context.Background(), "u1", nopSink{}, nil)
	require.NoError(t, err)
	assert.Equal(t, media.StrategyMux, out.Strategy)
	assert.Equal(t, []string{"audio movie.mkv,en.aac,jp.aac"}, h.merger.calls)
	assert.Equal(t, "<movie.mkv><en.aac><jp.aac>", h.deliverer.content)
	h.assertClean(t, "u1")
}

func TestRunner_Run_subtitles(t *testing.T) {
	h := newHarness(t, nil)
	h.queue(t, "u1", func(s *session.Session) error {
		if err := s.AddVideo(h.ref("ep1.mkv")); err != nil {
			return err
		}
		if err := s.AddVideo(h.ref("ep2.mkv")); err != nil {
			return err
		}
		return s.PairSubtitle(0, h.ref("ep1.srt"))
	})
	snap, _ := h.store.Snapshot("u1")
	require.Equal(t, session.ModeVideoSubtitle, snap.Mode)

	_, err := h.runner.Run(context.Background(), "u1", nopSink{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"subs ep1.mkv,ep1.srt",
		"merge merged_subs_ep1.mkv,ep2.mkv",
	}, h.merger.calls)
	assert.Equal(t, "<ep1.mkv><ep1.srt><ep2.mkv>", h.deliverer.content)
}

func TestRunner_Run_singleSubtitledVideo(t *testing.T) {
	h := newHarness(t, nil)
	h.queue(t, "u1", func(s *session.Session) error {
		if err := s.AddVideo(h.ref("ep1.mkv")); err != nil {
			return err
		}
		return s.PairSubtitle(0, h.ref("ep1.ass"))
	})

	out, err := h.runner.Run(context.Background(), "u1", nopSink{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"subs ep1.mkv,ep1.ass"}, h.merger.calls)
	assert.Equal(t, "merged_subs_ep1.mkv", out.Name)
}

func TestRunner_Run_validationKeepsQueue(t *testing.T) {
	h := newHarness(t, nil)
	h.queue(t, "u1", func(s *session.Session) error { return s.AddVideo(h.ref("a.mkv")) })

	_, err := h.runner.Run(context.Background(), "u1", nopSink{}, nil)
	assert.ErrorIs(t, err, ErrNeedMoreVideos)

	snap, ok := h.store.Snapshot("u1")
	require.True(t, ok)
	assert.False(t, snap.Running)
	assert.Len(t, snap.Videos, 1)
	assert.Empty(t, h.merger.calls)

	entries, _ := os.ReadDir(h.root)
	assert.Empty(t, entries)
}

func TestRunner_Run_emptyQueue(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.runner.Run(context.Background(), "nobody", nopSink{}, nil)
	assert.ErrorIs(t, err, session.ErrEmptyQueue)
	assert.Zero(t, h.runner.Active())
}

func TestRunner_Run_deliveryFailureCleansUp(t *testing.T) {
	h := newHarness(t, nil)
	h.deliverer.err = transfer.ErrTooLargeForPlatform
	h.queue(t, "u1", func(s *session.Session) error {
		if err := s.AddVideo(h.ref("a.mkv")); err != nil {
			return err
		}
		return s.AddVideo(h.ref("b.mkv"))
	})

	_, err := h.runner.Run(context.Background(), "u1", nopSink{}, nil)
	assert.ErrorIs(t, err, transfer.ErrTooLargeForPlatform)
	h.assertClean(t, "u1")
}

func TestRunner_Run_downloadFailureCleansUp(t *testing.T) {
	h := newHarness(t, nil)
	h.queue(t, "u1", func(s *session.Session) error {
		if err := s.AddVideo(h.ref("a.mkv")); err != nil {
			return err
		}
		return s.AddVideo(session.Ref{URL: "http://127.0.0.1:1/b.mkv", Filename: "b.mkv"})
	})

	_, err := h.runner.Run(context.Background(), "u1", nopSink{}, nil)
	require.Error(t, err)
	assert.Empty(t, h.merger.calls)
	h.assertClean(t, "u1")
}

func TestRunner_Cancel_midDownload(t *testing.T) {
	stalled := make(chan struct{}, 1)
	h := newHarness(t, stalled)
	h.queue(t, "u1", func(s *session.Session) error {
		if err := s.AddVideo(h.ref("a.mkv")); err != nil {
			return err
		}
		return s.AddVideo(h.ref("slow/b.mkv"))
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.runner.Run(context.Background(), "u1", nopSink{}, nil)
		done <- err
	}()

	select {
	case <-stalled:
	case <-time.After(5 * time.Second):
		t.Fatal("download never started")
	}
	assert.Equal(t, 1, h.runner.Active())

	busy := h.store.Update("u1", func(s *session.Session) error { return nil })
	assert.ErrorIs(t, busy, session.ErrBusy)

	assert.True(t, h.runner.Cancel("u1"))

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.Empty(t, h.merger.calls)
	h.assertClean(t, "u1")
}

func TestRunner_Run_busy(t *testing.T) {
	stalled := make(chan struct{}, 1)
	h := newHarness(t, stalled)
	h.queue(t, "u1", func(s *session.Session) error {
		if err := s.AddVideo(h.ref("slow/a.mkv")); err != nil {
			return err
		}
		return s.AddVideo(h.ref("b.mkv"))
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.runner.Run(context.Background(), "u1", nopSink{}, nil)
		done <- err
	}()
	<-stalled

	_, err := h.runner.Run(context.Background(), "u1", nopSink{}, nil)
	assert.ErrorIs(t, err, session.ErrBusy)

	h.runner.Cancel("u1")
	<-done
}

func TestRunner_Wait_shutdown(t *testing.T) {
	stalled := make(chan struct{}, 1)
	h := newHarness(t, stalled)
	h.queue(t, "u1", func(s *session.Session) error {
		if err := s.AddVideo(h.ref("slow/a.mkv")); err != nil {
			return err
		}
		return s.AddVideo(h.ref("b.mkv"))
	})

	ctx, shutdown := context.WithCancel(context.Background())
	defer shutdown()
	go h.runner.Run(ctx, "u1", nopSink{}, nil)
	<-stalled

	short, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.runner.Wait(short), context.DeadlineExceeded)

	shutdown()
	waitCtx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	require.NoError(t, h.runner.Wait(waitCtx))

	// cleanup has finished by the time Wait returns
	h.assertClean(t, "u1")
}

func TestRunner_Wait_idle(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.runner.Wait(context.Background()))
}

func TestRunner_Cancel_idle(t *testing.T) {
	h := newHarness(t, nil)
	h.queue(t, "u1", func(s *session.Session) error { return s.AddVideo(h.ref("a.mkv")) })

	assert.False(t, h.runner.Cancel("u1"))
	_, ok := h.store.Snapshot("u1")
	assert.False(t, ok)
}

func TestRunner_rcloneConfig(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{RcloneConfigDir: dir}, nil, nil, nil, nil, nil, nil)
	assert.Empty(t, r.rcloneConfig("42"))

	conf := filepath.Join(dir, "42", "rclone.conf")
	require.NoError(t, os.MkdirAll(filepath.Dir(conf), 0755))
	require.NoError(t, os.WriteFile(conf, []byte("[drive]\n"), 0644))
	assert.Equal(t, conf, r.rcloneConfig("42"))
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "merged_5.mkv")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	p, name, err := rename(src, "")
	require.NoError(t, err)
	assert.Equal(t, src, p)
	assert.Equal(t, "merged_5.mkv", name)

	p, name, err = rename(src, "Final Cut")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Final Cut.mkv"), p)
	assert.Equal(t, "Final Cut.mkv", name)
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}
