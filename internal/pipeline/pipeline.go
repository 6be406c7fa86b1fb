package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coah80/mergebot/internal/alerts"
	"github.com/coah80/mergebot/internal/config"
	"github.com/coah80/mergebot/internal/media"
	"github.com/coah80/mergebot/internal/metrics"
	"github.com/coah80/mergebot/internal/progress"
	"github.com/coah80/mergebot/internal/session"
	"github.com/coah80/mergebot/internal/transfer"
	"github.com/coah80/mergebot/internal/util"
)

var (
	ErrNeedMoreVideos = errors.New("queue at least two videos to merge")
	ErrNeedAudio      = errors.New("queue at least one audio track")
	ErrNeedSubtitle   = errors.New("pair at least one subtitle")
)

type Fetcher interface {
	Fetch(ctx context.Context, src transfer.Source, destDir string, sink progress.Sink) (string, error)
}

type Merger interface {
	Merge(ctx context.Context, inputs []string, workDir string, sink progress.Sink) (*media.Result, error)
	MuxAudio(ctx context.Context, video string, audios []string, workDir string, sink progress.Sink) (*media.Result, error)
	MuxSubtitles(ctx context.Context, video string, subs []string, workDir string, sink progress.Sink) (*media.Result, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, d transfer.Delivery, sink progress.Sink) (string, error)
}

type Config struct {
	WorkRoot        string
	RcloneConfigDir string
}

// Outcome describes a delivered merge. The file itself is gone by the time
// Run returns.
type Outcome struct {
	Name        string
	Link        string
	Size        int64
	Mode        session.Mode
	Strategy    media.Strategy
	Destination transfer.Destination
}

// Runner executes queued sessions: download every input, combine them, and
// deliver the result.
type Runner struct {
	cfg       Config
	store     *session.Store
	fetcher   Fetcher
	merger    Merger
	deliverer Deliverer
	throttle  *progress.Throttle
	metrics   *metrics.Metrics

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func New(cfg Config, store *session.Store, fetcher Fetcher, merger Merger, deliverer Deliverer, throttle *progress.Throttle, m *metrics.Metrics) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		merger:    merger,
		deliverer: deliverer,
		throttle:  throttle,
		metrics:   m,
		running:   make(map[string]context.CancelFunc),
	}
}

// Run merges and delivers everything the user has queued. Whatever happens,
// the session's work directory is removed and the session is reset once the
// inputs have been validated.
func (r *Runner) Run(ctx context.Context, userID string, sink progress.Sink, platform transfer.Platform) (out *Outcome, err error) {
	ctx, cancel := context.WithCancel(ctx)
	if !r.register(userID, cancel) {
		cancel()
		return nil, session.ErrBusy
	}

	sess, err := r.store.Begin(userID)
	if err != nil {
		r.unregister(userID)
		cancel()
		return nil, err
	}
	if err := validate(sess); err != nil {
		r.store.Release(userID)
		r.unregister(userID)
		cancel()
		return nil, err
	}

	workDir := filepath.Join(r.cfg.WorkRoot, userID, sess.ID)
	stage := "download"
	started := time.Now()
	log.Printf("[Pipeline] %s: %s run with %d videos, %d audios -> %s", userID, sess.Mode, len(sess.Videos), len(sess.Audios), sess.Destination)

	defer func() {
		cancel()
		if rmErr := util.RemoveWorkDir(workDir); rmErr != nil {
			log.Printf("[Pipeline] %s: failed to remove %s: %v", userID, workDir, rmErr)
		}
		r.store.Reset(userID)
		r.unregister(userID)

		switch {
		case err == nil:
			log.Printf("[Pipeline] %s: done in %s", userID, time.Since(started).Round(time.Second))
		case errors.Is(err, context.Canceled):
			log.Printf("[Pipeline] %s: cancelled during %s", userID, stage)
		default:
			log.Printf("[Pipeline] %s: %s failed: %v", userID, stage, err)
			alerts.PipelineFailed(userID, sess.ID, stage, err)
		}
	}()

	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	var result *media.Result
	switch sess.Mode {
	case session.ModeVideoAudio:
		result, err = r.runAudio(ctx, sess, workDir, sink, &stage)
	case session.ModeVideoSubtitle:
		result, err = r.runSubtitles(ctx, sess, workDir, sink, &stage)
	default:
		result, err = r.runVideos(ctx, sess, workDir, sink, &stage)
	}
	if err != nil {
		return nil, err
	}

	stage = "upload"
	path, name, err := rename(result.Path, sess.Rename)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("merged output missing: %w", err)
	}

	link, err := r.deliverer.Deliver(ctx, transfer.Delivery{
		Path:         path,
		Name:         name,
		Destination:  sess.Destination,
		Platform:     platform,
		RcloneConfig: r.rcloneConfig(userID),
	}, sink)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Name:        name,
		Link:        link,
		Size:        info.Size(),
		Mode:        sess.Mode,
		Strategy:    result.Strategy,
		Destination: sess.Destination,
	}, nil
}

func (r *Runner) runVideos(ctx context.Context, sess *session.Session, workDir string, sink progress.Sink, stage *string) (*media.Result, error) {
	var inputs []string
	for i, slot := range sess.Videos {
		r.throttle.Done(ctx, sink, fmt.Sprintf("📥 **Downloading video %d/%d**", i+1, len(sess.Videos)))
		p, err := r.fetcher.Fetch(ctx, slot.Video.Source(), workDir, sink)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, p)
	}
	*stage = "merge"
	return r.merger.Merge(ctx, inputs, workDir, sink)
}

func (r *Runner) runAudio(ctx context.Context, sess *session.Session, workDir string, sink progress.Sink, stage *string) (*media.Result, error) {
	r.throttle.Done(ctx, sink, "📥 **Downloading video**")
	video, err := r.fetcher.Fetch(ctx, sess.Videos[0].Video.Source(), workDir, sink)
	if err != nil {
		return nil, err
	}
	var audios []string
	for i, a := range sess.Audios {
		r.throttle.Done(ctx, sink, fmt.Sprintf("📥 **Downloading audio %d/%d**", i+1, len(sess.Audios)))
		p, err := r.fetcher.Fetch(ctx, a.Source(), workDir, sink)
		if err != nil {
			return nil, err
		}
		audios = append(audios, p)
	}
	*stage = "merge"
	return r.merger.MuxAudio(ctx, video, audios, workDir, sink)
}

// runSubtitles muxes each slot with its subtitle, then joins the slots when
// there is more than one.
func (r *Runner) runSubtitles(ctx context.Context, sess *session.Session, workDir string, sink progress.Sink, stage *string) (*media.Result, error) {
	var parts []string
	var last *media.Result
	for i, slot := range sess.Videos {
		*stage = "download"
		r.throttle.Done(ctx, sink, fmt.Sprintf("📥 **Downloading video %d/%d**", i+1, len(sess.Videos)))
		video, err := r.fetcher.Fetch(ctx, slot.Video.Source(), workDir, sink)
		if err != nil {
			return nil, err
		}
		if slot.Subtitle == nil {
			parts = append(parts, video)
			continue
		}
		sub, err := r.fetcher.Fetch(ctx, slot.Subtitle.Source(), workDir, sink)
		if err != nil {
			return nil, err
		}
		*stage = "merge"
		last, err = r.merger.MuxSubtitles(ctx, video, []string{sub}, workDir, sink)
		if err != nil {
			return nil, err
		}
		parts = append(parts, last.Path)
	}

	*stage = "merge"
	if len(parts) == 1 {
		return last, nil
	}
	return r.merger.Merge(ctx, parts, workDir, sink)
}

// Cancel stops the user's running pipeline. A session that is not running
// is simply discarded. It reports whether a running pipeline was stopped.
func (r *Runner) Cancel(userID string) bool {
	r.mu.Lock()
	cancel, ok := r.running[userID]
	r.mu.Unlock()
	if ok {
		log.Printf("[Pipeline] %s: cancel requested", userID)
		cancel()
		return true
	}
	r.store.Reset(userID)
	return false
}

// Active returns the number of running pipelines.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Wait blocks until every running pipeline has finished its cleanup, or ctx
// is done.
func (r *Runner) Wait(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for r.Active() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d pipelines still running: %w", r.Active(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (r *Runner) register(userID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[userID]; ok {
		return false
	}
	r.running[userID] = cancel
	r.metrics.SetActivePipelines(len(r.running))
	return true
}

func (r *Runner) unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, userID)
	r.metrics.SetActivePipelines(len(r.running))
}

func (r *Runner) rcloneConfig(userID string) string {
	if r.cfg.RcloneConfigDir == "" {
		return ""
	}
	p := filepath.Join(r.cfg.RcloneConfigDir, userID, "rclone.conf")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

func validate(sess *session.Session) error {
	switch sess.Mode {
	case session.ModeVideoAudio:
		if len(sess.Videos) != 1 || len(sess.Audios) == 0 {
			return ErrNeedAudio
		}
	case session.ModeVideoSubtitle:
		if len(sess.Subtitles()) == 0 {
			return ErrNeedSubtitle
		}
	default:
		if len(sess.Videos) < 2 {
			return ErrNeedMoreVideos
		}
	}
	return nil
}

// rename moves the merged file to name.mkv inside the same directory. An
// empty name keeps the file as it is.
func rename(path, name string) (string, string, error) {
	if name == "" {
		return path, filepath.Base(path), nil
	}
	final := name + "." + config.OutputExt
	dest := filepath.Join(filepath.Dir(path), final)
	if dest == path {
		return path, final, nil
	}
	if err := os.Rename(path, dest); err != nil {
		return "", "", fmt.Errorf("failed to rename output: %w", err)
	}
	return dest, final, nil
}
