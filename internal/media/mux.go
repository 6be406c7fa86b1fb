package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/coah80/mergebot/internal/progress"
)

// MuxAudio adds every audio file as an extra track next to the streams of
// video. Nothing is re-encoded.
func (m *Merger) MuxAudio(ctx context.Context, video string, audios []string, workDir string, sink progress.Sink) (*Result, error) {
	if len(audios) == 0 {
		return nil, ErrNoTracks
	}
	m.throttle.Done(ctx, sink, fmt.Sprintf("🎵 **Adding %d audio track(s)...**", len(audios)))

	out := filepath.Join(workDir, fmt.Sprintf("merged_audio_%d.mkv", m.now().Unix()))
	return m.mux(ctx, video, audios, ":a", out, sink)
}

// MuxSubtitles adds every subtitle file as a soft subtitle track.
func (m *Merger) MuxSubtitles(ctx context.Context, video string, subs []string, workDir string, sink progress.Sink) (*Result, error) {
	if len(subs) == 0 {
		return nil, ErrNoTracks
	}
	m.throttle.Done(ctx, sink, fmt.Sprintf("💬 **Adding %d subtitle track(s)...**", len(subs)))

	out := filepath.Join(workDir, fmt.Sprintf("merged_subs_%d_%s.mkv", m.now().Unix(), baseName(video)))
	return m.mux(ctx, video, subs, "", out, sink)
}

func (m *Merger) mux(ctx context.Context, video string, tracks []string, selector, out string, sink progress.Sink) (*Result, error) {
	start := m.now()
	args := []string{"-hide_banner", "-loglevel", "error", "-i", video}
	for _, t := range tracks {
		args = append(args, "-i", t)
	}
	args = append(args, "-map", "0")
	for i := range tracks {
		args = append(args, "-map", strconv.Itoa(i+1)+selector)
	}
	args = append(args, "-c", "copy", "-y", out)

	_, err := run(ctx, m.FFmpeg, args...)
	if err == nil {
		err = checkOutput(out)
	}
	m.metrics.ObserveMerge(string(StrategyMux), err, m.now().Sub(start))
	if err != nil {
		os.Remove(out)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("add tracks: %w", err)
	}
	return &Result{Path: out, Strategy: StrategyMux}, nil
}

// Thumbnail grabs a JPEG frame from the middle of video and writes it next
// to the video as <base>.jpg.
func (m *Merger) Thumbnail(ctx context.Context, video string) (string, error) {
	info, err := m.prober.Inspect(ctx, video)
	if err != nil {
		return "", err
	}

	thumb := video[:len(video)-len(filepath.Ext(video))] + ".jpg"
	_, err = run(ctx, m.FFmpeg,
		"-hide_banner", "-loglevel", "error",
		"-i", video,
		"-ss", strconv.FormatFloat(info.Duration/2, 'f', 3, 64),
		"-vframes", "1",
		"-c:v", "mjpeg", "-f", "image2",
		"-y", thumb,
	)
	if err == nil {
		err = checkOutput(thumb)
	}
	if err != nil {
		os.Remove(thumb)
		return "", fmt.Errorf("thumbnail: %w", err)
	}
	return thumb, nil
}

func baseName(path string) string {
	b := filepath.Base(path)
	return b[:len(b)-len(filepath.Ext(b))]
}
