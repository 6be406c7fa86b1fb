package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coah80/mergebot/internal/metrics"
	"github.com/coah80/mergebot/internal/progress"
)

type Strategy string

const (
	StrategyFast     Strategy = "fast"
	StrategyFallback Strategy = "fallback"
	StrategyMux      Strategy = "mux"
)

const manifestName = "inputs.txt"

var (
	ErrTooFewInputs = errors.New("at least 2 files are needed to merge")
	ErrZeroDuration = errors.New("total duration of inputs is zero")
	ErrEmptyOutput  = errors.New("merged output is empty")
	ErrNoTracks     = errors.New("no tracks to add")
)

// Plan is the ordered set of absolute inputs for a single merge attempt.
type Plan struct {
	Inputs   []string
	Strategy Strategy
}

type Result struct {
	Path     string
	Strategy Strategy
}

type Merger struct {
	FFmpeg string

	prober   *Prober
	throttle *progress.Throttle
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewMerger(prober *Prober, throttle *progress.Throttle, m *metrics.Metrics) *Merger {
	return &Merger{
		FFmpeg:   "ffmpeg",
		prober:   prober,
		throttle: throttle,
		metrics:  m,
		now:      time.Now,
	}
}

func newPlan(inputs []string) (*Plan, error) {
	plan := &Plan{Strategy: StrategyFast}
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", in, err)
		}
		plan.Inputs = append(plan.Inputs, abs)
	}
	return plan, nil
}

// Merge concatenates inputs in order into workDir. It tries a stream copy
// first and, if that fails for any reason other than cancellation, re-encodes
// once through the concat filter.
func (m *Merger) Merge(ctx context.Context, inputs []string, workDir string, sink progress.Sink) (*Result, error) {
	if len(inputs) < 2 {
		return nil, ErrTooFewInputs
	}
	plan, err := newPlan(inputs)
	if err != nil {
		return nil, err
	}

	manifest := filepath.Join(workDir, manifestName)

	start := m.now()
	out, err := m.fast(ctx, plan, manifest, workDir, sink)
	m.metrics.ObserveMerge(string(StrategyFast), err, m.now().Sub(start))
	if err == nil {
		m.throttle.Done(ctx, sink, "✅ **Merge complete!** (fast mode)")
		return &Result{Path: out, Strategy: StrategyFast}, nil
	}

	os.Remove(manifest)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Stderr != "" {
		log.Printf("[Merge] Fast merge failed: %v. Last stderr: %s", err, exitErr.Stderr)
	} else {
		log.Printf("[Merge] Fast merge failed: %v", err)
	}
	m.throttle.Done(ctx, sink, "⚠️ Fast merge failed, the videos might have different formats.\n🔄 **Switching to robust mode...** This re-encodes and takes longer.")

	plan.Strategy = StrategyFallback
	start = m.now()
	out, err = m.fallback(ctx, plan, workDir, sink)
	m.metrics.ObserveMerge(string(StrategyFallback), err, m.now().Sub(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	m.throttle.Done(ctx, sink, "✅ **Merge complete!** (robust mode)")
	return &Result{Path: out, Strategy: StrategyFallback}, nil
}

func (m *Merger) fast(ctx context.Context, plan *Plan, manifest, workDir string, sink progress.Sink) (string, error) {
	if err := writeManifest(manifest, plan.Inputs); err != nil {
		return "", err
	}

	m.throttle.Done(ctx, sink, "🚀 **Starting merge (fast mode)...**\nThis should be quick if the videos are compatible.")

	out := filepath.Join(workDir, fmt.Sprintf("merged_%d.mkv", m.now().Unix()))
	_, err := run(ctx, m.FFmpeg,
		"-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", manifest,
		"-c", "copy", "-y", out,
	)
	if err == nil {
		err = checkOutput(out)
	}
	if err != nil {
		os.Remove(out)
		return "", err
	}

	os.Remove(manifest)
	return out, nil
}

func (m *Merger) fallback(ctx context.Context, plan *Plan, workDir string, sink progress.Sink) (string, error) {
	total, err := m.totalDuration(ctx, plan.Inputs)
	if err != nil {
		return "", err
	}

	out := filepath.Join(workDir, fmt.Sprintf("merged_fallback_%d.mkv", m.now().Unix()))
	args := fallbackArgs(plan.Inputs, out)

	start := m.now()
	err = runLines(ctx, m.FFmpeg, args, func(line string) {
		us, ok := ParseProgressLine(line)
		if !ok {
			return
		}
		fraction := progress.Clamp(float64(us) / 1e6 / total)
		text := fmt.Sprintf("⚙️ **Merging videos (robust mode)...**\n%s `%s`\n**Time left:** `%s`",
			progress.Bar(fraction), progress.Percent(fraction), progress.TimeLeft(m.now().Sub(start), fraction))
		m.throttle.Report(ctx, sink, text)
	})
	if err == nil {
		err = checkOutput(out)
	}
	if err != nil {
		os.Remove(out)
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Stderr != "" {
			log.Printf("[Merge] Robust merge failed: %v. Last stderr: %s", err, exitErr.Stderr)
		}
		return "", fmt.Errorf("robust merge: %w", err)
	}
	return out, nil
}

// totalDuration probes every input concurrently and sums their durations.
func (m *Merger) totalDuration(ctx context.Context, inputs []string) (float64, error) {
	durations := make([]float64, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		g.Go(func() error {
			info, err := m.prober.Inspect(gctx, in)
			if err != nil {
				return fmt.Errorf("could not read the duration of %s: %w", filepath.Base(in), err)
			}
			durations[i] = info.Duration
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total float64
	for _, d := range durations {
		total += d
	}
	if total == 0 {
		return 0, ErrZeroDuration
	}
	return total, nil
}

func fallbackArgs(inputs []string, out string) []string {
	args := []string{"-hide_banner"}
	var filter strings.Builder
	for i, in := range inputs {
		args = append(args, "-i", in)
		fmt.Fprintf(&filter, "[%d:v:0][%d:a:0]", i, i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=1[v][a]", len(inputs))

	return append(args,
		"-filter_complex", filter.String(),
		"-map", "[v]", "-map", "[a]",
		"-c:v", "libx264", "-preset", "fast", "-crf", "23",
		"-c:a", "aac", "-b:a", "192k",
		"-y", "-progress", "pipe:1",
		out,
	)
}

// writeManifest writes the concat demuxer list. Paths must already be absolute.
func writeManifest(path string, inputs []string) error {
	var b strings.Builder
	for _, in := range inputs {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(in, "'", `'\''`))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

// ParseProgressLine extracts the elapsed microseconds from an ffmpeg
// -progress line. out_time_ms is also microseconds despite its name.
// Placeholders such as N/A are rejected.
func ParseProgressLine(line string) (int64, bool) {
	key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok || (key != "out_time_ms" && key != "out_time_us") {
		return 0, false
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, false
	}
	for _, r := range val {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("merged output missing: %w", err)
	}
	if info.Size() == 0 {
		return ErrEmptyOutput
	}
	return nil
}
