package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/coah80/mergebot/internal/config"
	"github.com/coah80/mergebot/internal/metrics"
	"github.com/coah80/mergebot/internal/progress"
	"github.com/coah80/mergebot/internal/util"
)

var (
	ErrTooLarge = errors.New("file exceeds the size limit")
	ErrTimeout  = errors.New("download timed out")
)

// StatusError is returned when a remote answers with an unexpected HTTP
// status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.Code, e.URL)
}

// Source is anything the bot can download: a chat attachment or a direct
// link. Filename and Size are what the sender declared and may be empty.
type Source struct {
	URL      string
	Filename string
	Size     int64
}

type Fetcher struct {
	client   *http.Client
	limit    int64
	timeout  time.Duration
	sem      *semaphore.Weighted
	throttle *progress.Throttle
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewFetcher returns a Fetcher that allows at most concurrency downloads at
// once across all callers.
func NewFetcher(limit int64, timeout time.Duration, concurrency int, throttle *progress.Throttle, m *metrics.Metrics) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{
		client:   &http.Client{},
		limit:    limit,
		timeout:  timeout,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		throttle: throttle,
		metrics:  m,
		now:      time.Now,
	}
}

// Fetch downloads src into destDir and returns the local path. Partial files
// are removed on every failure.
func (f *Fetcher) Fetch(ctx context.Context, src Source, destDir string, sink progress.Sink) (_ string, err error) {
	name := f.fileName(src)
	if src.Size > f.limit {
		return "", fmt.Errorf("%s: %w", name, ErrTooLarge)
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer f.sem.Release(1)

	var written int64
	defer func() {
		f.metrics.ObserveTransfer("in", "http", written, err)
	}()

	dctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dctx, "GET", src.URL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid download URL: %w", err)
	}
	log.Printf("[Fetch] %s <- %s", name, src.URL)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", f.classify(ctx, dctx, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, URL: src.URL}
	}
	if resp.ContentLength > f.limit {
		return "", fmt.Errorf("%s: %w", name, ErrTooLarge)
	}
	total := resp.ContentLength
	if total <= 0 {
		total = src.Size
	}

	path := util.UniquePath(destDir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(path)
		}
	}()

	buf := make([]byte, config.ChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > f.limit {
				return "", fmt.Errorf("%s: %w", name, ErrTooLarge)
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				return "", fmt.Errorf("failed to write %s: %w", name, werr)
			}
			if total > 0 {
				f.throttle.Report(ctx, sink, progress.Transfer("📥 Downloading", name, written, total))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", f.classify(ctx, dctx, name, rerr)
		}
	}

	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	log.Printf("[Fetch] %s done (%s)", name, progress.Size(written))
	f.throttle.Done(ctx, sink, fmt.Sprintf("✅ **Downloaded** `%s`", name))
	return path, nil
}

// classify separates caller cancellation from our own deadline.
func (f *Fetcher) classify(parent, dctx context.Context, name string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(dctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", name, ErrTimeout)
	}
	return fmt.Errorf("download %s: %w", name, err)
}

func (f *Fetcher) fileName(src Source) string {
	name := src.Filename
	if name == "" {
		if u, err := url.Parse(src.URL); err == nil {
			name = path.Base(u.Path)
			if name == "/" || name == "." {
				name = ""
			}
		}
	}
	name = util.SanitizeFilename(name)
	if name == "" {
		name = fmt.Sprintf("video_%d.%s", f.now().Unix(), config.DefaultDownloadExt)
	}
	return name
}
