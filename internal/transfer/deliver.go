package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/coah80/mergebot/internal/metrics"
	"github.com/coah80/mergebot/internal/progress"
)

// Destination is where a finished merge is sent.
type Destination int

const (
	PlatformVideo Destination = iota
	PlatformDocument
	ObjectStorageLink
	RemoteSync
)

var destinationNames = map[Destination]string{
	PlatformVideo:     "video",
	PlatformDocument:  "document",
	ObjectStorageLink: "gofile",
	RemoteSync:        "rclone",
}

func (d Destination) String() string {
	if name, ok := destinationNames[d]; ok {
		return name
	}
	return fmt.Sprintf("destination(%d)", int(d))
}

func ParseDestination(s string) (Destination, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, name := range destinationNames {
		if name == s {
			return d, true
		}
	}
	return PlatformVideo, false
}

var ErrTooLargeForPlatform = errors.New("file is too large to send on the platform")

// Upload is a file handed to the messaging platform.
type Upload struct {
	Name      string
	Body      io.Reader
	Size      int64
	Thumbnail string
	AsVideo   bool
}

// Platform sends files back through the chat the request came from.
type Platform interface {
	Upload(ctx context.Context, up Upload) (string, error)
}

type Thumbnailer interface {
	Thumbnail(ctx context.Context, video string) (string, error)
}

type Delivery struct {
	Path         string
	Name         string
	Destination  Destination
	Platform     Platform
	RcloneConfig string
	Thumbnail    string
}

type Deliverer struct {
	gofile   *GofileClient
	rclone   *Rclone
	thumbs   Thumbnailer
	throttle *progress.Throttle
	metrics  *metrics.Metrics
}

func NewDeliverer(gofile *GofileClient, rclone *Rclone, thumbs Thumbnailer, throttle *progress.Throttle, m *metrics.Metrics) *Deliverer {
	return &Deliverer{
		gofile:   gofile,
		rclone:   rclone,
		thumbs:   thumbs,
		throttle: throttle,
		metrics:  m,
	}
}

// Deliver sends the file at d.Path to its destination and returns a link or
// remote path when the destination produces one.
func (dl *Deliverer) Deliver(ctx context.Context, d Delivery, sink progress.Sink) (link string, err error) {
	info, err := os.Stat(d.Path)
	if err != nil {
		return "", fmt.Errorf("output missing: %w", err)
	}
	size := info.Size()
	defer func() {
		dl.metrics.ObserveTransfer("out", d.Destination.String(), size, err)
	}()

	name := d.Name
	if name == "" {
		name = info.Name()
	}
	log.Printf("[Deliver] %s (%s) -> %s", name, progress.Size(size), d.Destination)

	switch d.Destination {
	case PlatformVideo, PlatformDocument:
		link, err = dl.toPlatform(ctx, d, name, size, sink)
	case ObjectStorageLink:
		if dl.gofile == nil {
			return "", errors.New("gofile uploads are not configured")
		}
		link, err = dl.streamed(ctx, d.Path, name, size, sink, func(body io.Reader) (string, error) {
			return dl.gofile.Upload(ctx, name, body)
		})
	case RemoteSync:
		if dl.rclone == nil {
			return "", errors.New("rclone uploads are not configured")
		}
		dl.throttle.Done(ctx, sink, fmt.Sprintf("☁️ **Syncing** `%s` to `%s`", name, dl.rclone.Target(name)))
		link, err = dl.rclone.Copy(ctx, d.Path, name, d.RcloneConfig)
	default:
		return "", fmt.Errorf("unknown destination %s", d.Destination)
	}
	if err != nil {
		return "", err
	}

	dl.throttle.Done(ctx, sink, fmt.Sprintf("✅ **Uploaded** `%s`", name))
	return link, nil
}

func (dl *Deliverer) toPlatform(ctx context.Context, d Delivery, name string, size int64, sink progress.Sink) (string, error) {
	if d.Platform == nil {
		return "", errors.New("no platform to upload to")
	}
	asVideo := d.Destination == PlatformVideo
	thumb := d.Thumbnail
	if asVideo && thumb == "" && dl.thumbs != nil {
		if t, err := dl.thumbs.Thumbnail(ctx, d.Path); err == nil {
			thumb = t
		} else {
			log.Printf("[Deliver] thumbnail for %s skipped: %v", name, err)
		}
	}
	if !asVideo {
		thumb = ""
	}

	return dl.streamed(ctx, d.Path, name, size, sink, func(body io.Reader) (string, error) {
		return d.Platform.Upload(ctx, Upload{
			Name:      name,
			Body:      body,
			Size:      size,
			Thumbnail: thumb,
			AsVideo:   asVideo,
		})
	})
}

func (dl *Deliverer) streamed(ctx context.Context, path, name string, size int64, sink progress.Sink, send func(io.Reader) (string, error)) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	body := &progressReader{r: f, total: size, report: func(done, total int64) {
		dl.throttle.Report(ctx, sink, progress.Transfer("📤 Uploading", name, done, total))
	}}
	return send(body)
}

// progressReader counts bytes as they are read.
type progressReader struct {
	r      io.Reader
	done   int64
	total  int64
	report func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.report(p.done, p.total)
	}
	return n, err
}
