package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
)

// ErrNotAvailable means the file has no readable video stream or duration.
// Callers treat it as missing data rather than a crash.
var ErrNotAvailable = errors.New("media info not available")

type Stream struct {
	Index     int               `json:"index"`
	CodecType string            `json:"codec_type"`
	CodecName string            `json:"codec_name"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
	Duration  string            `json:"duration,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

type Format struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// Info is what Inspect extracts from a media file.
type Info struct {
	Duration float64
	Width    int
	Height   int
	Streams  []Stream
	Format   Format
}

type Prober struct {
	Binary string
}

func NewProber() *Prober {
	return &Prober{Binary: "ffprobe"}
}

// Inspect runs ffprobe once against path. A file ffprobe cannot read, or one
// without a video stream or a positive duration, yields ErrNotAvailable.
func (p *Prober) Inspect(ctx context.Context, path string) (*Info, error) {
	name := filepath.Base(path)
	out, err := run(ctx, p.Binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams", "-show_format",
		path,
	)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s: unreadable: %w", name, ErrNotAvailable)
		}
		return nil, fmt.Errorf("probe %s: %w", name, err)
	}

	var parsed struct {
		Streams []Stream `json:"streams"`
		Format  Format   `json:"format"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("probe %s: bad ffprobe output: %w", name, err)
	}

	info := &Info{Streams: parsed.Streams, Format: parsed.Format}

	video := info.FirstStream("video")
	if video == nil {
		return nil, fmt.Errorf("%s: no video stream: %w", name, ErrNotAvailable)
	}
	info.Width = video.Width
	info.Height = video.Height

	dur, _ := strconv.ParseFloat(parsed.Format.Duration, 64)
	if dur <= 0 {
		return nil, fmt.Errorf("%s: no duration: %w", name, ErrNotAvailable)
	}
	info.Duration = dur

	return info, nil
}

// FirstStream returns the first stream of the given codec type, or nil.
func (i *Info) FirstStream(codecType string) *Stream {
	for idx := range i.Streams {
		if i.Streams[idx].CodecType == codecType {
			return &i.Streams[idx]
		}
	}
	return nil
}

// HasAudio reports whether any audio stream is present.
func (i *Info) HasAudio() bool {
	return i.FirstStream("audio") != nil
}
