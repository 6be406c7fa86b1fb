package session

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coah80/mergebot/internal/config"
	"github.com/coah80/mergebot/internal/progress"
	"github.com/coah80/mergebot/internal/transfer"
	"github.com/coah80/mergebot/internal/util"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported video format")
	ErrFormatMismatch    = errors.New("all videos must share the same format")
	ErrQueueFull         = errors.New("queue is full")
	ErrTooLarge          = errors.New("file is too large")
	ErrModeConflict      = errors.New("action conflicts with the current merge mode")
	ErrNoSuchSlot        = errors.New("no video in that slot")
	ErrInvalidSubtitle   = errors.New("unsupported subtitle format")
	ErrInvalidAudio      = errors.New("unsupported audio format")
	ErrNoBaseVideo       = errors.New("add a video first")
	ErrBusy              = errors.New("a merge is already running")
	ErrEmptyQueue        = errors.New("nothing queued")
)

// Ref points at a remote input. Filename and Size are declared by the
// sender; Size 0 means unknown.
type Ref struct {
	URL      string
	Filename string
	Size     int64
}

// Name is the declared filename, or the last URL path segment.
func (r Ref) Name() string {
	if r.Filename != "" {
		return r.Filename
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

func (r Ref) Ext() string {
	return config.Ext(r.Name())
}

func (r Ref) Source() transfer.Source {
	return transfer.Source{URL: r.URL, Filename: r.Filename, Size: r.Size}
}

type VideoSlot struct {
	Video    Ref
	Subtitle *Ref
}

type Mode int

const (
	ModeUnset Mode = iota
	ModeVideoVideo
	ModeVideoAudio
	ModeVideoSubtitle
)

func (m Mode) String() string {
	switch m {
	case ModeVideoVideo:
		return "video+video"
	case ModeVideoAudio:
		return "video+audio"
	case ModeVideoSubtitle:
		return "video+subtitle"
	default:
		return "unset"
	}
}

// Session is one user's pending merge request. Its methods validate before
// mutating, so a failed call leaves the session unchanged.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time

	Videos      []VideoSlot
	Audios      []Ref
	Format      string
	Mode        Mode
	Destination transfer.Destination
	Rename      string

	Running bool

	maxSize int64
}

// New returns an empty session. maxSize <= 0 disables the size check.
func New(userID string, maxSize int64) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		maxSize:   maxSize,
	}
}

func (s *Session) AddVideo(ref Ref) error {
	ext := ref.Ext()
	if !config.Contains(config.VideoExtensions, ext) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if s.Format != "" && ext != s.Format {
		return fmt.Errorf("%w: queue holds %s, got %s", ErrFormatMismatch, s.Format, ext)
	}
	if len(s.Videos) >= config.MaxVideoSlots {
		return fmt.Errorf("%w: at most %d videos", ErrQueueFull, config.MaxVideoSlots)
	}
	if err := s.checkSize(ref); err != nil {
		return err
	}
	if s.Mode == ModeVideoAudio && len(s.Videos) > 0 {
		return fmt.Errorf("%w: audio tracks can only be added to a single video", ErrModeConflict)
	}

	if s.Format == "" {
		s.Format = ext
	}
	s.Videos = append(s.Videos, VideoSlot{Video: ref})
	if len(s.Videos) >= 2 && s.Mode == ModeUnset {
		s.Mode = ModeVideoVideo
	}
	return nil
}

// PairSubtitle attaches a subtitle to the video at index, replacing any
// subtitle already there. A queue of videos becomes a subtitle merge.
func (s *Session) PairSubtitle(index int, ref Ref) error {
	if index < 0 || index >= len(s.Videos) {
		return fmt.Errorf("%w: %d", ErrNoSuchSlot, index+1)
	}
	if ext := ref.Ext(); !config.Contains(config.SubtitleExtensions, ext) {
		return fmt.Errorf("%w: %q", ErrInvalidSubtitle, ext)
	}
	if s.Mode == ModeVideoAudio {
		return fmt.Errorf("%w: audio tracks are queued", ErrModeConflict)
	}

	sub := ref
	s.Videos[index].Subtitle = &sub
	s.Mode = ModeVideoSubtitle
	return nil
}

func (s *Session) PairAudio(ref Ref) error {
	if len(s.Videos) == 0 {
		return ErrNoBaseVideo
	}
	if ext := ref.Ext(); !config.Contains(config.AudioExtensions, ext) {
		return fmt.Errorf("%w: %q", ErrInvalidAudio, ext)
	}
	if len(s.Audios) >= config.MaxAudioTracks {
		return fmt.Errorf("%w: at most %d audio tracks", ErrQueueFull, config.MaxAudioTracks)
	}
	if err := s.checkSize(ref); err != nil {
		return err
	}
	switch s.Mode {
	case ModeVideoVideo:
		return fmt.Errorf("%w: videos are queued for merging", ErrModeConflict)
	case ModeVideoSubtitle:
		return fmt.Errorf("%w: subtitles are queued", ErrModeConflict)
	}

	s.Audios = append(s.Audios, ref)
	s.Mode = ModeVideoAudio
	return nil
}

func (s *Session) SetDestination(d transfer.Destination) {
	s.Destination = d
}

// SetRename stores a sanitized output name without the container
// extension. An empty result keeps the merged file's own name.
func (s *Session) SetRename(name string) {
	name = util.SanitizeFilename(name)
	name = strings.TrimSuffix(name, "."+config.OutputExt)
	s.Rename = util.SanitizeFilename(name)
}

// Reset clears everything queued and starts a fresh work directory ID.
func (s *Session) Reset() {
	*s = Session{
		ID:        uuid.NewString(),
		UserID:    s.UserID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		maxSize:   s.maxSize,
	}
}

func (s *Session) Empty() bool {
	return len(s.Videos) == 0 && len(s.Audios) == 0
}

// Subtitles returns the paired subtitles in slot order.
func (s *Session) Subtitles() []Ref {
	var subs []Ref
	for _, v := range s.Videos {
		if v.Subtitle != nil {
			subs = append(subs, *v.Subtitle)
		}
	}
	return subs
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Videos = make([]VideoSlot, len(s.Videos))
	for i, v := range s.Videos {
		c.Videos[i] = v
		if v.Subtitle != nil {
			sub := *v.Subtitle
			c.Videos[i].Subtitle = &sub
		}
	}
	c.Audios = append([]Ref(nil), s.Audios...)
	return &c
}

func (s *Session) checkSize(ref Ref) error {
	if s.maxSize > 0 && ref.Size > s.maxSize {
		return fmt.Errorf("%w: %s is over %s", ErrTooLarge, ref.Name(), progress.Size(s.maxSize))
	}
	return nil
}
