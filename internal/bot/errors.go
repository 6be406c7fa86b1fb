package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/coah80/mergebot/internal/config"
	"github.com/coah80/mergebot/internal/media"
	"github.com/coah80/mergebot/internal/pipeline"
	"github.com/coah80/mergebot/internal/progress"
	"github.com/coah80/mergebot/internal/session"
	"github.com/coah80/mergebot/internal/transfer"
	"github.com/coah80/mergebot/internal/util"
)

var (
	errNoFile      = errors.New("no file or URL given")
	errURLDisabled = errors.New("URL downloads are disabled")
)

// ToUserError turns an internal error into text that is safe to show in
// chat. Raw errors are only logged.
func ToUserError(err error) string {
	if err == nil {
		return ""
	}

	var statusErr *transfer.StatusError
	var gofileErr *transfer.GofileError
	var rcloneErr *transfer.RcloneError
	var exitErr *media.ExitError

	switch {
	case errors.Is(err, context.Canceled):
		return "Merge cancelled"
	case errors.Is(err, errNoFile):
		return "Attach a file or give a URL"
	case errors.Is(err, errURLDisabled):
		return "Downloading from URLs is disabled on this bot"

	case errors.Is(err, session.ErrBusy):
		return "A merge is already running. Use /cancel to stop it"
	case errors.Is(err, session.ErrEmptyQueue):
		return "Your queue is empty. Add files with /add first"
	case errors.Is(err, session.ErrUnsupportedFormat):
		return "That video format isn't supported"
	case errors.Is(err, session.ErrFormatMismatch):
		return "All videos must have the same format"
	case errors.Is(err, session.ErrQueueFull):
		return fmt.Sprintf("Queue is full (max %d)", config.MaxVideoSlots)
	case errors.Is(err, session.ErrTooLarge), errors.Is(err, transfer.ErrTooLarge):
		return fmt.Sprintf("File is larger than the %s limit", progress.Size(config.MaxFileSize))
	case errors.Is(err, session.ErrModeConflict):
		return "Audio tracks only go onto a single video without subtitles. Use /cancel to start over"
	case errors.Is(err, session.ErrNoSuchSlot):
		return "There is no video in that slot"
	case errors.Is(err, session.ErrInvalidSubtitle):
		return "That subtitle format isn't supported (srt, ass, ssa, vtt)"
	case errors.Is(err, session.ErrInvalidAudio):
		return "That audio format isn't supported"
	case errors.Is(err, session.ErrNoBaseVideo):
		return "Add a video first"

	case errors.Is(err, pipeline.ErrNeedMoreVideos), errors.Is(err, media.ErrTooFewInputs):
		return "Add at least two videos to merge"
	case errors.Is(err, pipeline.ErrNeedAudio):
		return "Add an audio track first"
	case errors.Is(err, pipeline.ErrNeedSubtitle):
		return "Add a subtitle first"

	case errors.Is(err, util.ErrURLUnsupported):
		return "That website isn't supported"
	case errors.Is(err, util.ErrURLPrivate):
		return "Private/local URLs are not allowed"
	case errors.Is(err, util.ErrURLScheme), errors.Is(err, util.ErrURLInvalid),
		errors.Is(err, util.ErrURLEmpty), errors.Is(err, util.ErrURLTooLong):
		return "That doesn't look like a valid link"

	case errors.Is(err, transfer.ErrTimeout):
		return "Download timed out, try again"
	case errors.As(err, &statusErr):
		if statusErr.Code == 404 {
			return "File not found, it may have been deleted"
		}
		if statusErr.Code == 403 {
			return "Access denied, the site is blocking downloads"
		}
		return fmt.Sprintf("Transfer failed (HTTP %d)", statusErr.Code)
	case errors.Is(err, transfer.ErrTooLargeForPlatform):
		return "The merged file is too large for Discord. Pick GoFile or rclone with /destination"
	case errors.As(err, &gofileErr):
		return "GoFile upload failed, try again later"
	case errors.As(err, &rcloneErr):
		return "rclone upload failed, check your remote configuration"

	case errors.Is(err, media.ErrNotAvailable), errors.Is(err, media.ErrZeroDuration):
		return "Couldn't read one of the videos, it may be corrupted"
	case errors.Is(err, media.ErrEmptyOutput), errors.As(err, &exitErr):
		return "Merging failed, the files might be corrupted or incompatible"
	}
	return "Something went wrong"
}
