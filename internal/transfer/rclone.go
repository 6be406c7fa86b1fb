package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
)

// execCommand is swapped out in tests.
var execCommand = exec.CommandContext

// RcloneError carries the exit code and the end of rclone's stderr.
type RcloneError struct {
	Code   int
	Stderr string
}

func (e *RcloneError) Error() string {
	return fmt.Sprintf("rclone failed (code %d)", e.Code)
}

type Rclone struct {
	Binary string
	Remote string
	Folder string
}

func NewRclone(remote, folder string) *Rclone {
	return &Rclone{Binary: "rclone", Remote: remote, Folder: folder}
}

// Target is the remote path a file called name is copied to.
func (r *Rclone) Target(name string) string {
	folder := strings.Trim(r.Folder, "/")
	if folder == "" {
		return r.Remote + ":" + name
	}
	return r.Remote + ":" + folder + "/" + name
}

// Copy runs rclone copyto. Only the exit status decides success.
func (r *Rclone) Copy(ctx context.Context, path, name, configPath string) (string, error) {
	target := r.Target(name)
	args := []string{"copyto"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	args = append(args, path, target)

	log.Printf("[Rclone] copyto %s", target)
	cmd := execCommand(ctx, r.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &RcloneError{Code: exitErr.ExitCode(), Stderr: tail(stderr.String(), 500)}
		}
		return "", fmt.Errorf("failed to start rclone: %w", err)
	}
	return target, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
