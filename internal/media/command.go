package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
)

// execCommand is swapped out in tests.
var execCommand = exec.CommandContext

const stderrTailSize = 500

// ExitError is returned when ffmpeg or ffprobe exits with a nonzero status.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s failed (code %d)", e.Tool, e.Code)
}

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}

func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := execCommand(ctx, name, args...)
	var stdout bytes.Buffer
	stderr := &tailBuffer{max: stderrTailSize}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), wrapExit(ctx, name, err, stderr)
	}
	return stdout.Bytes(), nil
}

// runLines starts name and hands every stdout line to onLine as it arrives.
func runLines(ctx context.Context, name string, args []string, onLine func(string)) error {
	cmd := execCommand(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open %s stdout: %w", name, err)
	}
	stderr := &tailBuffer{max: stderrTailSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		onLine(scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		return wrapExit(ctx, name, err, stderr)
	}
	return nil
}

func wrapExit(ctx context.Context, name string, err error, stderr *tailBuffer) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Tool: name, Code: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	return fmt.Errorf("failed to start %s: %w", name, err)
}
