package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/devports/procwatch/pkg/logging"
)

// Runner executes an OS diagnostic command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// OSRunner runs commands on the host with a timeout and a stdout cap.
type OSRunner struct {
	Timeout   time.Duration
	MaxOutput int
	Logger    log.FieldLogger
}

const stderrLimit = 64 << 10

func (r OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 500 * time.Millisecond
	stdout := &cappedBuffer{limit: r.MaxOutput}
	stderr := &cappedBuffer{limit: stderrLimit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if stdout.truncated {
		logging.OrDiscard(r.Logger).WithFields(log.Fields{
			"command": name,
			"limit":   r.MaxOutput,
		}).Warn("command output exceeded limit, truncated")
	}
	out := stdout.Bytes()
	if ctx.Err() != nil {
		return out, fmt.Errorf("%s: %w", name, ctx.Err())
	}
	if err != nil {
		if msg := strings.TrimSpace(string(stderr.Bytes())); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// cappedBuffer keeps at most limit bytes and silently drops the rest so the
// child never sees a broken pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

// Bytes returns the captured output. Truncated output is cut back to the last
// complete line so a half-written record is never parsed.
func (b *cappedBuffer) Bytes() []byte {
	data := b.buf.Bytes()
	if !b.truncated {
		return data
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		return data[:i+1]
	}
	return nil
}

// exitCode extracts the exit status from a runner error, or -1.
func exitCode(err error) int {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}
