package transcoder

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

const stderrTailSize = 4096

// run executes binary and waits for it to exit.
// On cancellation the whole process group is killed; run still returns
// only after the process is gone, so no handle on the outputs survives.
func (r *FFmpegRunner) run(ctx context.Context, binary string, args []string, stdout io.Writer) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s cancelled: %w", filepath.Base(binary), context.Cause(ctx))
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	stderr := &tailBuffer{max: stderrTailSize}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd, r.config.KillGracePeriod)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", filepath.Base(binary), context.Cause(ctx))
		}
		if msg := stderr.String(); msg != "" {
			return fmt.Errorf("%s execution failed: %w: %s", filepath.Base(binary), err, msg)
		}
		return fmt.Errorf("%s execution failed: %w", filepath.Base(binary), err)
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
