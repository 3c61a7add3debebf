package transcode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	ioutils "github.com/handiism/multipartus-downloader/internal/io"
	"github.com/handiism/multipartus-downloader/internal/model"
)

const (
	partSuffix         = ".part"
	progressTimePrefix = "out_time_us="
	stderrTailBytes    = 2048
)

// DefaultGracePeriod is how long ffmpeg gets to exit after an interrupt.
const DefaultGracePeriod = 5 * time.Second

// Request describes one transcode.
type Request struct {
	// Inputs are the per-view playlists, view 1 first.
	Inputs []string

	// Output is the final .mp4 path.
	Output string

	Quality model.Quality

	// Duration of the lecture, used to turn ffmpeg's position into a
	// fraction. Zero disables progress reporting.
	Duration time.Duration
}

// ExitError is a non-zero exit of the media tool.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffmpeg exited with code %d", e.Code)
	}
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.Code, e.Stderr)
}

// Invoker runs ffmpeg.
type Invoker struct {
	path   string
	grace  time.Duration
	logger logrus.FieldLogger

	// leadArgs precede the ffmpeg arguments; tests use them to re-enter
	// the test binary.
	leadArgs []string
}

// New returns an Invoker for the ffmpeg binary at path.
func New(path string, logger logrus.FieldLogger) *Invoker {
	if path == "" {
		path = "ffmpeg"
	}
	return &Invoker{path: path, grace: DefaultGracePeriod, logger: logger}
}

// Available reports whether the binary can be found.
func (inv *Invoker) Available() error {
	_, err := exec.LookPath(inv.path)
	return err
}

// Args returns the ffmpeg arguments muxing the view playlists into output.
func Args(inputs []string, output string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-nostats", "-progress", "pipe:1"}
	for _, in := range inputs {
		args = append(args, "-allowed_extensions", "ALL", "-i", in)
	}
	if len(inputs) > 1 {
		for i := range inputs {
			args = append(args, "-map", strconv.Itoa(i))
		}
	}
	return append(args, "-c", "copy", "-f", "mp4", output)
}

// Run transcodes req. progress, if non-nil, receives fractions in 0..1.
//
// Errors are *model.TranscodeError, except cancellation through ctx which
// returns model.ErrCancelled. The partial output is removed in both cases.
func (inv *Invoker) Run(ctx context.Context, req Request, progress func(float64)) error {
	if len(req.Inputs) == 0 {
		return &model.TranscodeError{Err: errors.New("no input playlists")}
	}
	if err := ioutils.EnsureDir(filepath.Dir(req.Output)); err != nil {
		return &model.TranscodeError{Err: err}
	}

	part := req.Output + partSuffix
	args := append(append([]string(nil), inv.leadArgs...), Args(req.Inputs, part)...)

	cmd := exec.CommandContext(ctx, inv.path, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = inv.grace

	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &model.TranscodeError{Err: err}
	}

	log := inv.logger.WithFields(logrus.Fields{"output": req.Output, "inputs": len(req.Inputs), "quality": req.Quality})
	log.Debug("starting ffmpeg")

	if err := cmd.Start(); err != nil {
		return &model.TranscodeError{Err: fmt.Errorf("starting ffmpeg: %w", err)}
	}

	// All reads must finish before Wait closes the pipe.
	monitorProgress(stdout, req.Duration, progress)
	err = cmd.Wait()

	if ctx.Err() != nil {
		os.Remove(part)
		log.Info("ffmpeg interrupted")
		return model.ErrCancelled
	}

	if err != nil {
		os.Remove(part)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &model.TranscodeError{Err: &ExitError{Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}}
		}
		return &model.TranscodeError{Err: err}
	}

	if !ioutils.FileExists(part) {
		return &model.TranscodeError{Err: errors.New("ffmpeg produced no output")}
	}
	if err := os.Rename(part, req.Output); err != nil {
		os.Remove(part)
		return &model.TranscodeError{Err: err}
	}

	if progress != nil {
		progress(1)
	}
	log.Info("transcode finished")
	return nil
}

// monitorProgress parses ffmpeg's -progress output until EOF.
func monitorProgress(r io.Reader, total time.Duration, progress func(float64)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if progress == nil || total <= 0 {
			continue
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, progressTimePrefix) {
			continue
		}
		us, err := strconv.ParseInt(strings.TrimPrefix(line, progressTimePrefix), 10, 64)
		if err != nil || us < 0 {
			continue
		}

		fraction := float64(us) * float64(time.Microsecond) / float64(total)
		progress(min(fraction, 1))
	}
	// Drain whatever is left so ffmpeg never blocks on a full pipe.
	io.Copy(io.Discard, r)
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
	return string(b.buf)
}
