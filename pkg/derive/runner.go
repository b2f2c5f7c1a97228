package derive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/localwatch/internal/utils"
)

var ErrProductionFailed = errors.New("production failed")

// Runner executes the transcoder. Every stdout line is passed to onLine.
type Runner interface {
	Run(ctx context.Context, args []string, onLine func(line string)) error
}

// Streamer executes the transcoder writing its stdout to w.
type Streamer interface {
	Stream(ctx context.Context, args []string, w io.Writer) error
}

const stderrTailLines = 8

type FFmpeg struct {
	logger zerolog.Logger
	binary string
}

func NewFFmpeg(binary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}

	return &FFmpeg{
		logger: log.With().Str("module", "derive").Str("submodule", "ffmpeg").Logger(),
		binary: binary,
	}
}

// tail keeps last stderr lines for error reports.
type tail struct {
	mu    sync.Mutex
	lines []string
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lines = append(t.lines, line)
	if len(t.lines) > stderrTailLines {
		t.lines = t.lines[len(t.lines)-stderrTailLines:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "; ")
}

func (f *FFmpeg) Run(ctx context.Context, args []string, onLine func(line string)) error {
	cmd := exec.CommandContext(ctx, f.binary, args...)
	processGroup(cmd, f.logger)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	errTail := &tail{}
	wg := sync.WaitGroup{}
	wg.Add(2)

	// handle stdout
	go func() {
		defer wg.Done()

		err := utils.ScanLines(stdout, func(line string) {
			if onLine != nil {
				onLine(line)
			}
		})
		if err != nil {
			f.logger.Err(err).Msg("error while reading ffmpeg stdout")
		}
	}()

	// handle stderr
	go func() {
		defer wg.Done()

		err := utils.ScanLines(stderr, func(line string) {
			errTail.add(line)
			f.logger.Warn().Msg(line)
		})
		if err != nil {
			f.logger.Err(err).Msg("error while reading ffmpeg stderr")
		}
	}()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: unable to start ffmpeg: %v", ErrProductionFailed, err)
	}

	f.logger.Debug().Strs("args", args).Msg("ffmpeg started")

	// pipes must be drained before wait
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrProductionFailed, ctx.Err())
		}
		return fmt.Errorf("%w: ffmpeg exited: %v: %s", ErrProductionFailed, err, errTail.String())
	}

	return nil
}

func (f *FFmpeg) Stream(ctx context.Context, args []string, w io.Writer) error {
	cmd := exec.CommandContext(ctx, f.binary, args...)
	processGroup(cmd, f.logger)
	cmd.Stdout = w
	cmd.Stderr = utils.LogWriter(f.logger)

	f.logger.Debug().Strs("args", args).Msg("ffmpeg stream started")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg stream: %w", err)
	}

	return nil
}
