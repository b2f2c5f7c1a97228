package jobs

import (
	"context"
	"errors"
	"time"
)

var ErrShutdown = errors.New("registry is shut down")

type Stage string

const (
	StageQueued  Stage = "queued"
	StageRunning Stage = "running"
	StageDone    Stage = "done"
	StageError   Stage = "error"
)

type Reason string

const (
	ReasonOnDemand   Reason = "on-demand"
	ReasonBackground Reason = "background"
)

// Progress is a single update pushed by a producer. Percent is nil when
// the producer only knows the timemark.
type Progress struct {
	Percent  *float64
	Timemark string
}

// ProduceFunc creates the artifact. It must not send on progress after
// it returns.
type ProduceFunc func(ctx context.Context, progress chan<- Progress) error

type Job struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	RelPath    string     `json:"rel_path"`
	Artifact   string     `json:"artifact"`
	Reason     Reason     `json:"reason"`
	Stage      Stage      `json:"stage"`
	Percent    *float64   `json:"percent"`
	Cached     bool       `json:"cached,omitempty"` // artifact already existed
	Timemark   string     `json:"timemark,omitempty"`
	QueuedAt   time.Time  `json:"queued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type Status struct {
	Active []Job `json:"active"`
	Recent []Job `json:"recent"`
}

type Config struct {
	HistorySize       int
	HistoryTTL        time.Duration
	BackgroundWorkers int // concurrent background producers
}

func (c Config) withDefaultValues() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = 6 * time.Hour
	}
	if c.BackgroundWorkers <= 0 {
		c.BackgroundWorkers = 1
	}
	return c
}

// Report pushes progress without blocking, the update is dropped when
// the consumer is behind.
func Report(progress chan<- Progress, p Progress) {
	if progress == nil {
		return
	}

	select {
	case progress <- p:
	default:
	}
}

func Percent(v float64) *float64 {
	return &v
}
