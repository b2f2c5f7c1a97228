package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/localwatch/internal/metrics"
	"github.com/m1k1o/localwatch/pkg/cachekey"
)

const progressBuffer = 32

type flight struct {
	done chan struct{}
	err  error

	artifact cachekey.Artifact
	produce  ProduceFunc
	slot     bool // holds a background worker, guarded by registry mu

	jobMu sync.RWMutex
	job   Job
}

func (f *flight) snapshot() Job {
	f.jobMu.RLock()
	defer f.jobMu.RUnlock()
	return f.job
}

func (f *flight) update(fn func(job *Job)) {
	f.jobMu.Lock()
	fn(&f.job)
	f.jobMu.Unlock()
}

type RegistryCtx struct {
	logger zerolog.Logger
	config Config

	mu      sync.Mutex
	flights map[cachekey.Key]*flight
	queue   []*flight // background flights waiting for a worker
	running int       // background flights holding a worker
	history []Job     // most recent first
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

func New(config Config) *RegistryCtx {
	ctx, cancel := context.WithCancel(context.Background())
	return &RegistryCtx{
		logger:  log.With().Str("module", "jobs").Str("submodule", "registry").Logger(),
		config:  config.withDefaultValues(),
		flights: map[cachekey.Key]*flight{},

		ctx:    ctx,
		cancel: cancel,

		now: time.Now,
	}
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Ticket is a handle on a submitted derivation.
type Ticket struct {
	artifact cachekey.Artifact
	flight   *flight
	err      error // resolved at submission
}

// Wait returns once the artifact exists or its production failed.
// Canceling ctx only stops waiting, the producer keeps running.
func (t *Ticket) Wait(ctx context.Context) (cachekey.Artifact, error) {
	if t.flight == nil {
		return t.artifact, t.err
	}

	select {
	case <-t.flight.done:
		return t.artifact, t.flight.err
	case <-ctx.Done():
		return t.artifact, ctx.Err()
	}
}

// Ensure returns once the artifact exists at its canonical path. At most
// one producer runs per key, other callers wait for its result.
func (r *RegistryCtx) Ensure(ctx context.Context, artifact cachekey.Artifact, reason Reason, produce ProduceFunc) (cachekey.Artifact, error) {
	return r.Submit(artifact, reason, produce).Wait(ctx)
}

// Submit registers production of the artifact without waiting for it.
// Background flights are queued in submission order and run on a bounded
// number of workers. On-demand flights start at once, and take a queued
// background flight for the same key along with them.
func (r *RegistryCtx) Submit(artifact cachekey.Artifact, reason Reason, produce ProduceFunc) *Ticket {
	if exists(artifact.AbsPath) {
		r.recordHit(artifact, reason)
		return &Ticket{artifact: artifact}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &Ticket{artifact: artifact, err: ErrShutdown}
	}

	if f, ok := r.flights[artifact.Key]; ok {
		if reason == ReasonOnDemand {
			r.promote(f)
		}
		r.mu.Unlock()
		return &Ticket{artifact: artifact, flight: f}
	}

	// a producer may have finished between the first check and the lock
	if exists(artifact.AbsPath) {
		r.mu.Unlock()
		r.recordHit(artifact, reason)
		return &Ticket{artifact: artifact}
	}

	f := &flight{
		done:     make(chan struct{}),
		artifact: artifact,
		produce:  produce,
		job: Job{
			ID:       ulid.Make().String(),
			Key:      artifact.Key.Hash(),
			RelPath:  artifact.Key.RelPath,
			Artifact: artifact.RelPath,
			Reason:   reason,
			Stage:    StageQueued,
			QueuedAt: r.now(),
		},
	}

	r.flights[artifact.Key] = f
	r.wg.Add(1)

	if reason == ReasonBackground && r.running >= r.config.BackgroundWorkers {
		r.queue = append(r.queue, f)
	} else {
		r.start(f)
	}
	r.mu.Unlock()

	return &Ticket{artifact: artifact, flight: f}
}

// start must be called with r.mu held.
func (r *RegistryCtx) start(f *flight) {
	f.slot = f.snapshot().Reason == ReasonBackground
	if f.slot {
		r.running++
	}
	go r.run(f)
}

// promote must be called with r.mu held.
func (r *RegistryCtx) promote(f *flight) {
	for i, queued := range r.queue {
		if queued != f {
			continue
		}

		r.queue = append(r.queue[:i], r.queue[i+1:]...)
		f.update(func(job *Job) {
			job.Reason = ReasonOnDemand
		})

		r.logger.Debug().Str("source", f.artifact.Key.RelPath).Msg("queued derivation requested, starting now")
		r.start(f)
		return
	}
}

// startNext must be called with r.mu held.
func (r *RegistryCtx) startNext() {
	for !r.closed && len(r.queue) > 0 && r.running < r.config.BackgroundWorkers {
		f := r.queue[0]
		r.queue = r.queue[1:]
		r.start(f)
	}
}

func (r *RegistryCtx) run(f *flight) {
	defer r.wg.Done()

	artifact := f.artifact

	started := r.now()
	f.update(func(job *Job) {
		job.Stage = StageRunning
		job.StartedAt = &started
	})

	job := f.snapshot()
	logger := r.logger.With().
		Str("id", job.ID).
		Str("source", artifact.Key.RelPath).
		Str("reason", string(job.Reason)).
		Logger()

	logger.Info().Str("artifact", artifact.RelPath).Msg("derivation started")
	metrics.DerivationsActive.Inc()

	progress := make(chan Progress, progressBuffer)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for p := range progress {
			p := p
			f.update(func(job *Job) {
				if p.Percent != nil {
					job.Percent = p.Percent
				}
				if p.Timemark != "" {
					job.Timemark = p.Timemark
				}
			})
		}
	}()

	err := r.produce(f.produce, progress)
	close(progress)
	<-consumed

	if err == nil && !exists(artifact.AbsPath) {
		err = errors.New("producer finished without creating the artifact")
	}

	finished := r.now()
	f.update(func(job *Job) {
		job.FinishedAt = &finished
		if err != nil {
			job.Stage = StageError
			job.Error = err.Error()
		} else {
			job.Stage = StageDone
			job.Percent = Percent(100)
		}
	})

	metrics.DerivationsActive.Dec()
	metrics.DerivationDuration.WithLabelValues(string(job.Reason)).Observe(finished.Sub(started).Seconds())

	if err != nil {
		metrics.DerivationsTotal.WithLabelValues(string(job.Reason), "error").Inc()
		logger.Warn().Err(err).Dur("took", finished.Sub(started)).Msg("derivation failed")
	} else {
		metrics.DerivationsTotal.WithLabelValues(string(job.Reason), "ok").Inc()
		logger.Info().Dur("took", finished.Sub(started)).Msg("derivation finished")
	}

	// retire before waking waiters, so that a new caller either sees
	// this flight or the finished artifact
	r.mu.Lock()
	delete(r.flights, artifact.Key)
	r.pushHistory(f.snapshot())
	if f.slot {
		r.running--
		r.startNext()
	}
	r.mu.Unlock()

	f.err = err
	close(f.done)
}

func (r *RegistryCtx) produce(produce ProduceFunc, progress chan<- Progress) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("producer panicked: %v", rec)
		}
	}()

	return produce(r.ctx, progress)
}

func (r *RegistryCtx) recordHit(artifact cachekey.Artifact, reason Reason) {
	metrics.CacheHitsTotal.Inc()

	key := artifact.Key.Hash()

	r.mu.Lock()
	defer r.mu.Unlock()

	// the job that produced the artifact stays in history
	for _, j := range r.history {
		if j.Key == key {
			return
		}
	}

	now := r.now()
	r.pushHistory(Job{
		ID:         ulid.Make().String(),
		Key:        key,
		RelPath:    artifact.Key.RelPath,
		Artifact:   artifact.RelPath,
		Reason:     reason,
		Stage:      StageDone,
		Percent:    Percent(100),
		Cached:     true,
		QueuedAt:   now,
		StartedAt:  &now,
		FinishedAt: &now,
	})
}

// pushHistory must be called with r.mu held.
func (r *RegistryCtx) pushHistory(job Job) {
	history := make([]Job, 0, len(r.history)+1)
	history = append(history, job)
	for _, j := range r.history {
		if j.Key == job.Key {
			continue
		}
		history = append(history, j)
	}

	r.history = r.trim(history)
}

// trim must be called with r.mu held.
func (r *RegistryCtx) trim(history []Job) []Job {
	deadline := r.now().Add(-r.config.HistoryTTL)

	kept := history[:0]
	for _, j := range history {
		if len(kept) >= r.config.HistorySize {
			break
		}
		if j.FinishedAt != nil && j.FinishedAt.Before(deadline) {
			continue
		}
		kept = append(kept, j)
	}

	return kept
}

// Status is a point in time snapshot, it never waits for a producer.
func (r *RegistryCtx) Status() Status {
	r.mu.Lock()
	flights := make([]*flight, 0, len(r.flights))
	for _, f := range r.flights {
		flights = append(flights, f)
	}
	r.history = r.trim(r.history)
	recent := make([]Job, len(r.history))
	copy(recent, r.history)
	r.mu.Unlock()

	active := make([]Job, 0, len(flights))
	for _, f := range flights {
		active = append(active, f.snapshot())
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].QueuedAt.Before(active[j].QueuedAt)
	})

	return Status{
		Active: active,
		Recent: recent,
	}
}

// Active reports whether a flight is queued or running for key.
func (r *RegistryCtx) Active(key cachekey.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.flights[key]
	return ok
}

// Shutdown drops queued flights, cancels running producers and waits for
// them to return.
func (r *RegistryCtx) Shutdown() error {
	r.mu.Lock()
	r.closed = true
	queued := r.queue
	r.queue = nil
	for _, f := range queued {
		delete(r.flights, f.artifact.Key)
	}
	r.mu.Unlock()

	for _, f := range queued {
		f.err = ErrShutdown
		close(f.done)
		r.wg.Done()
	}

	r.cancel()
	r.wg.Wait()
	return nil
}
