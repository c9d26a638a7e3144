package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
	"github.com/couchcryptid/flood-telemetry/internal/observability"
	"github.com/couchcryptid/flood-telemetry/internal/window"
)

// ErrRunning is returned by operations that need a stopped worker.
var ErrRunning = errors.New("ingestion worker is running")

// LineSource yields raw lines from the sensor link. An empty line with a nil
// error means no data arrived within the read timeout.
type LineSource interface {
	ReadLine(ctx context.Context) (string, error)
	Close() error
}

// Transformer converts a raw line into a Reading.
type Transformer interface {
	Transform(line string) (domain.Reading, domain.Encoding, error)
}

// Store is the durable record store. An error wrapping domain.ErrNotDurable
// means the row was written but not synced.
type Store interface {
	Append(r domain.Reading) error
}

// Sink receives every accepted reading after it has been stored. Failures
// are counted and logged, never retried.
type Sink interface {
	Name() string
	Write(ctx context.Context, r domain.Reading) error
}

// DefaultMaxFutureSkew is how far ahead of the ingestion clock a wire
// timestamp may be before it is replaced.
const DefaultMaxFutureSkew = 5 * time.Minute

// Config holds the worker's tuning knobs.
type Config struct {
	Windows       []window.Window
	MaxSamples    int
	PollInterval  time.Duration
	SinkTimeout   time.Duration
	MaxFutureSkew time.Duration
}

// Option customizes a Worker.
type Option func(*Worker)

// WithSinks attaches optional downstream sinks.
func WithSinks(sinks ...Sink) Option {
	return func(w *Worker) { w.sinks = append(w.sinks, sinks...) }
}

// WithClock replaces the clock used for poll sleeps and timing.
func WithClock(c clockwork.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// Worker owns one ingestion loop: it reads lines, turns them into readings,
// persists and forwards them, and maintains the in-memory series and window
// aggregates. Pull consumers read immutable snapshots and never block the
// loop.
type Worker struct {
	src         LineSource
	transformer Transformer
	store       Store
	sinks       []Sink
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock

	pollInterval  time.Duration
	sinkTimeout   time.Duration
	maxFutureSkew time.Duration

	// Owned by the loop goroutine.
	dedup   Deduplicator
	set     *window.Set
	lastTS  time.Time
	series  *window.Series
	agg     atomic.Pointer[window.Aggregates]
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped Worker.
func New(src LineSource, t Transformer, store Store, cfg Config, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	if cfg.MaxFutureSkew <= 0 {
		cfg.MaxFutureSkew = DefaultMaxFutureSkew
	}
	w := &Worker{
		src:           src,
		transformer:   t,
		store:         store,
		logger:        logger,
		metrics:       metrics,
		clock:         clockwork.NewRealClock(),
		pollInterval:  cfg.PollInterval,
		sinkTimeout:   cfg.SinkTimeout,
		maxFutureSkew: cfg.MaxFutureSkew,
		set:           window.NewSet(cfg.Windows),
		series:        window.NewSeries(window.Longest(cfg.Windows), cfg.MaxSamples),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.agg.Store(w.set.Snapshot())
	return w
}

// Replay loads previously stored readings into the series and windows
// without writing them anywhere. It is meant for warm start and fails while
// the worker is running. Rows too far ahead of the ingestion clock are
// skipped so they cannot pin the series in the future.
func (w *Worker) Replay(readings []domain.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunningLocked() {
		return ErrRunning
	}
	limit := domain.Now().Add(w.maxFutureSkew)
	skipped := 0
	for _, r := range readings {
		if r.Timestamp.After(limit) {
			skipped++
			continue
		}
		if r.Timestamp.Before(w.lastTS) {
			r.Timestamp = w.lastTS
		}
		w.lastTS = r.Timestamp
		w.series.Add(r)
		w.set.Push(r)
	}
	w.agg.Store(w.set.Snapshot())
	w.metrics.SeriesSize.Set(float64(w.series.Len()))
	if skipped > 0 {
		w.metrics.FutureTimestamps.Add(float64(skipped))
		w.logger.Warn("skipped stored readings ahead of the clock", "count", skipped, "limit", limit)
	}
	if n := len(readings) - skipped; n > 0 {
		w.logger.Info("replayed stored readings", "count", n, "through", w.lastTS)
	}
	return nil
}

// Start launches the ingestion loop. Calling Start on a running worker is a
// no-op. Each start begins a fresh deduplication lifetime.
func (w *Worker) Start(ctx context.Context) *Worker {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunningLocked() {
		return w
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.dedup.Reset()
	w.running.Store(true)
	go w.run(runCtx, w.done)
	return w
}

// Stop cancels the loop and waits for it to exit. It is safe to call more
// than once.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop exits. Before the first Start it is already
// closed.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return w.done
}

func (w *Worker) isRunningLocked() bool {
	if w.done == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// CheckReadiness reports ready once the loop is running and at least one
// reading is held, live or replayed.
func (w *Worker) CheckReadiness(_ context.Context) error {
	if !w.running.Load() {
		return errors.New("ingestion worker is not running")
	}
	if w.series.Len() == 0 {
		return errors.New("no readings received yet")
	}
	return nil
}

// Latest returns the newest accepted reading.
func (w *Worker) Latest() (domain.Reading, bool) {
	return w.series.Latest()
}

// Recent returns up to n of the newest readings, oldest first.
func (w *Worker) Recent(n int) []domain.Reading {
	return w.series.Recent(n)
}

// Aggregates returns the window aggregates as of the latest reading.
func (w *Worker) Aggregates() *window.Aggregates {
	return w.agg.Load()
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer w.running.Store(false)

	w.logger.Info("ingestion worker started", "poll_interval", w.pollInterval, "sinks", len(w.sinks))
	w.metrics.WorkerRunning.Set(1)
	defer w.metrics.WorkerRunning.Set(0)

	defer func() {
		if err := w.src.Close(); err != nil {
			w.logger.Warn("close transport failed", "error", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			w.logger.Info("ingestion worker stopping", "reason", ctx.Err())
			return
		}

		line, err := w.src.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("read line failed", "error", err)
		}
		if err != nil || line == "" {
			sleepWithContext(ctx, w.clock, w.pollInterval)
			continue
		}

		w.processLine(ctx, line)
	}
}

// processLine runs the per-line sequence: parse, normalize, dedup, append,
// sinks, then the in-memory series and windows.
func (w *Worker) processLine(ctx context.Context, line string) {
	start := w.clock.Now()
	w.metrics.LinesRead.Inc()

	r, enc, err := w.transformer.Transform(line)
	if err != nil {
		w.metrics.LinesRejected.WithLabelValues(enc.String()).Inc()
		w.logger.Debug("line rejected", "error", err, "encoding", enc.String(), "line", line)
		return
	}

	// A wire clock far ahead would otherwise hold every later reading at
	// its timestamp through the monotonic clamp below.
	if now := domain.Now(); r.Timestamp.After(now.Add(w.maxFutureSkew)) {
		w.metrics.FutureTimestamps.Inc()
		w.logger.Warn("wire timestamp ahead of the clock, restamped", "wire", r.Timestamp, "now", now)
		r.Timestamp = now
	}
	if r.Timestamp.Before(w.lastTS) {
		r.Timestamp = w.lastTS
	}
	if !w.dedup.Accept(r) {
		w.metrics.DuplicatesSuppressed.Inc()
		return
	}
	w.lastTS = r.Timestamp

	w.append(r)
	w.forward(ctx, r)

	w.series.Add(r)
	w.set.Push(r)
	w.agg.Store(w.set.Snapshot())

	w.metrics.ReadingsAccepted.Inc()
	w.metrics.SeriesSize.Set(float64(w.series.Len()))
	w.metrics.LineProcessingDuration.Observe(w.clock.Since(start).Seconds())
}

// append writes the reading to the record store. A write failure leaves the
// reading out of the file but it still reaches the live series.
func (w *Worker) append(r domain.Reading) {
	err := w.store.Append(r)
	switch {
	case err == nil:
		w.metrics.RowsAppended.Inc()
	case errors.Is(err, domain.ErrNotDurable):
		w.metrics.RowsAppended.Inc()
		w.metrics.AppendErrors.WithLabelValues("sync").Inc()
		w.logger.Warn("record store sync failed", "error", err, "timestamp", r.Timestamp)
	default:
		w.metrics.AppendErrors.WithLabelValues("write").Inc()
		w.logger.Error("record store append failed", "error", err, "timestamp", r.Timestamp)
	}
}

func (w *Worker) forward(ctx context.Context, r domain.Reading) {
	for _, s := range w.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		err := s.Write(sinkCtx, r)
		cancel()
		if err != nil {
			w.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			w.logger.Warn("sink write failed", "sink", s.Name(), "error", err)
			continue
		}
		w.metrics.SinkWrites.WithLabelValues(s.Name()).Inc()
	}
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
