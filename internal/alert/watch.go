package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
	"github.com/couchcryptid/flood-telemetry/internal/window"
)

// Source supplies the inputs of an evaluation. The ingestion worker
// implements it over its published snapshots.
type Source interface {
	Latest() (domain.Reading, bool)
	Aggregates() *window.Aggregates
}

// Evaluator evaluates the rule set against a Source on demand.
type Evaluator struct {
	src Source
	th  Thresholds
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(src Source, th Thresholds) *Evaluator {
	return &Evaluator{src: src, th: th}
}

// Evaluate returns the current alert state.
func (e *Evaluator) Evaluate() State {
	var latest *domain.Reading
	if r, ok := e.src.Latest(); ok {
		latest = &r
	}
	return Evaluate(latest, e.src.Aggregates(), e.th)
}

// Thresholds returns the configured thresholds.
func (e *Evaluator) Thresholds() Thresholds {
	return e.th
}

// Publisher delivers alert state changes to an external collaborator.
type Publisher interface {
	Publish(ctx context.Context, s State) error
}

// MultiPublisher delivers a state to every publisher in order. A failure
// does not stop the rest; the errors are joined.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(ctx context.Context, s State) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Watcher polls an Evaluator and publishes only when the set of active
// conditions changes. The first successful evaluation is always published.
type Watcher struct {
	eval     *Evaluator
	pub      Publisher
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger

	lastKey   string
	published bool
}

// NewWatcher creates a Watcher. A nil clock uses real time.
func NewWatcher(eval *Evaluator, pub Publisher, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{eval: eval, pub: pub, interval: interval, clock: clock, logger: logger}
}

// Run checks once immediately and then on every interval until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("alert watcher started", "interval", w.interval)
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Check(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("publish alert state failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("alert watcher stopped")
			return
		case <-ticker.Chan():
		}
	}
}

// Check evaluates once and publishes when the condition set differs from the
// last published one. A failed publish is retried on the next check.
func (w *Watcher) Check(ctx context.Context) (bool, error) {
	s := w.eval.Evaluate()
	key := s.Key()
	if w.published && key == w.lastKey {
		return false, nil
	}
	if err := w.pub.Publish(ctx, s); err != nil {
		return false, err
	}
	w.logger.Info("alert state changed", "nominal", s.Nominal, "conditions", key)
	w.lastKey = key
	w.published = true
	return true, nil
}
