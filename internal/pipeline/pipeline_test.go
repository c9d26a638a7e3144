package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-telemetry/internal/adapter/csvlog"
	"github.com/couchcryptid/flood-telemetry/internal/adapter/kafka"
	"github.com/couchcryptid/flood-telemetry/internal/adapter/postgres"
	"github.com/couchcryptid/flood-telemetry/internal/alert"
	"github.com/couchcryptid/flood-telemetry/internal/domain"
	"github.com/couchcryptid/flood-telemetry/internal/observability"
	"github.com/couchcryptid/flood-telemetry/internal/pipeline"
	"github.com/couchcryptid/flood-telemetry/internal/transport"
	"github.com/couchcryptid/flood-telemetry/internal/window"
)

var (
	_ alert.Source        = (*pipeline.Worker)(nil)
	_ pipeline.LineSource = (*transport.Reader)(nil)
	_ pipeline.Store      = (*csvlog.Log)(nil)
	_ pipeline.Sink       = (*kafka.Writer)(nil)
	_ pipeline.Sink       = (*postgres.Store)(nil)
)

var testNow = time.Date(2025, time.June, 3, 12, 0, 0, 0, time.UTC)

// --- mocks ---

// scriptSource hands out lines in order and then reports idle forever.
type scriptSource struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

func (s *scriptSource) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return "", nil
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubStore struct {
	err      error
	appended []domain.Reading
}

func (s *stubStore) Append(r domain.Reading) error {
	s.appended = append(s.appended, r)
	return s.err
}

type recordingSink struct {
	name string
	err  error

	mu   sync.Mutex
	got  []domain.Reading
	ctxs []bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(ctx context.Context, r domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	s.ctxs = append(s.ctxs, hasDeadline)
	s.got = append(s.got, r)
	return s.err
}

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func freezeClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(testNow))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func newTransformer(t *testing.T) *pipeline.LineTransformer {
	t.Helper()
	p, err := domain.NewParser(nil, nil, 4)
	require.NoError(t, err)
	return pipeline.NewTransformer(p, domain.NewNormalizer(domain.DefaultPolicy()))
}

type harness struct {
	worker  *pipeline.Worker
	src     *scriptSource
	clock   *clockwork.FakeClock
	metrics *observability.Metrics
}

func newHarness(t *testing.T, store pipeline.Store, lines []string, opts ...pipeline.Option) *harness {
	t.Helper()
	h := &harness{
		src:     &scriptSource{lines: lines},
		clock:   clockwork.NewFakeClockAt(testNow),
		metrics: observability.NewMetricsForTesting(),
	}
	cfg := pipeline.Config{
		Windows:      window.DefaultWindows(),
		PollInterval: time.Second,
		SinkTimeout:  time.Second,
	}
	opts = append([]pipeline.Option{pipeline.WithClock(h.clock)}, opts...)
	h.worker = pipeline.New(h.src, newTransformer(t), store, cfg, testLogger(), h.metrics, opts...)
	return h
}

// drain starts the worker and waits until it has consumed every scripted
// line and is parked on the poll timer.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.worker.Start(context.Background())
	t.Cleanup(h.worker.Stop)
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
}

func openLog(t *testing.T) (*csvlog.Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	l, err := csvlog.Open(path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

// --- tests ---

func TestWorker_DeduplicatesImmediateRepeats(t *testing.T) {
	freezeClock(t)
	log, path := openLog(t)

	a := "rain=0.02 hum=77 level=High"
	b := "rain=0.04 hum=77 level=High"
	h := newHarness(t, log, []string{a, a, "{not json", a, b, a})
	h.drain(t)

	assert.Equal(t, 3, log.Rows())
	assert.Equal(t, 6.0, counterValue(t, h.metrics.LinesRead))
	assert.Equal(t, 3.0, counterValue(t, h.metrics.ReadingsAccepted))
	assert.Equal(t, 2.0, counterValue(t, h.metrics.DuplicatesSuppressed))
	assert.Equal(t, 1.0, counterValue(t, h.metrics.LinesRejected.WithLabelValues("structured")))
	assert.Equal(t, 3.0, counterValue(t, h.metrics.RowsAppended))

	h.worker.Stop()
	res, err := csvlog.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, res.Readings, 3)
	assert.Equal(t, []float64{0.02, 0.04, 0.02}, []float64{
		*res.Readings[0].PrecipitationIn,
		*res.Readings[1].PrecipitationIn,
		*res.Readings[2].PrecipitationIn,
	})
}

func TestWorker_EncodingsCollapseToOneReading(t *testing.T) {
	freezeClock(t)
	log, _ := openLog(t)

	h := newHarness(t, log, []string{
		`{"rain_in":0.02,"hum_pct":77,"temp_f":81.3,"level":"High","lat":27.77,"lon":-97.50}`,
		"rain=0.02 hum=77 tempF=81.3 level=High lat=27.77 lon=-97.50",
		"0.02,77,81.3,High,27.77,-97.50",
		"High",
	})
	h.drain(t)

	assert.Equal(t, 2, log.Rows())
	assert.Equal(t, csvlog.SchemaV2, log.Version())
	assert.Equal(t, 2.0, counterValue(t, h.metrics.DuplicatesSuppressed))

	latest, ok := h.worker.Latest()
	require.True(t, ok)
	assert.Equal(t, domain.LevelHigh, latest.WaterLevel)
	assert.Nil(t, latest.PrecipitationIn)
	assert.False(t, latest.HasLocation())
}

func TestWorker_RejectedLinesProduceNothing(t *testing.T) {
	freezeClock(t)
	store := &stubStore{}
	h := newHarness(t, store, []string{"{broken", "foo=bar", "1,2"})
	h.drain(t)

	assert.Empty(t, store.appended)
	_, ok := h.worker.Latest()
	assert.False(t, ok)
	assert.Equal(t, 1.0, counterValue(t, h.metrics.LinesRejected.WithLabelValues("structured")))
	assert.Equal(t, 1.0, counterValue(t, h.metrics.LinesRejected.WithLabelValues("key_value")))
	assert.Equal(t, 1.0, counterValue(t, h.metrics.LinesRejected.WithLabelValues("fixed_order")))
	assert.Zero(t, counterValue(t, h.metrics.ReadingsAccepted))
}

func TestWorker_TimestampsNeverGoBackwards(t *testing.T) {
	store := &stubStore{}
	h := newHarness(t, store, []string{
		"ts=2025-06-03T12:00:00Z rain=0.1",
		"ts=2025-06-03T11:00:00Z rain=0.2",
		"ts=2025-06-03T12:30:00Z rain=0.3",
	})
	h.drain(t)

	got := h.worker.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, testNow, got[0].Timestamp)
	assert.Equal(t, testNow, got[1].Timestamp)
	assert.Equal(t, testNow.Add(30*time.Minute), got[2].Timestamp)
	assert.Equal(t, got[1].Timestamp, store.appended[1].Timestamp)
}

func TestWorker_FutureWireTimestampIsRestamped(t *testing.T) {
	freezeClock(t)
	store := &stubStore{}
	h := newHarness(t, store, []string{
		"ts=2100-01-01T00:00:00Z rain=0.6",
		"rain=0.0 hum=50",
		"rain=0.0 hum=51",
	})
	h.drain(t)

	got := h.worker.Recent(0)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, testNow, r.Timestamp, "reading %d", i)
	}
	assert.Equal(t, testNow, store.appended[0].Timestamp)
	assert.Equal(t, testNow, h.worker.Aggregates().Ref)
	assert.Equal(t, 1.0, counterValue(t, h.metrics.FutureTimestamps))
}

func TestWorker_SmallClockSkewIsKept(t *testing.T) {
	freezeClock(t)
	h := newHarness(t, &stubStore{}, []string{"ts=2025-06-03T12:03:00Z rain=0.1"})
	h.drain(t)

	latest, ok := h.worker.Latest()
	require.True(t, ok)
	assert.Equal(t, testNow.Add(3*time.Minute), latest.Timestamp)
	assert.Zero(t, counterValue(t, h.metrics.FutureTimestamps))
}

func TestWorker_WindowAggregates(t *testing.T) {
	h := newHarness(t, &stubStore{}, []string{
		"ts=2025-06-03T09:00:00Z rain=0.3 level=Low",
		"ts=2025-06-03T11:30:00Z rain=0.2 level=Nominal",
		"ts=2025-06-03T12:00:00Z rain=0.1 level=High",
	})
	h.drain(t)

	agg := h.worker.Aggregates()
	require.NotNil(t, agg)
	assert.Equal(t, testNow, agg.Ref)

	hour, ok := agg.Get("1h")
	require.True(t, ok)
	assert.Equal(t, 2, hour.Samples)
	require.NotNil(t, hour.Precipitation)
	assert.InDelta(t, 0.3, hour.Precipitation.Sum, 1e-9)
	require.NotNil(t, hour.WaterLevel)
	assert.InDelta(t, 1.5, hour.WaterLevel.Mean, 1e-9)

	three, _ := agg.Get("3h")
	assert.Equal(t, 2, three.Samples, "09:00 is on the excluded boundary")

	day, _ := agg.Get("24h")
	assert.InDelta(t, 0.6, day.Precipitation.Sum, 1e-9)
	assert.Nil(t, day.Humidity)

	state := alert.NewEvaluator(h.worker, alert.DefaultThresholds()).Evaluate()
	assert.Equal(t, []alert.Condition{alert.HighWaterLevel}, state.Conditions())
}

func TestWorker_StoreFailures(t *testing.T) {
	t.Run("sync failure still commits", func(t *testing.T) {
		freezeClock(t)
		store := &stubStore{err: fmt.Errorf("%w: fsync: input/output error", domain.ErrNotDurable)}
		h := newHarness(t, store, []string{"rain=0.1"})
		h.drain(t)

		assert.Equal(t, 1.0, counterValue(t, h.metrics.RowsAppended))
		assert.Equal(t, 1.0, counterValue(t, h.metrics.AppendErrors.WithLabelValues("sync")))
		_, ok := h.worker.Latest()
		assert.True(t, ok)
	})

	t.Run("write failure keeps the live view", func(t *testing.T) {
		freezeClock(t)
		store := &stubStore{err: errors.New("no space left on device")}
		h := newHarness(t, store, []string{"rain=0.1"})
		h.drain(t)

		assert.Zero(t, counterValue(t, h.metrics.RowsAppended))
		assert.Equal(t, 1.0, counterValue(t, h.metrics.AppendErrors.WithLabelValues("write")))
		_, ok := h.worker.Latest()
		assert.True(t, ok)
	})
}

func TestWorker_SinkFailuresDoNotStopIngestion(t *testing.T) {
	freezeClock(t)
	good := &recordingSink{name: "kafka"}
	bad := &recordingSink{name: "postgres", err: errors.New("connection refused")}
	h := newHarness(t, &stubStore{}, []string{"rain=0.1", "rain=0.2"}, pipeline.WithSinks(bad, good))
	h.drain(t)

	assert.Len(t, good.got, 2)
	assert.Len(t, bad.got, 2)
	assert.Equal(t, []bool{true, true}, good.ctxs, "sink writes carry a deadline")
	assert.Equal(t, 2.0, counterValue(t, h.metrics.SinkWrites.WithLabelValues("kafka")))
	assert.Equal(t, 2.0, counterValue(t, h.metrics.SinkErrors.WithLabelValues("postgres")))
	assert.Len(t, h.worker.Recent(0), 2)
}

func TestWorker_StartStopLifecycle(t *testing.T) {
	h := newHarness(t, &stubStore{}, nil)

	select {
	case <-h.worker.Done():
	default:
		t.Fatal("Done should be closed before the first Start")
	}
	h.worker.Stop()

	ctx := context.Background()
	w := h.worker.Start(ctx)
	assert.Same(t, h.worker, w)
	assert.Same(t, h.worker, h.worker.Start(ctx), "second Start is a no-op")
	done := h.worker.Done()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(waitCtx, 1))

	h.worker.Stop()
	h.worker.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.True(t, h.src.isClosed())
}

func TestWorker_ReplayAndReadiness(t *testing.T) {
	h := newHarness(t, &stubStore{}, nil)
	ctx := context.Background()

	require.Error(t, h.worker.CheckReadiness(ctx))

	history := []domain.Reading{
		{Timestamp: testNow.Add(-2 * time.Hour), PrecipitationIn: domain.Float(0.4)},
		{Timestamp: testNow.Add(-30 * time.Minute), PrecipitationIn: domain.Float(0.3)},
		{Timestamp: testNow, PrecipitationIn: domain.Float(0.2), WaterLevel: domain.LevelHigh},
	}
	require.NoError(t, h.worker.Replay(history))

	latest, ok := h.worker.Latest()
	require.True(t, ok)
	assert.Equal(t, testNow, latest.Timestamp)
	hour, _ := h.worker.Aggregates().Get("1h")
	assert.InDelta(t, 0.5, hour.Precipitation.Sum, 1e-9)
	assert.Zero(t, counterValue(t, h.metrics.RowsAppended), "replay never writes")

	assert.EqualError(t, h.worker.CheckReadiness(ctx), "ingestion worker is not running")

	h.drain(t)
	assert.NoError(t, h.worker.CheckReadiness(ctx))
	assert.ErrorIs(t, h.worker.Replay(history), pipeline.ErrRunning)
}

func TestWorker_ReplaySkipsFutureRows(t *testing.T) {
	freezeClock(t)
	h := newHarness(t, &stubStore{}, nil)

	require.NoError(t, h.worker.Replay([]domain.Reading{
		{Timestamp: testNow.Add(-10 * time.Minute), PrecipitationIn: domain.Float(0.1)},
		{Timestamp: testNow.Add(48 * time.Hour), PrecipitationIn: domain.Float(9)},
	}))

	assert.Len(t, h.worker.Recent(0), 1)
	latest, ok := h.worker.Latest()
	require.True(t, ok)
	assert.Equal(t, testNow.Add(-10*time.Minute), latest.Timestamp)
	assert.Equal(t, 1.0, counterValue(t, h.metrics.FutureTimestamps))
}

func TestWorker_ReadinessNeedsAReading(t *testing.T) {
	h := newHarness(t, &stubStore{}, nil)
	h.drain(t)
	assert.EqualError(t, h.worker.CheckReadiness(context.Background()), "no readings received yet")
}
