package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
	"github.com/couchcryptid/flood-telemetry/internal/window"
)

var testNow = time.Date(2025, time.June, 3, 12, 0, 0, 0, time.UTC)

func aggregates(rain1h, rain24h *float64) *window.Aggregates {
	stat := func(v *float64) *window.Stat {
		if v == nil {
			return nil
		}
		return &window.Stat{Count: 1, Sum: *v, Mean: *v}
	}
	return &window.Aggregates{
		Ref: testNow,
		Windows: []window.Summary{
			{Window: "1h", Precipitation: stat(rain1h)},
			{Window: "24h", Precipitation: stat(rain24h)},
		},
	}
}

func TestEvaluate_Example(t *testing.T) {
	latest := &domain.Reading{
		Timestamp:    testNow,
		WaterLevel:   domain.LevelHigh,
		TemperatureF: domain.Float(80),
	}
	s := Evaluate(latest, aggregates(domain.Float(0.6), domain.Float(1.0)), DefaultThresholds())

	assert.False(t, s.Nominal)
	assert.Equal(t, []Condition{HeavyRainRate, HighWaterLevel}, s.Conditions())
	assert.False(t, s.Has(HighTemperature))
	assert.False(t, s.Has(High24hTotal))
	assert.Equal(t, testNow, s.EvaluatedAt)

	for _, tr := range s.Active {
		if tr.Condition == HeavyRainRate {
			assert.InDelta(t, 0.6, tr.Value, 1e-9)
			assert.Equal(t, 0.5, tr.Threshold)
			assert.Equal(t, "1h", tr.Window)
		}
	}
}

func TestEvaluate_AllFire(t *testing.T) {
	latest := &domain.Reading{
		Timestamp:    testNow,
		WaterLevel:   domain.LevelHigh,
		TemperatureF: domain.Float(95),
		HumidityPct:  domain.Float(90),
	}
	s := Evaluate(latest, aggregates(domain.Float(0.5), domain.Float(2.0)), DefaultThresholds())
	assert.Len(t, s.Active, 5)
	assert.Equal(t, "heavy_rain_rate,high_24h_total,high_humidity,high_temperature,high_water_level", s.Key())
}

func TestEvaluate_Nominal(t *testing.T) {
	t.Run("quiet readings", func(t *testing.T) {
		latest := &domain.Reading{
			Timestamp:    testNow,
			WaterLevel:   domain.LevelNominal,
			TemperatureF: domain.Float(70),
			HumidityPct:  domain.Float(50),
		}
		s := Evaluate(latest, aggregates(domain.Float(0.1), domain.Float(0.4)), DefaultThresholds())
		assert.True(t, s.Nominal)
		assert.NotNil(t, s.Active)
		assert.Empty(t, s.Active)
		assert.Empty(t, s.Key())
	})

	t.Run("absent inputs never fire", func(t *testing.T) {
		latest := &domain.Reading{Timestamp: testNow, WaterLevel: domain.LevelUnknown}
		th := DefaultThresholds()
		th.LevelOrdinal = 1
		s := Evaluate(latest, aggregates(nil, nil), th)
		assert.True(t, s.Nominal)
	})

	t.Run("no data at all", func(t *testing.T) {
		s := Evaluate(nil, nil, DefaultThresholds())
		assert.True(t, s.Nominal)
		assert.True(t, s.EvaluatedAt.IsZero())
	})

	t.Run("unknown window name", func(t *testing.T) {
		th := DefaultThresholds()
		th.RateWindow = "15m"
		s := Evaluate(nil, aggregates(domain.Float(9), nil), th)
		assert.True(t, s.Nominal)
	})
}

type stubSource struct {
	mu     sync.Mutex
	latest *domain.Reading
	agg    *window.Aggregates
}

func (s *stubSource) Latest() (domain.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return domain.Reading{}, false
	}
	return *s.latest, true
}

func (s *stubSource) Aggregates() *window.Aggregates {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg
}

func (s *stubSource) set(level domain.WaterLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &domain.Reading{Timestamp: testNow, WaterLevel: level}
}

type recordingPublisher struct {
	mu     sync.Mutex
	states []State
	err    error
	sent   chan State
}

func (p *recordingPublisher) Publish(_ context.Context, s State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.states = append(p.states, s)
	if p.sent != nil {
		p.sent <- s
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcher_Check(t *testing.T) {
	src := &stubSource{}
	src.set(domain.LevelLow)
	pub := &recordingPublisher{}
	w := NewWatcher(NewEvaluator(src, DefaultThresholds()), pub, time.Second, nil, discardLogger())
	ctx := context.Background()

	sent, err := w.Check(ctx)
	require.NoError(t, err)
	assert.True(t, sent, "first evaluation is always published")

	sent, err = w.Check(ctx)
	require.NoError(t, err)
	assert.False(t, sent)

	src.set(domain.LevelHigh)
	sent, err = w.Check(ctx)
	require.NoError(t, err)
	assert.True(t, sent)

	require.Len(t, pub.states, 2)
	assert.True(t, pub.states[0].Nominal)
	assert.Equal(t, []Condition{HighWaterLevel}, pub.states[1].Conditions())
}

func TestWatcher_RetriesFailedPublish(t *testing.T) {
	src := &stubSource{}
	src.set(domain.LevelHigh)
	pub := &recordingPublisher{err: errors.New("broker down")}
	w := NewWatcher(NewEvaluator(src, DefaultThresholds()), pub, time.Second, nil, discardLogger())

	_, err := w.Check(context.Background())
	require.Error(t, err)

	pub.err = nil
	sent, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestWatcher_Run(t *testing.T) {
	src := &stubSource{}
	src.set(domain.LevelLow)
	pub := &recordingPublisher{sent: make(chan State, 4)}
	fc := clockwork.NewFakeClockAt(testNow)
	w := NewWatcher(NewEvaluator(src, DefaultThresholds()), pub, 30*time.Second, fc, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	first := <-pub.sent
	assert.True(t, first.Nominal)

	src.set(domain.LevelHigh)
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(30 * time.Second)

	select {
	case s := <-pub.sent:
		assert.True(t, s.Has(HighWaterLevel))
	case <-time.After(2 * time.Second):
		t.Fatal("state change was not published")
	}

	cancel()
	<-done
}

func TestMultiPublisher(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("broker down")}
	last := &recordingPublisher{}

	err := MultiPublisher{ok, failing, last}.Publish(context.Background(), State{Nominal: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, ok.states, 1)
	assert.Len(t, last.states, 1, "a failing publisher does not stop the rest")

	assert.NoError(t, MultiPublisher{}.Publish(context.Background(), State{Nominal: true}))
}

func TestAllConditions(t *testing.T) {
	src := &stubSource{agg: aggregates(domain.Float(9), domain.Float(9))}
	src.latest = &domain.Reading{
		Timestamp:    testNow,
		TemperatureF: domain.Float(120),
		HumidityPct:  domain.Float(99),
		WaterLevel:   domain.LevelHigh,
	}
	s := NewEvaluator(src, DefaultThresholds()).Evaluate()
	assert.ElementsMatch(t, AllConditions(), s.Conditions())
}
