package kafka

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-telemetry/internal/config"
	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSerializeToMessage(t *testing.T) {
	ts := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	ingested := time.Date(2025, 6, 3, 7, 0, 5, 0, time.FixedZone("CDT", -5*3600))
	r := domain.Reading{
		Timestamp:       ts,
		PrecipitationIn: domain.Float(0.02),
		HumidityPct:     domain.Float(77),
		WaterLevel:      domain.LevelHigh,
		Location:        &domain.Location{Lat: 27.77, Lon: -97.5},
	}

	msg, err := serializeToMessage(r, ingested)
	require.NoError(t, err)

	assert.Equal(t, []byte("2025-06-03T12:00:00Z"), msg.Key)
	assert.Contains(t, string(msg.Value), `"water_level":"High"`)
	assert.Contains(t, string(msg.Value), `"temperature_f":null`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "water_level", msg.Headers[0].Key)
	assert.Equal(t, []byte("High"), msg.Headers[0].Value)
	assert.Equal(t, "ingested_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2025-06-03T12:00:05Z"), msg.Headers[1].Value)

	var back domain.Reading
	require.NoError(t, json.Unmarshal(msg.Value, &back))
	assert.Equal(t, r, back)
}

func TestNewWriter(t *testing.T) {
	cfg := &config.Config{KafkaBrokers: []string{"broker1:9092", "broker2:9092"}, KafkaTopic: "sensor-readings"}
	w := NewWriter(cfg, testLogger())
	defer w.Close()

	assert.Equal(t, SinkName, w.Name())
	assert.Equal(t, "sensor-readings", w.writer.Topic)
	assert.Equal(t, "tcp,tcp", w.writer.Addr.Network())
	assert.Equal(t, "broker1:9092,broker2:9092", w.writer.Addr.String())
	assert.Equal(t, 1, w.writer.BatchSize)
	assert.Equal(t, publishLinger, w.writer.BatchTimeout)
}
