package csvlog

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

var testTime = time.Date(2025, time.June, 3, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func reading(offset time.Duration, precip float64, loc *domain.Location) domain.Reading {
	return domain.Reading{
		Timestamp:       testTime.Add(offset),
		PrecipitationIn: domain.Float(precip),
		HumidityPct:     domain.Float(77),
		WaterLevel:      domain.LevelHigh,
		Location:        loc,
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestAppend_WritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	l, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, SchemaNone, l.Version())

	require.NoError(t, l.Append(reading(0, 0.02, nil)))
	r := reading(time.Minute, 0, nil)
	r.HumidityPct = nil
	r.TemperatureF = domain.Float(81.3)
	require.NoError(t, l.Append(r))
	require.NoError(t, l.Close())

	assert.Equal(t, []string{
		"EntryTimeUTC,Precipitation(in),Humidity(%),Temperature(°F),WaterLevel",
		"2025-06-03T12:00:00Z,0.02,77,,High",
		"2025-06-03T12:01:00Z,0,,81.3,High",
	}, readLines(t, path))
	assert.Equal(t, 2, l.Rows())
}

func TestAppend_SchemaUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	l, err := Open(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, l.Append(reading(0, 0.1, nil)))
	assert.Equal(t, SchemaV1, l.Version())

	require.NoError(t, l.Append(reading(time.Minute, 0.2, &domain.Location{Lat: 27.77, Lon: -97.5})))
	assert.Equal(t, SchemaV2, l.Version())

	// Once upgraded, unlocated readings keep the V2 layout with empty cells.
	require.NoError(t, l.Append(reading(2*time.Minute, 0.3, nil)))
	require.NoError(t, l.Close())

	assert.Equal(t, []string{
		"EntryTimeUTC,Precipitation(in),Humidity(%),Temperature(°F),WaterLevel",
		"2025-06-03T12:00:00Z,0.1,77,,High",
		"EntryTimeUTC,Precipitation(in),Humidity(%),Temperature(°F),WaterLevel,Latitude,Longitude",
		"2025-06-03T12:01:00Z,0.2,77,,High,27.77,-97.5",
		"2025-06-03T12:02:00Z,0.3,77,,High,,",
	}, readLines(t, path))

	res, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, SchemaV2, res.Version)
	assert.Equal(t, 2, res.Epochs)
	require.Len(t, res.Readings, 3)
	assert.Nil(t, res.Readings[0].Location)
	assert.Equal(t, &domain.Location{Lat: 27.77, Lon: -97.5}, res.Readings[1].Location)
	assert.Nil(t, res.Readings[2].Location)
}

func TestOpen_RecoversVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")

	l, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, l.Append(reading(0, 0.1, nil)))
	require.NoError(t, l.Close())

	l, err = Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, SchemaV1, l.Version())
	assert.Equal(t, 1, l.Rows())

	require.NoError(t, l.Append(reading(time.Minute, 0.2, nil)))
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 3, "reopening must not write a second header")
}

func TestRead_ShortRowsAcrossEpochs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := strings.Join([]string{
		"EntryTimeUTC,Precipitation(in),Humidity(%),Temperature(°F),WaterLevel",
		"2025-06-03T12:00:00Z,0.1,50,70,Low",
		"EntryTimeUTC,Precipitation(in),Humidity(%),Temperature(°F),WaterLevel,Latitude,Longitude",
		"2025-06-03T12:01:00Z,0.2,51,71,Nominal",
		"2025-06-03T12:02:00Z,0.3,52,72,High,27.7,-97.4",
		"2025-06-03T12:03:00Z,0.4",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, SchemaV2, l.Version())
	require.NoError(t, l.Close())

	res, err := ReadFile(path)
	require.NoError(t, err)
	assert.Zero(t, res.Skipped)
	require.Len(t, res.Readings, 4)

	assert.Equal(t, domain.LevelLow, res.Readings[0].WaterLevel)
	assert.Nil(t, res.Readings[1].Location, "short V2 row has no coordinates")
	assert.Equal(t, domain.LevelNominal, res.Readings[1].WaterLevel)
	assert.Equal(t, &domain.Location{Lat: 27.7, Lon: -97.4}, res.Readings[2].Location)

	last := res.Readings[3]
	require.NotNil(t, last.PrecipitationIn)
	assert.Equal(t, 0.4, *last.PrecipitationIn)
	assert.Nil(t, last.HumidityPct)
	assert.Equal(t, domain.LevelUnknown, last.WaterLevel)
}

func TestRead_SkipsMalformedRows(t *testing.T) {
	content := strings.Join([]string{
		"EntryTimeUTC,Precipitation(in),Humidity(%),Temperature(°F),WaterLevel",
		"not-a-time,0.1,50,70,Low",
		"2025-06-03T12:00:00Z,abc,50,70,Low",
		"",
		"2025-06-03T12:01:00Z,0.2,,,High",
	}, "\n")

	res, err := Read(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Readings, 1)
	assert.Nil(t, res.Readings[0].HumidityPct)
}

func TestRead_RowsBeforeHeaderUseV1(t *testing.T) {
	res, err := Read(strings.NewReader("2025-06-03T12:00:00Z,0.1,50,70,High,1,2\n"))
	require.NoError(t, err)
	require.Len(t, res.Readings, 1)
	assert.Nil(t, res.Readings[0].Location)
	assert.Equal(t, SchemaNone, res.Version)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestReadResult_Since(t *testing.T) {
	res := ReadResult{Readings: []domain.Reading{
		reading(0, 0.1, nil),
		reading(time.Hour, 0.2, nil),
		reading(2*time.Hour, 0.3, nil),
	}}
	got := res.Since(testTime.Add(time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, testTime.Add(2*time.Hour), got[0].Timestamp)
}

func TestOpen_TornLastRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := "EntryTimeUTC,Precipitation(in),Humidity(%),Temperature(°F),WaterLevel\n2025-06-03T11:59:00Z,0.1,5"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, l.Append(reading(0, 0.2, nil)))
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.Equal(t, "2025-06-03T12:00:00Z,0.2,77,,High", lines[2])
}

func TestOpen_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "data.csv")
	l, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	_, err = os.Stat(path)
	require.NoError(t, err)
}

type unsyncedFile struct {
	bytes.Buffer
	syncErr error
}

func (f *unsyncedFile) Sync() error  { return f.syncErr }
func (f *unsyncedFile) Close() error { return nil }

func TestAppend_SyncFailureIsTolerated(t *testing.T) {
	f := &unsyncedFile{syncErr: errors.New("input/output error")}
	l := newLog("mem.csv", f, SchemaNone, testLogger())

	err := l.Append(reading(0, 0.1, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotDurable)
	assert.Equal(t, 1, l.Rows())
	assert.Contains(t, f.String(), "2025-06-03T12:00:00Z,0.1,77,,High")

	f.syncErr = nil
	require.NoError(t, l.Append(reading(time.Minute, 0.2, nil)))
	assert.Equal(t, 2, l.Rows())
	assert.Equal(t, 1, strings.Count(f.String(), "EntryTimeUTC"))
}

func TestSchemaVersion_Columns(t *testing.T) {
	assert.Len(t, SchemaV1.Columns(), 5)
	assert.Len(t, SchemaV2.Columns(), 7)
	assert.Nil(t, SchemaNone.Columns())

	cols := SchemaV1.Columns()
	cols[0] = "mutated"
	assert.Equal(t, "EntryTimeUTC", SchemaV1.Columns()[0])
}
