package ingest

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `observation_time,no2,temperature,humidity,wind_speed,wind_direction,pressure
2025-06-01T02:00:00+08:00,43.1,27.1,80,8.2,140,1006.0
2025-06-01T00:00:00+08:00,41.2,27.5,78,9.4,135,1006.2
2025-06-01T01:00:00+08:00,not-a-number,27.3,79,9.0,138,1006.1
2025-06-01T03:00:00+08:00,44.0,26.9,81,7.8,142,1005.8
2025-06-01T03:00:00+08:00,44.5,26.9,81,7.8,142,1005.8
`

func TestObservationParser_Parse(t *testing.T) {
	p := &ObservationParser{}
	obs, err := p.Parse(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	// Malformed row skipped, duplicate timestamp collapsed to the last row.
	require.Len(t, obs, 3)

	// Sorted by timestamp.
	for i := 1; i < len(obs); i++ {
		assert.True(t, obs[i-1].Timestamp.Before(obs[i].Timestamp))
	}

	first := obs[0]
	assert.Equal(t, 41.2, first.NO2)
	assert.Equal(t, 27.5, first.Temperature)
	assert.Equal(t, 78.0, first.Humidity)
	assert.Equal(t, 9.4, first.WindSpeed)
	assert.Equal(t, 135.0, first.WindDirection)
	assert.Equal(t, 1006.2, first.Pressure)

	// Timezone preserved as an instant.
	want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.FixedZone("", 8*3600))
	assert.True(t, first.Timestamp.Equal(want))

	// Duplicate 03:00 row resolved to the later value.
	assert.Equal(t, 44.5, obs[2].NO2)
}

func TestObservationParser_LogsSkippedRows(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	p := &ObservationParser{}
	obs, err := p.Parse(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, obs, 3)

	// The malformed no2 value sits on line 4; the skip is attributed and
	// counted, never silent.
	assert.Contains(t, buf.String(), "line 4")
	assert.Contains(t, buf.String(), "skipped 1 malformed")
}

func TestObservationParser_BadHeader(t *testing.T) {
	p := &ObservationParser{}

	_, err := p.Parse(strings.NewReader("time,no2\n"))
	assert.Error(t, err)

	_, err = p.Parse(strings.NewReader("no2,observation_time,temperature,humidity,wind_speed,wind_direction,pressure\n"))
	assert.Error(t, err)
}

func TestObservationParser_Empty(t *testing.T) {
	p := &ObservationParser{}
	obs, err := p.Parse(strings.NewReader("observation_time,no2,temperature,humidity,wind_speed,wind_direction,pressure\n"))
	require.NoError(t, err)
	assert.Empty(t, obs)
}
