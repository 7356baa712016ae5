package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"no2cast/internal/model"
)

// ObservationParser parses hourly observation CSV exports from the collection
// jobs.
//
// Expected format:
//
//	observation_time,no2,temperature,humidity,wind_speed,wind_direction,pressure
//	2025-06-01T00:00:00+08:00,41.2,27.5,78,9.4,135,1006.2
//
// Rows with malformed fields are skipped; rows are returned sorted by
// timestamp with exact-duplicate timestamps collapsed to the last row seen.
type ObservationParser struct{}

var observationColumns = []string{
	"observation_time", "no2", "temperature", "humidity",
	"wind_speed", "wind_direction", "pressure",
}

func (p *ObservationParser) Parse(r io.Reader) ([]model.Observation, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if err := validateObservationHeader(header); err != nil {
		return nil, err
	}

	var observations []model.Observation
	lineNum := 1
	skipped := 0

	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}

		obs, err := parseObservationRecord(record, lineNum)
		if err != nil {
			log.Printf("csv: skipping %v", err)
			skipped++
			continue
		}

		observations = append(observations, obs)
	}
	if skipped > 0 {
		log.Printf("csv: skipped %d malformed rows", skipped)
	}

	sort.SliceStable(observations, func(i, j int) bool {
		return observations[i].Timestamp.Before(observations[j].Timestamp)
	})
	return dedupeByTimestamp(observations), nil
}

func validateObservationHeader(header []string) error {
	if len(header) < len(observationColumns) {
		return fmt.Errorf("expected at least %d columns, got %d", len(observationColumns), len(header))
	}

	for i, col := range observationColumns {
		if strings.TrimSpace(header[i]) != col {
			return fmt.Errorf("expected column %d to be %q, got %q", i, col, header[i])
		}
	}

	return nil
}

func parseObservationRecord(record []string, lineNum int) (model.Observation, error) {
	if len(record) < len(observationColumns) {
		return model.Observation{}, fmt.Errorf("line %d: expected %d fields, got %d", lineNum, len(observationColumns), len(record))
	}

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(record[0]))
	if err != nil {
		return model.Observation{}, fmt.Errorf("line %d: parsing observation_time: %w", lineNum, err)
	}

	values := make([]float64, 6)
	for i := range values {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return model.Observation{}, fmt.Errorf("line %d: parsing %s: %w", lineNum, observationColumns[i+1], err)
		}
		values[i] = v
	}

	return model.Observation{
		Timestamp:     ts,
		NO2:           values[0],
		Temperature:   values[1],
		Humidity:      values[2],
		WindSpeed:     values[3],
		WindDirection: values[4],
		Pressure:      values[5],
	}, nil
}

// dedupeByTimestamp collapses duplicate timestamps in a sorted slice, keeping
// the last occurrence. Timestamps within one city's series must be unique.
func dedupeByTimestamp(obs []model.Observation) []model.Observation {
	if len(obs) == 0 {
		return obs
	}
	out := obs[:1]
	for _, o := range obs[1:] {
		if o.Timestamp.Equal(out[len(out)-1].Timestamp) {
			out[len(out)-1] = o
			continue
		}
		out = append(out, o)
	}
	return out
}
