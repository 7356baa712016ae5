package store

import (
	"sort"
	"sync"
	"time"

	"no2cast/internal/model"
)

// Store holds hourly observations in memory, indexed by city and sorted by
// timestamp. It stands in for the relational storage collaborator at the
// engine boundary: the training and inference entrypoints only ever see
// chronologically ordered observation slices.
type Store struct {
	mu           sync.RWMutex
	observations map[string][]model.Observation // keyed by city, sorted by timestamp
}

func New() *Store {
	return &Store{
		observations: make(map[string][]model.Observation),
	}
}

// Add inserts observations for a city, then re-sorts that city's series.
// A later insert with an existing timestamp replaces the earlier row.
func (s *Store) Add(city string, obs []model.Observation) {
	if len(obs) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := append(s.observations[city], obs...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	// Collapse duplicate timestamps, keeping the most recently added row.
	out := merged[:0]
	for _, o := range merged {
		if len(out) > 0 && o.Timestamp.Equal(out[len(out)-1].Timestamp) {
			out[len(out)-1] = o
			continue
		}
		out = append(out, o)
	}
	s.observations[city] = out
}

// Cities returns all cities with at least one observation.
func (s *Store) Cities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cities := make([]string, 0, len(s.observations))
	for city := range s.observations {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	return cities
}

// Count returns the number of observations for a city.
func (s *Store) Count(city string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observations[city])
}

// TimeRange returns the time range covered by a city's observations.
func (s *Store) TimeRange(city string) (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs := s.observations[city]
	if len(obs) == 0 {
		return model.TimeRange{}, false
	}

	return model.TimeRange{
		Start: obs[0].Timestamp,
		End:   obs[len(obs)-1].Timestamp,
	}, true
}

// All returns a copy of a city's full observation series in time order.
func (s *Store) All(city string) []model.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs := s.observations[city]
	if len(obs) == 0 {
		return nil
	}
	out := make([]model.Observation, len(obs))
	copy(out, obs)
	return out
}

// Since returns a city's observations at or after the cutoff, in time order.
// The training pipeline uses this for its rolling 30-day window.
func (s *Store) Since(city string, cutoff time.Time) []model.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs := s.observations[city]
	idx := sort.Search(len(obs), func(i int) bool {
		return !obs[i].Timestamp.Before(cutoff)
	})
	if idx == len(obs) {
		return nil
	}

	out := make([]model.Observation, len(obs)-idx)
	copy(out, obs[idx:])
	return out
}

// Tail returns the last n observations for a city (fewer if the series is
// shorter). The forecaster needs at least the last two.
func (s *Store) Tail(city string, n int) []model.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs := s.observations[city]
	if n > len(obs) {
		n = len(obs)
	}
	if n == 0 {
		return nil
	}

	out := make([]model.Observation, n)
	copy(out, obs[len(obs)-n:])
	return out
}
