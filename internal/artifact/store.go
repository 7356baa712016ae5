package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"no2cast/internal/features"
	"no2cast/internal/model"
	"no2cast/internal/predictor"
)

// artifactFile is the on-disk JSON schema. Required fields are pointers so a
// missing field is distinguishable from a zero value and rejected at load
// time instead of guessed at.
type artifactFile struct {
	City         string                `json:"city"`
	TrainedAt    *time.Time            `json:"trained_at"`
	Architecture *predictor.ArchConfig `json:"architecture"`
	Network      *predictor.NetState   `json:"network"`
	Q            *float64              `json:"q"`
	Scalers      *features.ScalerSet   `json:"scalers"`
}

// Store reads and writes model artifacts, one file per city per training
// date, under a single directory.
type Store struct {
	dir   string
	clock clockwork.Clock
}

func NewStore(dir string, clock clockwork.Clock) *Store {
	return &Store{dir: dir, clock: clock}
}

// Path returns the artifact filename for a city and training date.
func (s *Store) Path(city string, trainedAt time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s_nc_cqr_model.json", city, trainedAt.UTC().Format("2006-01-02")))
}

// Save stamps the artifact with the store clock (when not already stamped)
// and writes it atomically: the JSON goes to a temp file first and is renamed
// into place, so a crashed write never leaves a half-written artifact behind.
func (s *Store) Save(a *Artifact) (string, error) {
	if a.TrainedAt.IsZero() {
		a.TrainedAt = s.clock.Now().UTC()
	}

	arch := a.Network.Arch()
	state := a.Network.State()
	q := a.Q
	trainedAt := a.TrainedAt
	data, err := json.MarshalIndent(artifactFile{
		City:         a.City,
		TrainedAt:    &trainedAt,
		Architecture: &arch,
		Network:      &state,
		Q:            &q,
		Scalers:      &a.Scalers,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing artifact: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}

	path := s.Path(a.City, a.TrainedAt)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("replacing artifact: %w", err)
	}
	return path, nil
}

// Load reads and validates an artifact. A missing file is ErrModelNotFound;
// a file missing any required field is ErrCorruptArtifact. The model is never
// partially initialized.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", model.ErrModelNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", path, err)
	}

	var f artifactFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrCorruptArtifact, path, err)
	}

	switch {
	case f.City == "":
		return nil, fmt.Errorf("%w: %s: missing city", model.ErrCorruptArtifact, path)
	case f.TrainedAt == nil:
		return nil, fmt.Errorf("%w: %s: missing trained_at", model.ErrCorruptArtifact, path)
	case f.Architecture == nil:
		return nil, fmt.Errorf("%w: %s: missing architecture", model.ErrCorruptArtifact, path)
	case f.Network == nil:
		return nil, fmt.Errorf("%w: %s: missing network", model.ErrCorruptArtifact, path)
	case f.Q == nil:
		return nil, fmt.Errorf("%w: %s: missing q", model.ErrCorruptArtifact, path)
	case f.Scalers == nil:
		return nil, fmt.Errorf("%w: %s: missing scalers", model.ErrCorruptArtifact, path)
	}

	net, err := predictor.LoadNet(*f.Architecture, *f.Network)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrCorruptArtifact, path, err)
	}

	return &Artifact{
		City:      f.City,
		TrainedAt: f.TrainedAt.UTC(),
		Network:   net,
		Q:         *f.Q,
		Scalers:   *f.Scalers,
	}, nil
}

// Latest returns the path of a city's most recent artifact in the store
// directory, or ErrModelNotFound when the city has none. The pattern pins the
// date segment so a city whose name prefixes another ("san" vs
// "san_francisco") never picks up the other city's artifacts.
func (s *Store) Latest(city string) (string, error) {
	pattern := filepath.Join(s.dir, fmt.Sprintf("%s_????-??-??_nc_cqr_model.json", city))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("scanning artifacts: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no artifact for city %q in %s", model.ErrModelNotFound, city, s.dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
