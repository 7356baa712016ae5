package ingest

import (
	"io"

	"no2cast/internal/model"
)

// Parser reads hourly observations from a source.
type Parser interface {
	Parse(r io.Reader) ([]model.Observation, error)
}
