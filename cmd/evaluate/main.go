package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"no2cast/internal/artifact"
	"no2cast/internal/ingest"
	"no2cast/internal/observability"
	"no2cast/internal/pipeline"
	"no2cast/internal/store"
)

// Re-scores a saved model against fresh observations, using the most recent
// share of rows as the test window.
func main() {
	_ = godotenv.Load()

	city := flag.String("city", envOr("NO2CAST_CITY", "dongguan"), "city to evaluate")
	dataPath := flag.String("data", envOr("NO2CAST_DATA", "input/observations.csv"), "path to observation CSV")
	modelDir := flag.String("model-dir", envOr("NO2CAST_MODEL_DIR", "models"), "directory with model artifacts")
	modelPath := flag.String("model", "", "explicit artifact path (default: latest for the city)")
	testShare := flag.Float64("test-share", 0.3, "most-recent share of rows to score")
	flag.Parse()

	artStore := artifact.NewStore(*modelDir, clockwork.NewRealClock())
	path := *modelPath
	if path == "" {
		var err error
		path, err = artStore.Latest(*city)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error locating model: %v\n", err)
			os.Exit(1)
		}
	}

	art, err := artifact.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading model: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Open(*dataPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening observation CSV: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	parser := &ingest.ObservationParser{}
	obs, err := parser.Parse(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing observation CSV: %v\n", err)
		os.Exit(1)
	}

	st := store.New()
	st.Add(*city, obs)

	p := pipeline.New(clockwork.NewRealClock(), observability.NewMetrics())
	eval, err := p.Evaluate(art, st.All(*city), *testShare)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Evaluation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Model: %s (trained %s, Q=%.4f)\n", path, art.TrainedAt.Format("2006-01-02"), art.Q)
	fmt.Printf("Coverage:           %.1f%%\n", 100*eval.Coverage)
	fmt.Printf("Avg interval width: %.2f\n", eval.AvgIntervalWidth)
	fmt.Printf("Test samples:       %d\n", eval.TestSamples)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
