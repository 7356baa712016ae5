package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"no2cast/internal/artifact"
	"no2cast/internal/ingest"
	"no2cast/internal/model"
	"no2cast/internal/observability"
	"no2cast/internal/pipeline"
	"no2cast/internal/store"
)

func main() {
	_ = godotenv.Load()

	city := flag.String("city", envOr("NO2CAST_CITY", "dongguan"), "city to forecast")
	dataPath := flag.String("data", envOr("NO2CAST_DATA", "input/observations.csv"), "path to recent observation CSV")
	modelDir := flag.String("model-dir", envOr("NO2CAST_MODEL_DIR", "models"), "directory with model artifacts")
	modelPath := flag.String("model", "", "explicit artifact path (default: latest for the city)")
	steps := flag.Int("steps", 24, "forecast horizon in hours")
	outPath := flag.String("output", "", "optional CSV path for the forecast table")
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
	fmt.Printf("Model: %s (trained %s, Q=%.4f)\n", path, art.TrainedAt.Format("2006-01-02"), art.Q)

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
	history := st.Tail(*city, 2)

	p := pipeline.New(clockwork.NewRealClock(), observability.NewMetrics())
	predictions, err := p.Forecast(art, history, *steps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Forecast failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n%-20s %10s %10s %10s\n", "time", "predicted", "lower", "upper")
	for _, pi := range predictions {
		fmt.Printf("%-20s %10.2f %10.2f %10.2f\n",
			pi.Timestamp.Format("2006-01-02 15:04"), pi.Prediction, pi.LowerBound, pi.UpperBound)
	}

	if *outPath != "" {
		if err := writeForecastCSV(*outPath, *city, predictions); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing forecast CSV: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nForecast written to %s\n", *outPath)
	}
}

func writeForecastCSV(path, city string, predictions []model.PredictionInterval) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"observation_time", "prediction", "lower_bound", "upper_bound", "city"}); err != nil {
		return err
	}
	for _, p := range predictions {
		row := []string{
			p.Timestamp.Format(time.RFC3339),
			strconv.FormatFloat(p.Prediction, 'f', 2, 64),
			strconv.FormatFloat(p.LowerBound, 'f', 2, 64),
			strconv.FormatFloat(p.UpperBound, 'f', 2, 64),
			city,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
