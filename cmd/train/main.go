package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"no2cast/internal/artifact"
	"no2cast/internal/ingest"
	"no2cast/internal/observability"
	"no2cast/internal/pipeline"
	"no2cast/internal/predictor"
	"no2cast/internal/store"
)

func main() {
	// .env supplies defaults for the scheduled jobs; flags win.
	_ = godotenv.Load()

	city := flag.String("city", envOr("NO2CAST_CITY", "dongguan"), "city to train")
	dataPath := flag.String("data", envOr("NO2CAST_DATA", "input/observations.csv"), "path to observation CSV")
	modelDir := flag.String("model-dir", envOr("NO2CAST_MODEL_DIR", "models"), "directory for model artifacts")
	epochs := flag.Int("epochs", 150, "training epochs")
	batchSize := flag.Int("batch-size", 32, "mini-batch size")
	lr := flag.Float64("lr", 4e-3, "learning rate")
	trainRatio := flag.Float64("train-ratio", 0.6, "training split ratio")
	calibRatio := flag.Float64("calib-ratio", 0.3, "calibration split ratio")
	testRatio := flag.Float64("test-ratio", 0.1, "test split ratio")
	hidden := flag.String("hidden", "32,32", "comma-separated hidden layer widths")
	residual := flag.Bool("residual", false, "use residual trunk blocks")
	deterministic := flag.Bool("deterministic", true, "seed training from the city name")
	baseSeed := flag.Uint64("seed", 42, "base seed for city seed derivation")
	flag.Parse()

	hiddenDims, err := parseHiddenDims(*hidden)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -hidden: %v\n", err)
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
	fmt.Printf("Loaded %d observations for %s\n", st.Count(*city), *city)
	if tr, ok := st.TimeRange(*city); ok {
		fmt.Printf("Time range: %s to %s\n", tr.Start.Format("2006-01-02 15:04"), tr.End.Format("2006-01-02 15:04"))
	}

	cfg := pipeline.DefaultConfig()
	cfg.TrainRatio = *trainRatio
	cfg.CalibRatio = *calibRatio
	cfg.TestRatio = *testRatio
	cfg.HiddenDims = hiddenDims
	cfg.UseResidual = *residual
	cfg.Deterministic = *deterministic
	cfg.BaseSeed = *baseSeed
	cfg.Training.Epochs = *epochs
	cfg.Training.BatchSize = *batchSize
	cfg.Training.LearningRate = *lr

	p := pipeline.New(clockwork.NewRealClock(), observability.NewMetrics())

	fmt.Printf("Training: epochs=%d lr=%.4f batch_size=%d hidden=%v residual=%v\n",
		*epochs, *lr, *batchSize, hiddenDims, *residual)

	art, report, err := p.Train(*city, st.All(*city), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Training failed: %v\n", err)
		os.Exit(1)
	}

	first := report.Epochs[0]
	last := report.Epochs[len(report.Epochs)-1]
	fmt.Printf("\nInitial loss: %.6f (crossing %.6f)\n", first.TotalLoss, first.CrossingPenalty)
	fmt.Printf("Final loss:   %.6f (crossing %.6f, lambda %.2f)\n", last.TotalLoss, last.CrossingPenalty, last.Lambda)
	if skipped := totalSkipped(report.Epochs); skipped > 0 {
		fmt.Printf("Skipped degenerate batches: %d\n", skipped)
	}

	fmt.Printf("\nCalibration: Q=%.4f level=%.4f violation_rate=%.1f%% (n=%d)\n",
		report.Calibration.Q, report.Calibration.QuantileLevel,
		100*report.Calibration.ViolationRate, report.Calibration.CalibSize)
	if report.Calibration.Anomaly {
		fmt.Println("WARNING: calibration violation rate far from target, model flagged")
	}

	fmt.Printf("\nTest coverage:      %.1f%%\n", 100*report.Coverage)
	fmt.Printf("Avg interval width: %.2f\n", report.AvgIntervalWidth)
	fmt.Printf("Test samples:       %d\n", report.TestSamples)

	path, err := artifact.NewStore(*modelDir, clockwork.NewRealClock()).Save(art)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error saving model: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nModel saved to %s\n", path)
}

func parseHiddenDims(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	dims := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("bad hidden width %q", p)
		}
		dims = append(dims, n)
	}
	return dims, nil
}

func totalSkipped(epochs []predictor.EpochStats) int {
	total := 0
	for _, e := range epochs {
		total += e.SkippedBatches
	}
	return total
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
