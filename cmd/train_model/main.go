package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"educare/artifact"
	"educare/config"
	"educare/logging"
	"educare/ml"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const splitSeed = 42

func main() {
	input := flag.String("input", "", "labeled CSV with Attendance, CGPA, Stress and Risk columns")
	modelDir := flag.String("model-dir", "model", "directory to write model.json and feature_columns.json")
	accuracy := flag.Float64("accuracy", -1, "accuracy dial in [0,1]; negative uses the default hyperparameters")
	testRatio := flag.Float64("test-ratio", 0.2, "share of rows held out for the evaluation report")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := logging.New(config.LogConfig{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if *input == "" {
		logger.Fatal("input is required")
	}

	f, err := os.Open(*input)
	if err != nil {
		logger.Fatal("failed to open input", zap.Error(err))
	}
	rows, err := readExamples(f)
	f.Close()
	if err != nil {
		logger.Fatal("failed to read training data", zap.String("input", *input), zap.Error(err))
	}

	var dial *float64
	if *accuracy >= 0 {
		dial = accuracy
	}

	trainRows, testRows := splitDataset(rows, *testRatio)
	if len(testRows) > 0 && len(trainRows) >= 2 {
		report, err := evaluate(trainRows, testRows, dial)
		if err != nil {
			logger.Warn("holdout evaluation skipped", zap.Error(err))
		} else {
			fmt.Print(report)
		}
	}

	result, err := ml.Train(rows, dial)
	if err != nil {
		logger.Fatal("failed to train model", zap.Error(err))
	}
	store, err := artifact.NewStore(*modelDir, logger)
	if err != nil {
		logger.Fatal("failed to open model dir", zap.Error(err))
	}
	meta, err := store.Write(result.Pipeline, result.Meta)
	if err != nil {
		logger.Fatal("failed to save model", zap.Error(err))
	}

	fmt.Printf("Saved model to %s\n", store.ModelPath())
	fmt.Printf("Saved feature metadata to %s\n", store.MetaPath())
	logger.Info("model trained",
		zap.String("generation", meta.Generation),
		zap.Int("training_size", meta.TrainingSize),
		zap.Any("cv_score", meta.CVScore))
}

// readExamples reads a CSV whose header names the three features and a
// Risk column, in any case. Every Risk value must be Low, Medium or High.
func readExamples(r io.Reader) ([]ml.Row, error) {
	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(transform.Nop)))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty input")
		}
		return nil, err
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := columns[key]; !dup {
			columns[key] = i
		}
	}
	features := ml.DefaultFeatures()
	for _, name := range features {
		if _, ok := columns[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("missing required column %q in input data", name)
		}
	}
	riskCol, ok := columns["risk"]
	if !ok {
		return nil, errors.New("missing target column \"Risk\" in dataset")
	}

	labels := ml.LabelMap()
	var rows []ml.Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		risk := strings.TrimSpace(record[riskCol])
		if _, ok := labels[risk]; !ok {
			return nil, fmt.Errorf("line %d: unknown target label %q, expected Low, Medium or High", line, risk)
		}
		var row ml.Row
		for _, name := range features {
			row.Set(name, strings.TrimSpace(record[columns[strings.ToLower(name)]]))
		}
		row.Set("label", risk)
		rows = append(rows, row)
	}
	return rows, nil
}

// splitDataset shuffles rows with a fixed seed and holds out testRatio of
// them.
func splitDataset(rows []ml.Row, testRatio float64) (train, test []ml.Row) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	order := rand.New(rand.NewSource(splitSeed)).Perm(len(rows))
	nTest := int(float64(len(rows)) * testRatio)
	for i, idx := range order {
		if i < nTest {
			test = append(test, rows[idx])
		} else {
			train = append(train, rows[idx])
		}
	}
	return train, test
}

// evaluate fits on train and reports per-class precision and recall on test.
func evaluate(train, test []ml.Row, dial *float64) (string, error) {
	result, err := ml.Train(train, dial)
	if err != nil {
		return "", err
	}
	predicted, err := ml.Predict(result.Pipeline, result.Meta, test)
	if err != nil {
		return "", err
	}

	type tally struct{ truePos, predicted, actual int }
	counts := make(map[string]*tally)
	for _, name := range ml.Labels() {
		counts[name] = &tally{}
	}
	correct := 0
	for i, rec := range predicted {
		want, _ := test[i].Get("label")
		got, _ := rec.Get("risk")
		wantName, gotName := fmt.Sprint(want), fmt.Sprint(got)
		if c, ok := counts[gotName]; ok {
			c.predicted++
		}
		if c, ok := counts[wantName]; ok {
			c.actual++
			if wantName == gotName {
				c.truePos++
			}
		}
		if wantName == gotName {
			correct++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %9s %9s %8s\n", "", "precision", "recall", "support")
	for _, name := range ml.Labels() {
		c := counts[name]
		var precision, recall float64
		if c.predicted > 0 {
			precision = float64(c.truePos) / float64(c.predicted)
		}
		if c.actual > 0 {
			recall = float64(c.truePos) / float64(c.actual)
		}
		fmt.Fprintf(&b, "%-8s %9.2f %9.2f %8d\n", name, precision, recall, c.actual)
	}
	fmt.Fprintf(&b, "%-8s %19.2f %8d\n", "accuracy", float64(correct)/float64(len(test)), len(test))
	return b.String(), nil
}
