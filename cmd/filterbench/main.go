// Command filterbench drives the measurement harness described in
// spec.md §6: for each configured (num_buckets, fingerprint_size,
// target_occupancy) triple, it builds a CuckooFilter, a
// CBCuckooFilter, and a size-matched BloomFilter, inserts decimal-ASCII
// keys up to the target occupancy, queries a batch of unseen keys, and
// appends one JSON-lines measurement record per experiment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/rverma/cbcuckoofilter/internal/filter"
	"github.com/rverma/cbcuckoofilter/internal/logging"
	"github.com/rverma/cbcuckoofilter/pkg/config"
)

var (
	configPath = flag.String("config", "configs/filterbench.yaml", "Path to configuration file")
)

// experimentParams is the "parameters" object in a measurement line.
type experimentParams struct {
	NumBuckets      uint32  `json:"num_buckets"`
	FingerprintSize uint8   `json:"fingerprint_size"`
	TargetOccupancy float64 `json:"target_occupancy"`
}

// experimentMeasurements is the "measurements" object, per spec.md §6.
type experimentMeasurements struct {
	CFFprE    float64 `json:"cf_fpr_e"`
	CFFpr     float64 `json:"cf_fpr"`
	CBCFFprE  float64 `json:"cbcf_fpr_e"`
	CBCFFpr   float64 `json:"cbcf_fpr"`
	BloomFprE float64 `json:"bloom_fpr_e"`
	BloomFpr  float64 `json:"bloom_fpr"`
}

type measurementLine struct {
	Parameters   experimentParams       `json:"parameters"`
	Measurements experimentMeasurements `json:"measurements"`
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.InitializeFromConfig("filterbench", logging.LogConfig{
		Level:         cfg.Logging.Level,
		EnableConsole: cfg.Logging.EnableConsole,
		EnableFile:    cfg.Logging.EnableFile,
		LogFile:       cfg.Logging.LogFile,
		BufferSize:    cfg.Logging.BufferSize,
		LogDir:        cfg.Logging.LogDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	runID := logging.NewCorrelationID()
	ctx := logging.WithCorrelationID(context.Background(), runID)

	logging.Info(ctx, logging.ComponentHarness, logging.ActionStart, "filterbench run starting", map[string]interface{}{
		"run_id":      runID,
		"output_path": cfg.Harness.OutputPath,
	})

	out, err := os.OpenFile(cfg.Harness.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logging.Fatal(ctx, logging.ComponentHarness, logging.ActionStart, "failed to open output file", err)
		os.Exit(1)
	}
	defer out.Close()

	encoder := json.NewEncoder(out)

	cuckooCfg := cfg.Filters.Cuckoo
	cbcfCfg := cfg.Filters.CBCF

	for _, targetOccupancy := range cfg.Harness.TargetOccupancies {
		line, err := runExperiment(ctx, cuckooCfg.NumBuckets, cuckooCfg.BucketSize, cuckooCfg.FingerprintBits, cuckooCfg.MaxKicks,
			cbcfCfg.NumBuckets, cbcfCfg.BucketSize, cbcfCfg.FingerprintBits, cbcfCfg.MaxKicks,
			targetOccupancy, cfg.Harness.QueryCount)
		if err != nil {
			logging.Error(ctx, logging.ComponentHarness, logging.ActionMeasure, "experiment failed", err, map[string]interface{}{
				"target_occupancy": targetOccupancy,
			})
			continue
		}
		if err := encoder.Encode(line); err != nil {
			logging.Error(ctx, logging.ComponentHarness, logging.ActionMeasure, "failed to write measurement line", err, nil)
		}
	}

	logging.Info(ctx, logging.ComponentHarness, logging.ActionStop, "filterbench run complete", map[string]interface{}{
		"run_id": runID,
	})
}

// runExperiment builds the CuckooFilter and the CBCuckooFilter from
// their own configured sizes and a BloomFilter whose bit budget matches
// the CuckooFilter's, inserts floor(targetOccupancy * B * b) keys into
// all three (B and b being the CuckooFilter's, whatever the CBCF's own
// capacity), decimal-ASCII keys starting at "0", queries queryCount unseen
// decimal-ASCII keys continuing from where insertion left off, and
// returns one measurement line.
func runExperiment(ctx context.Context, cfB, cfBucketSize uint32, cfF uint8, cfMaxKicks uint32,
	cbcfB, cbcfBucketSize uint32, cbcfF uint8, cbcfMaxKicks uint32,
	targetOccupancy float64, queryCount int) (measurementLine, error) {

	cf, err := filter.NewCuckooFilter(cfB, cfBucketSize, cfF, cfMaxKicks)
	if err != nil {
		return measurementLine{}, fmt.Errorf("new cuckoo filter: %w", err)
	}
	cbcf, err := filter.NewCBCuckooFilter(cbcfB, cbcfBucketSize, cbcfF, cbcfMaxKicks)
	if err != nil {
		return measurementLine{}, fmt.Errorf("new cbcf: %w", err)
	}

	// Size-match the Bloom filter's bit budget to the cuckoo filter's
	// total fingerprint storage, then pick k optimally for the number
	// of keys this experiment inserts.
	insertCount := int(targetOccupancy * float64(cfB) * float64(cfBucketSize))
	bloomM := cfB * cfBucketSize * uint32(cfF)
	bloomK := optimalBloomK(bloomM, insertCount)
	bf, err := filter.NewBloomFilter(bloomM, bloomK)
	if err != nil {
		return measurementLine{}, fmt.Errorf("new bloom filter: %w", err)
	}

	for i := 0; i < insertCount; i++ {
		key := []byte(fmt.Sprintf("%d", i))
		cf.Insert(key)
		cbcf.Insert(key)
		bf.Insert(key)
	}

	cfFalsePositives, cbcfFalsePositives, bloomFalsePositives := 0, 0, 0
	for i := insertCount; i < insertCount+queryCount; i++ {
		key := []byte(fmt.Sprintf("%d", i))
		if cf.Lookup(key) {
			cfFalsePositives++
		}
		if cbcf.Lookup(key) {
			cbcfFalsePositives++
		}
		if bf.Lookup(key) {
			bloomFalsePositives++
		}
	}

	return measurementLine{
		Parameters: experimentParams{
			NumBuckets:      cfB,
			FingerprintSize: cfF,
			TargetOccupancy: targetOccupancy,
		},
		Measurements: experimentMeasurements{
			CFFprE:    cf.ExpectedFPR(),
			CFFpr:     float64(cfFalsePositives) / float64(queryCount),
			CBCFFprE:  cbcf.ExpectedFPR(),
			CBCFFpr:   float64(cbcfFalsePositives) / float64(queryCount),
			BloomFprE: bf.ExpectedFPR(),
			BloomFpr:  float64(bloomFalsePositives) / float64(queryCount),
		},
	}, nil
}

// optimalBloomK returns round((m/n) * ln2), the standard optimal number
// of hash functions for m bits and n expected inserts, clamped to >= 1.
func optimalBloomK(m uint32, n int) uint32 {
	if n <= 0 {
		return 1
	}
	k := math.Round(float64(m) / float64(n) * math.Ln2)
	if k < 1 {
		return 1
	}
	return uint32(k)
}
