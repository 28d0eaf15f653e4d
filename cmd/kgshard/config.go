// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"flag"
	"os"

	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/batchsampler"
	"github.com/gomlx/kgshard/pkg/kge/negative"
	"github.com/gomlx/kgshard/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// datasetConfig describes the synthetic dataset to generate.
type datasetConfig struct {
	Entities  int    `yaml:"entities"`
	Relations int    `yaml:"relations"`
	Triples   int    `yaml:"triples"`
	Seed      uint64 `yaml:"seed"`
}

// runConfig is the full configuration of a run, read from a YAML file and overridden by flags.
type runConfig struct {
	Dataset      datasetConfig       `yaml:"dataset"`
	NShard       int                 `yaml:"n_shard"`
	ShardingSeed uint64              `yaml:"sharding_seed"`
	Sampler      batchsampler.Config `yaml:"sampler"`
	Negative     negative.Config     `yaml:"negative"`
	Rigid        bool                `yaml:"rigid"`
	Shuffle      bool                `yaml:"shuffle"`
	Epochs       int                 `yaml:"epochs"`
	StartEpoch   int                 `yaml:"start_epoch"`
	Steps        int                 `yaml:"steps"`
	Workers      int                 `yaml:"workers"`
	Buffer       int                 `yaml:"buffer"`
}

// defaultConfig mirrors the sizes of a small test run.
func defaultConfig() runConfig {
	return runConfig{
		Dataset: datasetConfig{Entities: 500, Relations: 10, Triples: 2000},
		NShard:  4,
		Sampler: batchsampler.Config{
			Part:           "train",
			ShardBatchSize: 120,
			BatchesPerStep: 3,
		},
		Negative: negative.Config{NNegative: 250, CorruptionScheme: negative.CorruptBoth},
		Rigid:    true,
		Epochs:   1,
		Steps:    10,
		Workers:  2,
		Buffer:   2,
	}
}

// loadConfig reads a YAML configuration on top of the defaults. Unknown fields are an error.
func loadConfig(filePath string) (runConfig, error) {
	config := defaultConfig()
	if filePath == "" {
		return config, nil
	}
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return config, err
	}
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return config, errors.Wrapf(err, "reading configuration from %q", filePath)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return config, errors.Wrapf(kge.ErrConfiguration, "parsing configuration %q: %v", filePath, err)
	}
	return config, nil
}

// applyFlags overrides the configuration with the flags explicitly set in the command line.
func applyFlags(config *runConfig) error {
	var err error
	flag.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "entities":
			config.Dataset.Entities = *flagEntities
		case "relations":
			config.Dataset.Relations = *flagRelations
		case "triples":
			config.Dataset.Triples = *flagTriples
		case "seed":
			config.Dataset.Seed = *flagSeed
			config.ShardingSeed = *flagSeed
			config.Sampler.Seed = *flagSeed
			config.Negative.Seed = *flagSeed
		case "shards":
			config.NShard = *flagShards
		case "shard_bs":
			config.Sampler.ShardBatchSize = *flagShardBatchSize
		case "batches_per_step":
			config.Sampler.BatchesPerStep = *flagBatchesPerStep
		case "negatives":
			config.Negative.NNegative = *flagNegatives
		case "scheme":
			config.Negative.CorruptionScheme, err = negative.ParseCorruptionScheme(*flagScheme)
		case "local":
			config.Negative.LocalSampling = *flagLocal
		case "flat":
			config.Negative.FlatNegativeFormat = *flagFlat
		case "rigid":
			config.Rigid = *flagRigid
		case "shuffle":
			config.Shuffle = *flagShuffle
		case "duplicate":
			config.Sampler.DuplicateBatch = *flagDuplicate
		case "weighting":
			config.Sampler.HRTFreqWeighting = *flagWeighting
		case "epochs":
			config.Epochs = *flagEpochs
		case "steps":
			config.Steps = *flagSteps
		case "start_epoch":
			config.StartEpoch = *flagStartEpoch
		case "workers":
			config.Workers = *flagWorkers
		case "buffer":
			config.Buffer = *flagBuffer
		}
	})
	return err
}
