// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// kgshard generates sharded knowledge-graph embedding batches from a synthetic dataset, displaying
// progress and optionally verifying coverage of the split and reconstruction of every batch.
//
// Usage:
//
//	kgshard [-config file.yaml] [-shards 4] [-shard_bs 120] [-rigid] [-shuffle] [-verify] ...
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/batchsampler"
	"github.com/gomlx/kgshard/pkg/kge/dataset"
	"github.com/gomlx/kgshard/pkg/kge/loader"
	"github.com/gomlx/kgshard/pkg/kge/negative"
	"github.com/gomlx/kgshard/pkg/kge/sharding"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "YAML file with the run configuration. Flags explicitly set override it.")

	flagEntities       = flag.Int("entities", 500, "Number of entities of the synthetic dataset.")
	flagRelations      = flag.Int("relations", 10, "Number of relation types of the synthetic dataset.")
	flagTriples        = flag.Int("triples", 2000, "Number of triples in the \"train\" split of the synthetic dataset.")
	flagSeed           = flag.Uint64("seed", 0, "Seed for the dataset, sharding and samplers.")
	flagShards         = flag.Int("shards", 4, "Number of shards.")
	flagShardBatchSize = flag.Int("shard_bs", 120, "Number of positive triples per shard per batch.")
	flagBatchesPerStep = flag.Int("batches_per_step", 3, "Number of batches per step.")
	flagNegatives      = flag.Int("negatives", 250, "Number of negative candidates per triple (per shard, for global sampling).")
	flagScheme         = flag.String("scheme", "ht", "Corruption scheme: \"h\", \"t\" or \"ht\".")
	flagLocal          = flag.Bool("local", false, "Sample negatives from the processing shard only.")
	flagFlat           = flag.Bool("flat", false, "Share the negatives among all triples of a shard batch.")
	flagRigid          = flag.Bool("rigid", true, "Use the rigid sampler (one pass over the split per epoch), otherwise random.")
	flagShuffle        = flag.Bool("shuffle", false, "Shuffle triples and steps.")
	flagDuplicate      = flag.Bool("duplicate", false, "Duplicate every batch along the last axis.")
	flagWeighting      = flag.Bool("weighting", false, "Enable head-relation-tail frequency weighting.")
	flagEpochs         = flag.Int("epochs", 1, "Number of epochs to run with the rigid sampler.")
	flagStartEpoch     = flag.Int("start_epoch", 0, "First epoch of the rigid sampler, to resume an interrupted run.")
	flagSteps          = flag.Int("steps", 10, "Number of steps to run with the random sampler.")
	flagWorkers        = flag.Int("workers", 2, "Number of parallel sampler workers.")
	flagBuffer         = flag.Int("buffer", 2, "Number of batches prefetched by each worker.")
	flagSaveSharding   = flag.String("save_sharding", "", "If set, save the sharding to the given file.")
	flagVerify         = flag.Bool("verify", false, "Verify reconstruction of every batch and coverage of rigid epochs.")
	flagQuiet          = flag.Bool("quiet", false, "Don't display the progress bar.")
)

// negativeStreamOffset separates the random streams of the negative samplers from the ones of the batch samplers.
const negativeStreamOffset = 1 << 16

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	config := must.M1(loadConfig(*flagConfig))
	must.M(applyFlags(&config))
	if err := run(context.Background(), config); err != nil {
		klog.Errorf("kgshard failed: %+v", err)
		os.Exit(1)
	}
}

// run builds the dataset, sharding and samplers described by config and iterates over the batches.
func run(ctx context.Context, config runConfig) error {
	runID := uuid.New().String()
	klog.V(1).Infof("run %s: %+v", runID, config)

	ds, err := dataset.Synthetic(config.Dataset.Entities, config.Dataset.Relations,
		map[string]int{config.Sampler.Part: config.Dataset.Triples}, config.Dataset.Seed)
	if err != nil {
		return err
	}
	sh, err := sharding.Create(config.Dataset.Entities, config.NShard, config.ShardingSeed)
	if err != nil {
		return err
	}
	if *flagSaveSharding != "" {
		if err := sh.Save(*flagSaveSharding); err != nil {
			return err
		}
		klog.Infof("sharding saved to %q", *flagSaveSharding)
	}

	factory := func(worker int) (batchsampler.Sampler, error) {
		samplerConfig := config.Sampler
		samplerConfig.Worker = worker
		negConfig := config.Negative
		negConfig.Seed = kge.StreamSeed(config.Negative.Seed, negativeStreamOffset+worker)
		neg, err := negative.NewRandomSharded(negConfig, sh)
		if err != nil {
			return nil, err
		}
		if config.Rigid {
			return batchsampler.NewRigid(ds, sh, neg, samplerConfig)
		}
		return batchsampler.NewRandom(ds, sh, neg, samplerConfig)
	}
	l := loader.New(factory).Parallelism(config.Workers).Buffer(config.Buffer).Shuffle(config.Shuffle)
	if config.Rigid {
		l.FromEpoch(config.StartEpoch)
	}
	l, err = l.Start(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	printSummary(runID, config, ds, sh)

	numEpochs, stepsPerEpoch := 1, config.Steps
	if config.Rigid {
		numEpochs, stepsPerEpoch = config.Epochs, l.Len()
	}
	display := newProgressDisplay(numEpochs*stepsPerEpoch, *flagQuiet)
	var verifier *coverageVerifier
	if *flagVerify {
		verifier = newCoverageVerifier(ds, sh, config.Sampler.Part)
	}

	start := time.Now()
	var totalTriples int
	for epoch := range numEpochs {
		if epoch > 0 {
			if err := l.Reset(); err != nil {
				return err
			}
		}
		for step := 0; config.Rigid || step < config.Steps; step++ {
			batch, err := l.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				display.Done()
				return err
			}
			if verifier != nil {
				if err := verifier.Add(batch); err != nil {
					display.Done()
					return errors.WithMessagef(err, "verifying %s", batch.Token)
				}
			}
			totalTriples += batch.NumTriples()
			display.Update(epoch, batch, totalTriples, time.Since(start))
		}
		if verifier != nil && config.Rigid {
			if err := verifier.CheckEpoch(config.Sampler.DuplicateBatch); err != nil {
				display.Done()
				return errors.WithMessagef(err, "epoch %d", epoch)
			}
		}
	}
	display.Done()

	elapsed := time.Since(start)
	fmt.Printf("Run %s: %s triples in %s (%s triples/s)\n", runID, humanize.Comma(int64(totalTriples)),
		formatDuration(elapsed), humanize.Comma(int64(float64(totalTriples)/max(elapsed.Seconds(), 1e-9))))
	if verifier != nil {
		fmt.Println("Verification passed.")
	}
	return nil
}
