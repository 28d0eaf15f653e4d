// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/batchsampler"
	"github.com/gomlx/kgshard/pkg/kge/dataset"
	"github.com/gomlx/kgshard/pkg/kge/negative"
	"github.com/gomlx/kgshard/pkg/kge/sharding"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	config, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), config)

	filePath := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(filePath, []byte(`
n_shard: 8
sampler:
  shard_batch_size: 64
  duplicate_batch: true
negative:
  n_negative: 16
  corruption_scheme: t
  local_sampling: true
rigid: false
`), 0o644))
	config, err = loadConfig(filePath)
	require.NoError(t, err)
	assert.Equal(t, 8, config.NShard)
	assert.Equal(t, 64, config.Sampler.ShardBatchSize)
	assert.Equal(t, 3, config.Sampler.BatchesPerStep) // Default kept.
	assert.Equal(t, "train", config.Sampler.Part)
	assert.True(t, config.Sampler.DuplicateBatch)
	assert.Equal(t, negative.CorruptTail, config.Negative.CorruptionScheme)
	assert.True(t, config.Negative.LocalSampling)
	assert.False(t, config.Rigid)

	require.NoError(t, os.WriteFile(filePath, []byte("n_shards: 8\n"), 0o644))
	_, err = loadConfig(filePath)
	assert.ErrorIs(t, err, kge.ErrConfiguration)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	require.NoError(t, flag.Set("buffer", "5"))
	require.NoError(t, flag.Set("start_epoch", "2"))
	require.NoError(t, flag.Set("workers", "3"))
	config := defaultConfig()
	require.NoError(t, applyFlags(&config))
	assert.Equal(t, 5, config.Buffer)
	assert.Equal(t, 2, config.StartEpoch)
	assert.Equal(t, 3, config.Workers)
	assert.Equal(t, defaultConfig().NShard, config.NShard) // Not set.
}

func TestCoverageVerifier(t *testing.T) {
	ds := must.M1(dataset.Synthetic(100, 5, map[string]int{"train": 300}, 1))
	sh := must.M1(sharding.Create(100, 2, 1))
	sampler := must.M1(batchsampler.NewRigid(ds, sh, nil, batchsampler.Config{
		Part: "train", ShardBatchSize: 20, BatchesPerStep: 2, DuplicateBatch: true,
	}))
	verifier := newCoverageVerifier(ds, sh, "train")
	tokens := sampler.DataloaderSampler(true).Tokens()
	var skipped bool
	for token := range tokens {
		batch := must.M1(sampler.Get(token))
		require.NoError(t, verifier.Add(batch))
	}
	require.NoError(t, verifier.CheckEpoch(true))

	// Missing one step breaks coverage.
	for token := range sampler.DataloaderSampler(true).Tokens() {
		if !skipped {
			skipped = true
			continue
		}
		require.NoError(t, verifier.Add(must.M1(sampler.Get(token))))
	}
	assert.ErrorIs(t, verifier.CheckEpoch(true), kge.ErrValidation)
}

func TestRun(t *testing.T) {
	*flagQuiet = true
	*flagVerify = true
	*flagSaveSharding = filepath.Join(t.TempDir(), "sharding.bin")
	defer func() {
		*flagQuiet, *flagVerify, *flagSaveSharding = false, false, ""
	}()

	config := defaultConfig()
	config.Epochs = 2
	config.StartEpoch = 1
	config.Shuffle = true
	config.Sampler.DuplicateBatch = true
	config.Negative.NNegative = 10
	require.NoError(t, run(context.Background(), config))
	saved := must.M1(sharding.Load(*flagSaveSharding))
	assert.Equal(t, config.NShard, saved.NShard)

	config.Rigid = false
	config.Steps = 4
	config.Negative.LocalSampling = true
	require.NoError(t, run(context.Background(), config))

	config.Sampler.ShardBatchSize = 7
	assert.ErrorIs(t, run(context.Background(), config), kge.ErrConfiguration)
}
