// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sharding

import (
	"encoding/gob"
	"os"

	"github.com/gomlx/kgshard/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Save the sharding tables to filePath, so the exact same entity partition can be reloaded by
// later runs (e.g. to read back embeddings stored per shard). "~" is expanded to the home directory.
func (s *Sharding) Save(filePath string) (err error) {
	filePath, err = fsutil.PrepareFilePath(filePath)
	if err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save Sharding", filePath)
	}
	enc := gob.NewEncoder(f)
	if err = enc.Encode(s); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "encoding Sharding to save to %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing file %q, where Sharding was saved", filePath)
	}
	klog.V(1).Infof("saved sharding to %q", filePath)
	return nil
}

// Load a previously saved Sharding and validates it.
//
// If filePath doesn't exist, it returns an error that can be checked with [os.IsNotExist].
func Load(filePath string) (*Sharding, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "trying to load Sharding from %q", filePath)
	}
	defer func() { _ = f.Close() }()
	s := &Sharding{}
	if err = gob.NewDecoder(f).Decode(s); err != nil {
		return nil, errors.Wrapf(err, "trying to decode Sharding from %q", filePath)
	}
	if err = s.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid Sharding loaded from %q", filePath)
	}
	return s, nil
}
