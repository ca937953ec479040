/*
Copyright 2022 The Katalyst Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tunables

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

// ApplyFile applies a YAML profile, a flat map of key to value, e.g.
//
//	up_threshold: 80
//	down_threshold: 40
//	up_threshold_hotplug1: 0
//
// Entries are applied in key order. Entries rejected because of a sibling
// constraint (e.g. raising down_threshold above the old up_threshold) get
// one more chance after the others were applied. Remaining failures are
// returned as an aggregate; successful entries stay applied.
func (s *Store) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read profile %s", path)
	}

	entries := make(map[string]string)
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return errors.Wrapf(err, "parse profile %s", path)
	}

	var pending []string
	for _, key := range s.Keys() {
		if _, ok := entries[key]; ok {
			pending = append(pending, key)
		}
	}

	var errList []error
	for alias := range keyAliases {
		if _, ok := entries[alias]; ok {
			pending = append(pending, alias)
		}
	}
	for key := range entries {
		if _, ok := s.lookup(key); !ok {
			errList = append(errList, &ConfigurationError{Key: key, Value: entries[key], Err: ErrUnknownKey})
		}
	}

	var retry []string
	for _, key := range pending {
		if err := s.Set(key, entries[key]); err != nil {
			retry = append(retry, key)
		}
	}
	for _, key := range retry {
		if err := s.Set(key, entries[key]); err != nil {
			errList = append(errList, err)
		}
	}

	general.Infof("applied profile %s with %d entries, %d failed", path, len(entries), len(errList))
	return utilerrors.NewAggregate(errList)
}

// WatchFile re-applies the profile whenever it is written, until ctx is done.
func (s *Store) WatchFile(ctx context.Context, path string) error {
	ch, err := general.RegisterFileEventWatcher(ctx.Done(), general.FileWatcherInfo{
		Filename: filepath.Base(path),
		Path:     []string{filepath.Dir(path)},
		Op:       fsnotify.Create | fsnotify.Write,
	})
	if err != nil {
		return errors.Wrapf(err, "watch profile %s", path)
	}

	go func() {
		for {
			select {
			case <-ch:
				if err := s.ApplyFile(path); err != nil {
					general.Errorf("re-apply profile %s: %v", path, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
