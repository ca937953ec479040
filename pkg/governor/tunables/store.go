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

// Package tunables is the validated key/value store of every governor
// tunable. Readers take an immutable snapshot; each write publishes a new
// snapshot that differs from the previous one in exactly one key.
package tunables

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/kubewharf/katalyst-governor/pkg/governor/freqtable"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

var (
	ErrInvalidValue = errors.New("invalid value")
	ErrUnknownKey   = errors.New("unknown key")
	ErrReadOnly     = errors.New("read-only key")
)

// ConfigurationError is returned by rejected writes; the previous value is
// kept. It unwraps to one of ErrInvalidValue, ErrUnknownKey or ErrReadOnly.
type ConfigurationError struct {
	Key    string
	Value  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("set %s=%q: %v", e.Key, e.Value, e.Err)
	}
	return fmt.Sprintf("set %s=%q: %v: %s", e.Key, e.Value, e.Err, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Subscriber is notified after a write has been published. It runs while
// the store serializes writers, so it must not write to the store itself.
type Subscriber func(key string, old, new *Tunables)

type Store struct {
	numCores int
	keys     map[string]*keyDef
	order    []string

	// mtx serializes writers; readers only load current.
	mtx         sync.Mutex
	current     atomic.Pointer[Tunables]
	subscribers []Subscriber
}

// NewStore builds a store with default values for numCores cores. The
// sampling rate defaults to max(defaultSamplingRate, minSamplingRate), and
// both rates are capped at MaxSamplingRate.
func NewStore(numCores int, table *freqtable.Table, minSamplingRate, defaultSamplingRate uint64) (*Store, error) {
	if numCores < 1 {
		return nil, errors.Errorf("invalid core count %d", numCores)
	}
	if table == nil {
		return nil, freqtable.ErrEmptyTable
	}

	s := &Store{
		numCores: numCores,
		keys:     make(map[string]*keyDef),
	}
	for _, k := range buildKeys(numCores, table) {
		s.keys[k.name] = k
		s.order = append(s.order, k.name)
	}

	minSamplingRate = lo.Min([]uint64{minSamplingRate, MaxSamplingRate})
	samplingRate := lo.Clamp(defaultSamplingRate, minSamplingRate, MaxSamplingRate)
	s.current.Store(newDefaultTunables(numCores, minSamplingRate, samplingRate))
	return s, nil
}

// Snapshot returns the current tunables; callers must not modify it.
func (s *Store) Snapshot() *Tunables {
	return s.current.Load()
}

func (s *Store) NumCores() int {
	return s.numCores
}

// Keys lists every key, including per-core hotplug keys, in a stable order.
func (s *Store) Keys() []string {
	return append([]string(nil), s.order...)
}

func (s *Store) lookup(key string) (*keyDef, bool) {
	if alias, ok := keyAliases[key]; ok {
		key = alias
	}
	k, ok := s.keys[key]
	return k, ok
}

func (s *Store) Get(key string) (string, error) {
	k, ok := s.lookup(key)
	if !ok {
		return "", &ConfigurationError{Key: key, Err: ErrUnknownKey}
	}
	return strconv.FormatInt(k.get(s.Snapshot()), 10), nil
}

// All returns every key with its current value, read from one snapshot.
func (s *Store) All() map[string]string {
	t := s.Snapshot()
	return lo.SliceToMap(s.order, func(key string) (string, string) {
		return key, strconv.FormatInt(s.keys[key].get(t), 10)
	})
}

func (s *Store) Subscribe(f Subscriber) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.subscribers = append(s.subscribers, f)
}

// Set validates value against the current snapshot and publishes a copy
// carrying the change. A rejected write leaves the store untouched.
func (s *Store) Set(key, value string) error {
	k, ok := s.lookup(key)
	if !ok {
		return &ConfigurationError{Key: key, Value: value, Err: ErrUnknownKey}
	}
	if k.readOnly {
		return &ConfigurationError{Key: k.name, Value: value, Err: ErrReadOnly}
	}

	v, err := parseValue(value)
	if err != nil {
		return &ConfigurationError{Key: k.name, Value: value, Err: ErrInvalidValue, Reason: err.Error()}
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	old := s.current.Load()
	if err := k.validate(old, v); err != nil {
		return &ConfigurationError{Key: k.name, Value: value, Err: ErrInvalidValue, Reason: err.Error()}
	}
	if k.get(old) == v {
		return nil
	}

	updated := old.Clone()
	k.set(updated, v)
	s.current.Store(updated)
	general.Infof("tunable %s changed from %d to %d", k.name, k.get(old), v)

	for _, sub := range s.subscribers {
		sub(k.name, old, updated)
	}
	return nil
}

func parseValue(value string) (int64, error) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return strconv.ParseInt(value, 10, 64)
}
