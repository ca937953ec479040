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

package general

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	FlockCoolingInterval = 2 * time.Second
	FlockTryLockMaxTimes = 5
)

type FileWatcherInfo struct {
	// if Filename is empty, every event under Path is reported,
	// otherwise only events of this specific file.
	Filename string
	Path     []string
	Op       fsnotify.Op
}

// RegisterFileEventWatcher watches the given paths and notifies the caller
// through the returned channel. Notifications are coalesced: a pending
// signal that has not been consumed yet absorbs later events.
func RegisterFileEventWatcher(stop <-chan struct{}, info FileWatcherInfo) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "new fsnotify watcher failed")
	}

	for _, p := range info.Path {
		if err := watcher.Add(p); err != nil {
			_ = watcher.Close()
			return nil, errors.Wrapf(err, "failed to watch path %s", p)
		}
	}

	watcherCh := make(chan struct{}, 1)
	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				Errorf("failed to close watcher: %v", err)
			}
		}()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if info.Filename != "" && filepath.Base(event.Name) != info.Filename {
					continue
				}
				if event.Op&info.Op == 0 {
					continue
				}
				InfofV(4, "fsnotify watcher notify %s", event)
				select {
				case watcherCh <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				Warningf("%v watcher error: %v", info.Path, err)
			case <-stop:
				Infof("shutting down event watcher %v", info.Path)
				return
			}
		}
	}()

	return watcherCh, nil
}

// IsPathExists is to check this path whether exists
func IsPathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}

// Flock is an exclusive advisory lock on a file, used to keep a single
// governor instance per host.
type Flock struct {
	LockFile string
	lock     *os.File
}

func createFlock(file string) (*Flock, error) {
	if file == "" {
		return nil, errors.New("cannot create flock on empty path")
	}
	lock, err := os.Create(file)
	if err != nil {
		return nil, err
	}
	return &Flock{LockFile: file, lock: lock}, nil
}

func (f *Flock) tryLock() error {
	return unix.Flock(int(f.lock.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func (f *Flock) release() {
	_ = unix.Flock(int(f.lock.Fd()), unix.LOCK_UN)
	_ = f.lock.Close()
}

func getUniqueLockWithTimeout(filename string, interval time.Duration, tries int) (*Flock, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, errors.Wrapf(err, "ensure lock directory of %s", filename)
	}

	lock, err := createFlock(filename)
	if err != nil {
		return nil, err
	}

	for i := 0; i < tries; i++ {
		if err = lock.tryLock(); err == nil {
			Infof("get lock %s successfully", filename)
			return lock, nil
		}
		InfofV(2, "try to get unique lock %s, count: %d", filename, i+1)
		time.Sleep(interval)
	}

	_ = lock.lock.Close()
	return nil, errors.Wrapf(err, "lock %s is held by another process", filename)
}

// GetUniqueLock acquires the file lock with the default retry settings.
func GetUniqueLock(filename string) (*Flock, error) {
	return getUniqueLockWithTimeout(filename, FlockCoolingInterval, FlockTryLockMaxTimes)
}

func ReleaseUniqueLock(lock *Flock) {
	if lock == nil {
		return
	}
	lock.release()
	Infof("release lock %s successfully", lock.LockFile)
}
