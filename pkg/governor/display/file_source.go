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

package display

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

// FileSource watches a file holding the display state, e.g. a backlight
// power node or a file maintained by a session manager. The current
// content is reported at start and on every change.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) read() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return StateUnknown, errors.Wrapf(err, "read display state %s", s.path)
	}
	return ParseState(string(data))
}

func (s *FileSource) Run(ctx context.Context, out chan<- State) error {
	ch, err := general.RegisterFileEventWatcher(ctx.Done(), general.FileWatcherInfo{
		Filename: filepath.Base(s.path),
		Path:     []string{filepath.Dir(s.path)},
		Op:       fsnotify.Create | fsnotify.Write,
	})
	if err != nil {
		return errors.Wrapf(err, "watch display state %s", s.path)
	}

	last := StateUnknown
	report := func() {
		state, err := s.read()
		if err != nil {
			general.Warningf("ignore display state: %v", err)
			return
		}
		if state == last {
			return
		}
		last = state
		general.Infof("display %v from %s", state, s.path)
		send(ctx, out, state)
	}

	report()
	for {
		select {
		case <-ch:
			report()
		case <-ctx.Done():
			return nil
		}
	}
}
