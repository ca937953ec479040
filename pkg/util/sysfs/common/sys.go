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

package common

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kubewharf/katalyst-governor/pkg/util/eventbus"
)

// InstrumentedWriteFileIfChange wraps writeFileIfChange with audit logic:
// every applied write is published on the apply-sysfs topic.
func InstrumentedWriteFileIfChange(dir, file, data string) (applied bool, oldData string, err error) {
	startTime := time.Now()
	defer func() {
		if applied {
			_ = eventbus.GetDefaultEventBus().Publish(eventbus.TopicNameApplySysFS, eventbus.RawSysfsEvent{
				BaseEventImpl: eventbus.BaseEventImpl{
					Time: startTime,
				},
				Cost:    time.Since(startTime),
				SysPath: dir,
				SysFile: file,
				Data:    data,
				OldData: oldData,
			})
		}
	}()

	applied, oldData, err = writeFileIfChange(dir, file, data)
	return
}

// writeFileIfChange writes data to the file joined by dir and file if new
// data is not equal to the old data, and returns the old data.
func writeFileIfChange(dir, file, data string) (bool, string, error) {
	path := filepath.Join(dir, file)
	oldData, err := os.ReadFile(path)
	if err != nil {
		return false, "", err
	}
	oldDataStr := strings.TrimSpace(string(oldData))

	if strings.TrimSpace(data) == oldDataStr {
		return false, oldDataStr, nil
	}
	if err = os.WriteFile(path, []byte(data), 0o644); err != nil {
		return false, oldDataStr, err
	}
	return true, oldDataStr, nil
}
