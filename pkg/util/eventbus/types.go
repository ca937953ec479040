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

package eventbus

import (
	"time"
)

const (
	// TopicNameApplySysFS carries RawSysfsEvent for every sysfs write
	// that changed a value.
	TopicNameApplySysFS = "apply-sysfs"
	// TopicNameDisplayState carries DisplayStateEvent.
	TopicNameDisplayState = "display-state"
)

type BaseEventImpl struct {
	Time time.Time
}

type RawSysfsEvent struct {
	BaseEventImpl
	Cost    time.Duration
	SysPath string
	SysFile string
	Data    string
	OldData string
}

// DisplayStateEvent reports the display being switched on or off.
type DisplayStateEvent struct {
	BaseEventImpl
	On     bool
	Source string
}
