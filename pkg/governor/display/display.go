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

// Package display delivers display on/off notifications from the host.
package display

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kubewharf/katalyst-governor/pkg/util/eventbus"
)

type State int

const (
	StateUnknown State = iota
	StateOn
	StateOff
)

func (s State) String() string {
	switch s {
	case StateOn:
		return "on"
	case StateOff:
		return "off"
	default:
		return "unknown"
	}
}

var ErrUnknownState = errors.New("unknown display state")

// ParseState accepts on/off, 1/0 and the fb blank names unblank/blank.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1", "unblank":
		return StateOn, nil
	case "off", "0", "blank", "powerdown":
		return StateOff, nil
	default:
		return StateUnknown, errors.Wrapf(ErrUnknownState, "%q", s)
	}
}

// Source pushes display states into out until ctx is done. Consecutive
// duplicates are allowed; the consumer ignores them.
type Source interface {
	Run(ctx context.Context, out chan<- State) error
}

// PublishState announces a display state on bus, picked up by
// EventBusSource.
func PublishState(bus eventbus.EventBus, state State, source string) error {
	if state == StateUnknown {
		return ErrUnknownState
	}
	return bus.Publish(eventbus.TopicNameDisplayState, eventbus.DisplayStateEvent{
		BaseEventImpl: eventbus.BaseEventImpl{Time: time.Now()},
		On:            state == StateOn,
		Source:        source,
	})
}

func send(ctx context.Context, out chan<- State, s State) {
	select {
	case out <- s:
	case <-ctx.Done():
	}
}
