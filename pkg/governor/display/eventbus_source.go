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

	"github.com/pkg/errors"

	"github.com/kubewharf/katalyst-governor/pkg/util/eventbus"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

const (
	eventBusSubscriberName = "governor-display"
	eventBusBufferSize     = 16
)

// EventBusSource forwards DisplayStateEvent published on the
// display-state topic.
type EventBusSource struct {
	bus eventbus.EventBus
}

func NewEventBusSource(bus eventbus.EventBus) *EventBusSource {
	return &EventBusSource{bus: bus}
}

func (s *EventBusSource) Run(ctx context.Context, out chan<- State) error {
	err := s.bus.Subscribe(eventbus.TopicNameDisplayState, eventBusSubscriberName, eventBusBufferSize,
		func(e interface{}) error {
			ev, ok := e.(eventbus.DisplayStateEvent)
			if !ok {
				return errors.Errorf("unexpected event %T on %s", e, eventbus.TopicNameDisplayState)
			}

			state := StateOff
			if ev.On {
				state = StateOn
			}
			general.Infof("display %v from %s", state, ev.Source)
			send(ctx, out, state)
			return nil
		})
	if err != nil {
		return errors.Wrap(err, "subscribe display state")
	}

	<-ctx.Done()
	return nil
}
