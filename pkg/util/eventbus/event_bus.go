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
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/kubewharf/katalyst-governor/pkg/metrics"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

const (
	defaultBufferSize     = 64
	defaultReportInterval = 30 * time.Second

	ErrTypeNoSubscriber = "NoSubscriber"
	ErrTypeBufferFull   = "BufferFull"

	metricsNameEventBusError = "eventbus_error"
)

var ErrBufferFull = errors.New("buffer full")

var defaultEventBus = NewEventBus(defaultBufferSize)

func GetDefaultEventBus() EventBus {
	return defaultEventBus
}

type ConsumeFunc func(interface{}) error

// EventBus is an in-process pub/sub. Publishing never blocks: events are
// dropped when a topic or subscriber buffer is full.
type EventBus interface {
	Publish(topic string, event interface{}) error
	Subscribe(topic string, subscriber string, bufferSize int, handler ConsumeFunc) error
	// Run reports error statistics until ctx is done.
	Run(ctx context.Context)
	SetEmitter(emitter metrics.MetricEmitter)
}

type eventHandler struct {
	name    string
	buffer  chan interface{}
	handler ConsumeFunc
}

func (e *eventHandler) run() {
	for msg := range e.buffer {
		if err := e.handler(msg); err != nil {
			general.Errorf("subscriber %v handling event err: %v", e.name, err)
		}
	}
}

type topicContext struct {
	mutex         sync.RWMutex
	topic         string
	buffer        chan interface{}
	eventHandlers map[string]*eventHandler
	errCounter    map[string]*atomic.Uint64
}

func (t *topicContext) dispatch(event interface{}) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	for subscriber, handler := range t.eventHandlers {
		select {
		case handler.buffer <- event:
		default:
			t.errCounter[ErrTypeBufferFull].Inc()
			general.Warningf("topic %v subscriber %v buffer full, dropping event: %v", t.topic, subscriber, event)
		}
	}
}

func (t *topicContext) run() {
	for event := range t.buffer {
		t.dispatch(event)
	}
}

func (t *topicContext) registerHandler(subscriber string, bufferSize int, handler ConsumeFunc) error {
	if handler == nil {
		return errors.Errorf("nil handler for subscriber %v", subscriber)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, exists := t.eventHandlers[subscriber]; exists {
		return errors.Errorf("subscriber %v already subscribed topic %v", subscriber, t.topic)
	}
	e := &eventHandler{name: subscriber, handler: handler, buffer: make(chan interface{}, bufferSize)}
	go e.run()
	t.eventHandlers[subscriber] = e
	general.Infof("register subscriber: %v for topic: %v", subscriber, t.topic)
	return nil
}

type eventBus struct {
	mutex        sync.RWMutex
	bufferSize   int
	topicSet     sets.String
	topics       map[string]*topicContext
	noSubscriber *atomic.Uint64
	emitter      metrics.MetricEmitter
}

func NewEventBus(bufferSize int) EventBus {
	return &eventBus{
		topicSet:     sets.NewString(),
		topics:       make(map[string]*topicContext),
		bufferSize:   bufferSize,
		noSubscriber: atomic.NewUint64(0),
		emitter:      metrics.DummyMetrics{},
	}
}

func (e *eventBus) SetEmitter(emitter metrics.MetricEmitter) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.emitter = emitter.WithTags("eventbus")
}

func (e *eventBus) Run(ctx context.Context) {
	wait.Until(e.reportStatistic, defaultReportInterval, ctx.Done())
}

func (e *eventBus) reportStatistic() {
	e.mutex.RLock()
	emitter := e.emitter
	topics := e.topicSet.List()
	e.mutex.RUnlock()

	if n := e.noSubscriber.Swap(0); n > 0 {
		general.Infof("eventbus error counter: %v, %v", ErrTypeNoSubscriber, n)
		_ = emitter.StoreInt64(metricsNameEventBusError, int64(n), metrics.MetricTypeNameCount,
			metrics.MetricTag{Key: "type", Val: ErrTypeNoSubscriber})
	}

	for _, topic := range topics {
		t := e.getTopicContext(topic)
		for errType, counter := range t.errCounter {
			if n := counter.Swap(0); n > 0 {
				general.Infof("eventbus topic %v error counter: %v, %v", topic, errType, n)
				_ = emitter.StoreInt64(metricsNameEventBusError, int64(n), metrics.MetricTypeNameCount,
					metrics.MetricTag{Key: "type", Val: errType}, metrics.MetricTag{Key: "topic", Val: topic})
			}
		}
	}
}

func (e *eventBus) getOrRegisterTopic(topic string) *topicContext {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if ctx, exists := e.topics[topic]; exists {
		return ctx
	}

	ctx := &topicContext{
		topic:         topic,
		buffer:        make(chan interface{}, e.bufferSize),
		eventHandlers: make(map[string]*eventHandler),
		errCounter: map[string]*atomic.Uint64{
			ErrTypeBufferFull: atomic.NewUint64(0),
		},
	}
	e.topics[topic] = ctx
	e.topicSet.Insert(topic)
	go ctx.run()
	general.Infof("register new topic: %v", topic)
	return ctx
}

func (e *eventBus) getTopicContext(topic string) *topicContext {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.topics[topic]
}

// Publish of a topic nobody subscribed is counted and otherwise ignored.
func (e *eventBus) Publish(topic string, event interface{}) error {
	ctx := e.getTopicContext(topic)
	if ctx == nil {
		e.noSubscriber.Inc()
		return nil
	}

	select {
	case ctx.buffer <- event:
		return nil
	default:
		ctx.errCounter[ErrTypeBufferFull].Inc()
		return errors.Wrapf(ErrBufferFull, "topic %v", topic)
	}
}

func (e *eventBus) Subscribe(topic string, subscriber string, bufferSize int, handler ConsumeFunc) error {
	return e.getOrRegisterTopic(topic).registerHandler(subscriber, bufferSize, handler)
}
