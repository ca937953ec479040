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

package metrics

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsEmitter registers one vector per metric key lazily; the
// label names of a key are fixed by its first emission.
type PrometheusMetricsEmitter struct {
	namespace string
	registry  *prometheus.Registry

	mtx      sync.Mutex
	gauges   map[string]*labeledGauge
	counters map[string]*labeledCounter
}

type labeledGauge struct {
	labels []string
	vec    *prometheus.GaugeVec
}

type labeledCounter struct {
	labels []string
	vec    *prometheus.CounterVec
}

var _ MetricEmitter = &PrometheusMetricsEmitter{}

func NewPrometheusMetricsEmitter(namespace string) *PrometheusMetricsEmitter {
	return &PrometheusMetricsEmitter{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		gauges:    make(map[string]*labeledGauge),
		counters:  make(map[string]*labeledCounter),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (p *PrometheusMetricsEmitter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusMetricsEmitter) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusMetricsEmitter) StoreInt64(key string, val int64, emitType MetricTypeName, tags ...MetricTag) error {
	return p.StoreFloat64(key, float64(val), emitType, tags...)
}

func (p *PrometheusMetricsEmitter) StoreFloat64(key string, val float64, emitType MetricTypeName, tags ...MetricTag) error {
	names, values := splitTags(tags)
	name := sanitizeName(key)

	p.mtx.Lock()
	defer p.mtx.Unlock()

	switch emitType {
	case MetricTypeNameRaw, MetricTypeNameUpDownCount:
		g, ok := p.gauges[name]
		if !ok {
			g = &labeledGauge{
				labels: names,
				vec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
					Namespace: p.namespace,
					Name:      name,
					Help:      key,
				}, names),
			}
			if err := p.registry.Register(g.vec); err != nil {
				return errors.Wrapf(err, "register gauge %s", name)
			}
			p.gauges[name] = g
		}
		if !equalLabels(g.labels, names) {
			return errors.Errorf("metric %s labels %v mismatch %v", name, names, g.labels)
		}
		if emitType == MetricTypeNameRaw {
			g.vec.WithLabelValues(values...).Set(val)
		} else {
			g.vec.WithLabelValues(values...).Add(val)
		}
	case MetricTypeNameCount:
		if val < 0 {
			return errors.Errorf("counter %s cannot decrease by %v", name, val)
		}
		c, ok := p.counters[name]
		if !ok {
			c = &labeledCounter{
				labels: names,
				vec: prometheus.NewCounterVec(prometheus.CounterOpts{
					Namespace: p.namespace,
					Name:      name,
					Help:      key,
				}, names),
			}
			if err := p.registry.Register(c.vec); err != nil {
				return errors.Wrapf(err, "register counter %s", name)
			}
			p.counters[name] = c
		}
		if !equalLabels(c.labels, names) {
			return errors.Errorf("metric %s labels %v mismatch %v", name, names, c.labels)
		}
		c.vec.WithLabelValues(values...).Add(val)
	default:
		return errors.Errorf("unknown metric type %s", emitType)
	}
	return nil
}

func (p *PrometheusMetricsEmitter) WithTags(unit string, commonTags ...MetricTag) MetricEmitter {
	w := &MetricTagWrapper{MetricEmitter: p}
	return w.WithTags(unit, commonTags...)
}

func (p *PrometheusMetricsEmitter) Run(_ context.Context) {}

// splitTags orders tags by key so that the same set always maps to the
// same label names.
func splitTags(tags []MetricTag) ([]string, []string) {
	sorted := append([]MetricTag(nil), tags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	names := make([]string, 0, len(sorted))
	values := make([]string, 0, len(sorted))
	for _, t := range sorted {
		names = append(names, sanitizeName(t.Key))
		values = append(values, t.Val)
	}
	return names, values
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
