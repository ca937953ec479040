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

import "context"

const unitTagKey = "unit"

// MetricTagWrapper decorates a MetricEmitter with a unit tag, naming the
// component that emits, plus tags shared by every item of that component.
type MetricTagWrapper struct {
	unitTag    MetricTag
	commonTags []MetricTag

	MetricEmitter
}

var _ MetricEmitter = &MetricTagWrapper{}

func (t *MetricTagWrapper) StoreInt64(key string, val int64, emitType MetricTypeName, tags ...MetricTag) error {
	return t.MetricEmitter.StoreInt64(key, val, emitType, t.merge(tags)...)
}

func (t *MetricTagWrapper) StoreFloat64(key string, val float64, emitType MetricTypeName, tags ...MetricTag) error {
	return t.MetricEmitter.StoreFloat64(key, val, emitType, t.merge(tags)...)
}

func (t *MetricTagWrapper) Run(_ context.Context) {}

// WithTags returns a new wrapper; the receiver is left untouched.
func (t *MetricTagWrapper) WithTags(unit string, commonTags ...MetricTag) MetricEmitter {
	w := &MetricTagWrapper{
		MetricEmitter: t.MetricEmitter,
		unitTag:       MetricTag{Key: unitTagKey, Val: unit},
		commonTags:    append([]MetricTag(nil), t.commonTags...),
	}
	w.commonTags = upsertTags(w.commonTags, commonTags)
	return w
}

// merge lets item tags override common tags of the same key.
func (t *MetricTagWrapper) merge(tags []MetricTag) []MetricTag {
	merged := upsertTags(append([]MetricTag(nil), t.commonTags...), tags)
	return upsertTags(merged, []MetricTag{t.unitTag})
}

func upsertTags(dst, tags []MetricTag) []MetricTag {
	for _, tag := range tags {
		exist := false
		for i := range dst {
			if dst[i].Key == tag.Key {
				dst[i].Val = tag.Val
				exist = true
				break
			}
		}
		if !exist {
			dst = append(dst, tag)
		}
	}
	return dst
}
