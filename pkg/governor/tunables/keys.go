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

package tunables

import (
	"fmt"

	"github.com/kubewharf/katalyst-governor/pkg/governor/freqtable"
)

const (
	KeySamplingRate                    = "sampling_rate"
	KeySamplingRateSleepMultiplier     = "sampling_rate_sleep_multiplier"
	KeyUpThreshold                     = "up_threshold"
	KeyDownThreshold                   = "down_threshold"
	KeyUpThresholdSleep                = "up_threshold_sleep"
	KeyDownThresholdSleep              = "down_threshold_sleep"
	KeyFreqStep                        = "freq_step"
	KeyFreqStepSleep                   = "freq_step_sleep"
	KeyIgnoreNiceLoad                  = "ignore_nice_load"
	KeyGradUpThreshold                 = "grad_up_threshold"
	KeyEarlyDemand                     = "early_demand"
	KeyFastScaling                     = "fast_scaling"
	KeyFastScalingSleep                = "fast_scaling_sleep"
	KeyFreqLimit                       = "freq_limit"
	KeyFreqLimitSleep                  = "freq_limit_sleep"
	KeyDisableHotplug                  = "disable_hotplug"
	KeyHotplugSleep                    = "hotplug_sleep"
	KeyHotplugUpCycles                 = "hotplug_up_cycles"
	KeyHotplugDownCycles               = "hotplug_down_cycles"
	KeySamplingDownFactor              = "sampling_down_factor"
	KeySamplingDownMaxMomentum         = "sampling_down_max_momentum"
	KeySamplingDownMomentumSensitivity = "sampling_down_momentum_sensitivity"
	KeyLcdFreqEnable                   = "lcdfreq_enable"
	KeyLcdFreqKickInDownDelay          = "lcdfreq_kick_in_down_delay"
	KeyLcdFreqKickInUpDelay            = "lcdfreq_kick_in_up_delay"
	KeyLcdFreqKickInFreq               = "lcdfreq_kick_in_freq"
	KeyLcdFreqKickInCores              = "lcdfreq_kick_in_cores"
	KeyMinSamplingRate                 = "min_sampling_rate"

	keyUpThresholdHotplugPrefix   = "up_threshold_hotplug"
	keyDownThresholdHotplugPrefix = "down_threshold_hotplug"
)

var keyAliases = map[string]string{
	"ignore_nice": KeyIgnoreNiceLoad,
}

func KeyUpThresholdHotplug(core int) string {
	return fmt.Sprintf("%s%d", keyUpThresholdHotplugPrefix, core)
}

func KeyDownThresholdHotplug(core int) string {
	return fmt.Sprintf("%s%d", keyDownThresholdHotplugPrefix, core)
}

type validateFunc func(cur *Tunables, v int64) error

// keyDef binds a configuration key to one field of Tunables.
type keyDef struct {
	name     string
	readOnly bool
	get      func(t *Tunables) int64
	set      func(t *Tunables, v int64)
	validate validateFunc
}

func outOfRange(v int64, format string, params ...interface{}) error {
	return fmt.Errorf("%d out of range, want %s", v, fmt.Sprintf(format, params...))
}

func inRange(min, max int64) validateFunc {
	return func(_ *Tunables, v int64) error {
		if v < min || v > max {
			return outOfRange(v, "[%d, %d]", min, max)
		}
		return nil
	}
}

func boolean() validateFunc {
	return inRange(0, 1)
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func intKey(name string, field func(t *Tunables) *int, validate validateFunc) *keyDef {
	return &keyDef{
		name:     name,
		get:      func(t *Tunables) int64 { return int64(*field(t)) },
		set:      func(t *Tunables, v int64) { *field(t) = int(v) },
		validate: validate,
	}
}

func uintKey(name string, field func(t *Tunables) *uint64, validate validateFunc) *keyDef {
	return &keyDef{
		name:     name,
		get:      func(t *Tunables) int64 { return int64(*field(t)) },
		set:      func(t *Tunables, v int64) { *field(t) = uint64(v) },
		validate: validate,
	}
}

func boolKey(name string, field func(t *Tunables) *bool) *keyDef {
	return &keyDef{
		name:     name,
		get:      func(t *Tunables) int64 { return b2i(*field(t)) },
		set:      func(t *Tunables, v int64) { *field(t) = v != 0 },
		validate: boolean(),
	}
}

// upThreshold validates the upper value of an up/down threshold pair.
func upThreshold(down func(t *Tunables) int) validateFunc {
	return func(cur *Tunables, v int64) error {
		if v <= int64(down(cur)) || v > 100 {
			return outOfRange(v, "(%d, 100]", down(cur))
		}
		return nil
	}
}

func downThreshold(up func(t *Tunables) int) validateFunc {
	return func(cur *Tunables, v int64) error {
		if v < 11 || v >= int64(up(cur)) {
			return outOfRange(v, "[11, %d)", up(cur))
		}
		return nil
	}
}

func freqLimit(table *freqtable.Table) validateFunc {
	return func(_ *Tunables, v int64) error {
		if v == 0 {
			return nil
		}
		if v < 0 {
			return outOfRange(v, "0 or a table frequency")
		}
		if _, ok := table.IndexOf(uint64(v)); !ok {
			return fmt.Errorf("%d is not a table frequency, want 0 or one of %v", v, table)
		}
		return nil
	}
}

// buildKeys returns the key registry in presentation order.
func buildKeys(numCores int, table *freqtable.Table) []*keyDef {
	keys := []*keyDef{
		uintKey(KeySamplingRate, func(t *Tunables) *uint64 { return &t.SamplingRate },
			func(cur *Tunables, v int64) error {
				if v < int64(cur.MinSamplingRate) || v > MaxSamplingRate {
					return outOfRange(v, "[%d, %d]", cur.MinSamplingRate, MaxSamplingRate)
				}
				return nil
			}),
		intKey(KeySamplingRateSleepMultiplier, func(t *Tunables) *int { return &t.SamplingRateSleepMultiplier }, inRange(1, 4)),
		intKey(KeyUpThreshold, func(t *Tunables) *int { return &t.UpThreshold },
			upThreshold(func(t *Tunables) int { return t.DownThreshold })),
		intKey(KeyDownThreshold, func(t *Tunables) *int { return &t.DownThreshold },
			downThreshold(func(t *Tunables) int { return t.UpThreshold })),
		intKey(KeyUpThresholdSleep, func(t *Tunables) *int { return &t.UpThresholdSleep },
			upThreshold(func(t *Tunables) int { return t.DownThresholdSleep })),
		intKey(KeyDownThresholdSleep, func(t *Tunables) *int { return &t.DownThresholdSleep },
			downThreshold(func(t *Tunables) int { return t.UpThresholdSleep })),
		intKey(KeyFreqStep, func(t *Tunables) *int { return &t.FreqStep }, inRange(0, 100)),
		intKey(KeyFreqStepSleep, func(t *Tunables) *int { return &t.FreqStepSleep }, inRange(0, 100)),
		boolKey(KeyIgnoreNiceLoad, func(t *Tunables) *bool { return &t.IgnoreNice }),
		intKey(KeyGradUpThreshold, func(t *Tunables) *int { return &t.GradUpThreshold }, inRange(11, 100)),
		boolKey(KeyEarlyDemand, func(t *Tunables) *bool { return &t.EarlyDemand }),
		intKey(KeyFastScaling, func(t *Tunables) *int { return &t.FastScaling }, inRange(0, 8)),
		intKey(KeyFastScalingSleep, func(t *Tunables) *int { return &t.FastScalingSleep }, inRange(0, 8)),
		uintKey(KeyFreqLimit, func(t *Tunables) *uint64 { return &t.FreqLimit }, freqLimit(table)),
		uintKey(KeyFreqLimitSleep, func(t *Tunables) *uint64 { return &t.FreqLimitSleep }, freqLimit(table)),
		intKey(KeyDisableHotplug, func(t *Tunables) *int { return &t.DisableHotplug },
			func(_ *Tunables, v int64) error {
				if v < 0 {
					return outOfRange(v, ">= 0")
				}
				return nil
			}),
		intKey(KeyHotplugSleep, func(t *Tunables) *int { return &t.HotplugSleep }, inRange(0, int64(numCores-1))),
		intKey(KeyHotplugUpCycles, func(t *Tunables) *int { return &t.HotplugUpCycles }, inRange(1, 1000)),
		intKey(KeyHotplugDownCycles, func(t *Tunables) *int { return &t.HotplugDownCycles }, inRange(1, 1000)),
		intKey(KeySamplingDownFactor, func(t *Tunables) *int { return &t.SamplingDownFactor },
			func(cur *Tunables, v int64) error {
				if v < 1 || v > 100000 {
					return outOfRange(v, "[1, 100000]")
				}
				if cur.MomentumEnabled() && v > int64(cur.SamplingDownMaxMomentum) {
					return outOfRange(v, "<= %s (%d)", KeySamplingDownMaxMomentum, cur.SamplingDownMaxMomentum)
				}
				return nil
			}),
		intKey(KeySamplingDownMaxMomentum, func(t *Tunables) *int { return &t.SamplingDownMaxMomentum },
			func(cur *Tunables, v int64) error {
				if v == 0 {
					return nil
				}
				if v < int64(cur.SamplingDownFactor) || v > 100000 {
					return outOfRange(v, "0 or [%d, 100000]", cur.SamplingDownFactor)
				}
				return nil
			}),
		intKey(KeySamplingDownMomentumSensitivity, func(t *Tunables) *int { return &t.SamplingDownMomentumSensitivity }, inRange(1, 500)),
		boolKey(KeyLcdFreqEnable, func(t *Tunables) *bool { return &t.LcdFreqEnable }),
		intKey(KeyLcdFreqKickInDownDelay, func(t *Tunables) *int { return &t.LcdFreqKickInDownDelay }, inRange(0, 100000)),
		intKey(KeyLcdFreqKickInUpDelay, func(t *Tunables) *int { return &t.LcdFreqKickInUpDelay }, inRange(0, 100000)),
		uintKey(KeyLcdFreqKickInFreq, func(t *Tunables) *uint64 { return &t.LcdFreqKickInFreq },
			func(_ *Tunables, v int64) error {
				if v < 0 {
					return outOfRange(v, ">= 0")
				}
				return nil
			}),
		intKey(KeyLcdFreqKickInCores, func(t *Tunables) *int { return &t.LcdFreqKickInCores }, inRange(0, int64(numCores))),
		{
			name:     KeyMinSamplingRate,
			readOnly: true,
			get:      func(t *Tunables) int64 { return int64(t.MinSamplingRate) },
		},
	}

	for i := 1; i < numCores; i++ {
		core := i
		keys = append(keys,
			&keyDef{
				name: KeyUpThresholdHotplug(core),
				get:  func(t *Tunables) int64 { return int64(t.UpThresholdHotplug[core]) },
				set:  func(t *Tunables, v int64) { t.UpThresholdHotplug[core] = int(v) },
				validate: func(cur *Tunables, v int64) error {
					if v == 0 {
						return nil
					}
					if v <= int64(cur.DownThresholdHotplug[core]) || v > 100 {
						return outOfRange(v, "0 or (%d, 100]", cur.DownThresholdHotplug[core])
					}
					return nil
				},
			},
			&keyDef{
				name: KeyDownThresholdHotplug(core),
				get:  func(t *Tunables) int64 { return int64(t.DownThresholdHotplug[core]) },
				set:  func(t *Tunables, v int64) { t.DownThresholdHotplug[core] = int(v) },
				validate: func(cur *Tunables, v int64) error {
					if v < 11 || v > 100 {
						return outOfRange(v, "[11, 100]")
					}
					if up := cur.UpThresholdHotplug[core]; up != 0 && v >= int64(up) {
						return outOfRange(v, "[11, %d)", up)
					}
					return nil
				},
			},
		)
	}
	return keys
}
