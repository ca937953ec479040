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
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ParseLinuxListFormat parses the kernel list format used by files like
// /sys/devices/system/cpu/online, e.g. "0-3,6,8-9". The result is sorted
// and free of duplicates.
func ParseLinuxListFormat(listStr string) ([]int, error) {
	listStr = strings.TrimSpace(listStr)
	if listStr == "" {
		return nil, nil
	}

	var list []int
	for _, sec := range strings.Split(listStr, ",") {
		boundaries := strings.Split(sec, "-")
		switch len(boundaries) {
		case 1:
			val, err := strconv.Atoi(boundaries[0])
			if err != nil {
				return nil, fmt.Errorf("invalid section %s in %s", sec, listStr)
			}
			list = append(list, val)
		case 2:
			start, err := strconv.Atoi(boundaries[0])
			if err != nil {
				return nil, fmt.Errorf("invalid section %s in %s", sec, listStr)
			}
			end, err := strconv.Atoi(boundaries[1])
			if err != nil {
				return nil, fmt.Errorf("invalid section %s in %s", sec, listStr)
			}
			if start > end {
				return nil, fmt.Errorf("invalid section %s in %s", sec, listStr)
			}
			for i := start; i <= end; i++ {
				list = append(list, i)
			}
		default:
			return nil, fmt.Errorf("%s contains strange section %s", listStr, sec)
		}
	}

	list = lo.Uniq(list)
	sort.Ints(list)
	return list, nil
}

func ParseLinuxListFormatFromFile(filePath string) ([]int, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", filePath)
	}
	return ParseLinuxListFormat(string(b))
}

// ConvertLinuxListToString is the reverse of ParseLinuxListFormat.
func ConvertLinuxListToString(numbers []int) string {
	if len(numbers) == 0 {
		return ""
	}

	sorted := lo.Uniq(numbers)
	sort.Ints(sorted)

	var result bytes.Buffer
	start, end := sorted[0], sorted[0]
	flush := func() {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		if start == end {
			result.WriteString(strconv.Itoa(start))
		} else {
			result.WriteString(fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, n := range sorted[1:] {
		if n == end+1 {
			end = n
			continue
		}
		flush()
		start, end = n, n
	}
	flush()
	return result.String()
}

func ReadUint64FromFile(file string) (uint64, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", file)
	}

	s := strings.TrimSpace(string(b))
	val, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to parse %q from %s", s, file)
	}
	return val, nil
}

// ReadUint64FieldsFromFile reads whitespace separated unsigned integers,
// the format of scaling_available_frequencies.
func ReadUint64FieldsFromFile(file string) ([]uint64, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", file)
	}

	fields := strings.Fields(string(b))
	values := make([]uint64, 0, len(fields))
	for _, f := range fields {
		val, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %q from %s", f, file)
		}
		values = append(values, val)
	}
	return values, nil
}

func WriteUint64ToFile(file string, value uint64) error {
	return os.WriteFile(file, []byte(strconv.FormatUint(value, 10)), 0o644)
}
