// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package humanbytes parses the byte-size expressions accepted by the
// --threshold flag: "<N>[ ]<unit>" with both SI (kB, MB, ...) and binary
// (KiB, MiB, ...) unit families, in the spirit of the docker CLI's own
// --memory flag parser (github.com/docker/cli/opts.MemBytes, which in
// turn wraps github.com/docker/go-units' RAMInBytes), extended here to
// keep the SI and IEC prefixes distinct instead of collapsing "kb" and
// "kib" onto the same multiplier the way docker's single-family parser
// does.
//
// go-units' own RAMInBytes can't serve this directly: it treats "kb" and
// "kib" as the same 1024-based unit, so a threshold of "10kb" would
// silently resolve to 10240 bytes instead of 10000 — exactly the
// distinction an eviction threshold needs to get right.
package humanbytes

import (
	"fmt"
	"strconv"
	"strings"
)

type unit struct {
	suffix     string
	multiplier int64
}

// Ordered longest-suffix-first so e.g. "MiB" is matched before "B".
var units = []unit{
	{"kib", 1 << 10}, {"kb", 1000}, {"k", 1000},
	{"mib", 1 << 20}, {"mb", 1000 * 1000}, {"m", 1000 * 1000},
	{"gib", 1 << 30}, {"gb", 1000 * 1000 * 1000}, {"g", 1000 * 1000 * 1000},
	{"tib", 1 << 40}, {"tb", 1000 * 1000 * 1000 * 1000}, {"t", 1000 * 1000 * 1000 * 1000},
	{"b", 1},
}

// Parse converts a byte-size expression into an absolute byte count. It
// accepts an optional space between the number and the unit, and is
// case-insensitive (so "10 GB", "10GiB", "10gib" all parse).
func Parse(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty byte expression")
	}
	lower := strings.ToLower(trimmed)

	for _, u := range units {
		if !strings.HasSuffix(lower, u.suffix) {
			continue
		}
		numPart := strings.TrimSpace(strings.TrimSuffix(lower, u.suffix))
		if numPart == "" {
			continue
		}
		f, err := strconv.ParseFloat(numPart, 64)
		if err != nil {
			continue
		}
		if f < 0 {
			return 0, fmt.Errorf("byte expression %q must not be negative", s)
		}
		return int64(f * float64(u.multiplier)), nil
	}
	return 0, fmt.Errorf("invalid byte expression %q", s)
}
