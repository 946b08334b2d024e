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

// Package threshold resolves the operator's --threshold expression into an
// absolute byte count, fresh on every vacuum so a percentage expression
// tracks filesystem capacity changes.
package threshold

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/reaperd/reaperd/pkg/humanbytes"
)

// CapacityFunc reports the total byte capacity of the filesystem hosting
// the engine's data directory. ok is false on platforms where capacity
// cannot be discovered.
type CapacityFunc func() (bytes uint64, ok bool, err error)

// Expr is a parsed, not-yet-resolved threshold expression.
type Expr struct {
	raw        string
	percentage float64 // valid only when isPercent
	isPercent  bool
	bytes      int64 // valid only when !isPercent
}

// Parse accepts either a byte expression (see pkg/humanbytes) or an "N%"
// percentage-of-capacity expression.
func Parse(s string) (Expr, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Expr{}, fmt.Errorf("empty threshold expression")
	}

	if strings.HasSuffix(trimmed, "%") {
		numPart := strings.TrimSpace(strings.TrimSuffix(trimmed, "%"))
		pct, err := strconv.ParseFloat(numPart, 64)
		if err != nil {
			return Expr{}, fmt.Errorf("invalid percentage threshold %q: %w", s, err)
		}
		if pct <= 0 || pct > 100 {
			return Expr{}, fmt.Errorf("percentage threshold %q must be in (0, 100]", s)
		}
		return Expr{raw: trimmed, percentage: pct, isPercent: true}, nil
	}

	b, err := humanbytes.Parse(trimmed)
	if err != nil {
		return Expr{}, fmt.Errorf("invalid threshold expression %q: %w", s, err)
	}
	return Expr{raw: trimmed, bytes: b}, nil
}

// String returns the original expression, for flag help and logging.
func (e Expr) String() string { return e.raw }

// Resolve produces an absolute byte count. capacity is consulted only for
// percentage expressions; it may be nil for absolute ones.
func (e Expr) Resolve(capacity CapacityFunc) (int64, error) {
	if !e.isPercent {
		return e.bytes, nil
	}
	if capacity == nil {
		return 0, fmt.Errorf("percentage threshold %q requires filesystem capacity, which is unavailable on this platform", e.raw)
	}
	total, ok, err := capacity()
	if err != nil {
		return 0, fmt.Errorf("resolving filesystem capacity: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("percentage threshold %q requires filesystem capacity, which is unavailable on this platform", e.raw)
	}
	return int64(float64(total) * e.percentage / 100), nil
}
