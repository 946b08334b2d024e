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

package threshold

import "testing"

func TestParseAndResolveAbsolute(t *testing.T) {
	e, err := Parse("10GB")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := e.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := int64(10_000_000_000); got != want {
		t.Errorf("Resolve = %d, want %d", got, want)
	}
}

func TestParseAndResolvePercentage(t *testing.T) {
	e, err := Parse("50%")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cap := func() (uint64, bool, error) { return 1000, true, nil }
	got, err := e.Resolve(cap)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != 500 {
		t.Errorf("Resolve = %d, want 500", got)
	}
}

func TestPercentageWithoutCapacityIsConfigError(t *testing.T) {
	e, err := Parse("50%")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := e.Resolve(nil); err == nil {
		t.Fatal("expected error resolving percentage threshold with no capacity function")
	}

	unavailable := func() (uint64, bool, error) { return 0, false, nil }
	if _, err := e.Resolve(unavailable); err == nil {
		t.Fatal("expected error when capacity function reports unavailable")
	}
}

func TestParseInvalidPercentage(t *testing.T) {
	for _, in := range []string{"0%", "101%", "abc%"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) expected error", in)
		}
	}
}
