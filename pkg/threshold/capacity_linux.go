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

//go:build linux

package threshold

import "golang.org/x/sys/unix"

// Capacity returns a CapacityFunc that reports the total byte capacity of
// the filesystem hosting path, via statfs(2).
func Capacity(path string) CapacityFunc {
	return func() (uint64, bool, error) {
		var st unix.Statfs_t
		if err := unix.Statfs(path, &st); err != nil {
			return 0, false, err
		}
		return st.Blocks * uint64(st.Bsize), true, nil
	}
}
