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

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	homedir "github.com/mitchellh/go-homedir"
)

// appName names the subdirectory reaperd keeps its state under, mirroring
// the teacher's "~/.yeet" convention in cmd/yeet/yeet.go.
const appName = "reaperd"

// DefaultPath resolves the platform-appropriate per-user data directory
// for the state file, honoring REAPERD_DATA_DIR as an override for
// environments (containers, tests) where the real per-user directory
// isn't writable.
func DefaultPath() (string, error) {
	if dir := os.Getenv("REAPERD_DATA_DIR"); dir != "" {
		return filepath.Join(dir, stateFileName()), nil
	}

	base, err := dataDir()
	if err != nil {
		return "", fmt.Errorf("resolving data directory: %w", err)
	}
	return filepath.Join(base, appName, stateFileName()), nil
}

func stateFileName() string {
	return fmt.Sprintf("state-v%d.json", CurrentSchemaVersion)
}

func dataDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support"), nil
	case "windows":
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return v, nil
		}
		home, err := homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "AppData", "Local"), nil
	default:
		if v := os.Getenv("XDG_DATA_HOME"); v != "" {
			return v, nil
		}
		home, err := homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share"), nil
	}
}

// homeDir prefers the stdlib resolver and falls back to go-homedir, which
// additionally understands environments (notably older Windows, and
// cross-compiled builds) where os.UserHomeDir's environment-variable
// lookup comes up empty.
func homeDir() (string, error) {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h, nil
	}
	return homedir.Dir()
}
