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

// Package cmdutil holds small helpers around os/exec shared by every
// package that shells out to the container engine's CLI.
package cmdutil

import (
	"bytes"
	"context"
	"os/exec"
)

// NewStdCmd builds a context-bound command for a one-shot engine
// invocation. It wires no standard streams; callers such as Capture attach
// their own.
func NewStdCmd(ctx context.Context, name string, arg ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, arg...)
}

// Capture runs cmd to completion, returning stdout, or on failure an error
// carrying the full captured stderr. Stdin is never wired up: every command this package builds is
// non-interactive.
func Capture(cmd *exec.Cmd) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, &ExitError{Err: err, Stderr: stderr.String()}
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// ExitError wraps a failed command with its captured stderr so callers can
// classify engine error strings without re-reading the process output.
type ExitError struct {
	Err    error
	Stderr string
}

func (e *ExitError) Error() string {
	return e.Err.Error() + ": " + e.Stderr
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
