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

package engine

import (
	"context"
	"errors"
)

// ErrUnreachable is returned when the engine cannot be contacted at all
// (binary missing, daemon down). The supervisor treats it as retryable.
var ErrUnreachable = errors.New("engine unreachable")

// Adapter is the full surface the vacuum loop needs from a container
// engine. A real implementation shells out to the engine's CLI; tests use
// an in-memory fake.
type Adapter interface {
	// StreamEvents starts a new event stream on every call.
	// The returned event channel is closed when the stream ends; the error
	// channel carries at most one error, sent just before the event
	// channel closes. Once the stream has started, a synthetic KindSync
	// event with ImageID "" is sent before any real event.
	StreamEvents(ctx context.Context) (<-chan Event, <-chan error)

	// ListImages returns a full snapshot of every image the engine knows
	// about.
	ListImages(ctx context.Context) ([]Image, error)

	// ListContainers returns every container, regardless of state.
	ListContainers(ctx context.Context) ([]Container, error)

	// DeleteImage requests deletion of a single image.
	DeleteImage(ctx context.Context, id ImageID) (DeleteOutcome, error)

	// Close tears down any long-lived child process. Safe to call more
	// than once.
	Close() error
}
