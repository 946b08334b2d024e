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

// Package engine adapts the container engine's CLI into the small surface
// the vacuum loop needs: an event stream, two snapshot listings, and a
// delete call. Everything here is a child process; the package never talks
// to the engine's daemon socket directly.
package engine

import (
	"time"
)

// ImageID is the engine's opaque content-addressed image identifier.
type ImageID string

// Kind classifies an observed engine event.
type Kind string

const (
	KindPull    Kind = "pull"
	KindImport  Kind = "import"
	KindLoad    Kind = "load"
	KindBuild   Kind = "build"
	KindTag     Kind = "tag"
	KindCreate  Kind = "create"  // container lifecycle
	KindDestroy Kind = "destroy" // container lifecycle
	KindSync    Kind = "sync"    // synthetic, emitted once before any real event
	KindOther   Kind = "other"   // delete, untag, and anything unrecognized
)

// Relevant reports whether an event of this kind should refresh an image's
// last-used timestamp and be considered for triggering a vacuum. Image
// delete and untag are deliberately excluded: treating them as uses would
// refresh the timestamp at the moment of removal.
func Relevant(k Kind) bool {
	switch k {
	case KindPull, KindImport, KindLoad, KindBuild, KindTag, KindCreate, KindDestroy, KindSync:
		return true
	default:
		return false
	}
}

// GrowsUsage reports whether an event of this kind can plausibly increase
// on-disk usage, i.e. whether a vacuum driven purely by efficiency should
// never skip it. Sync always grows (it's the unconditional first vacuum).
func GrowsUsage(k Kind) bool {
	switch k {
	case KindPull, KindImport, KindLoad, KindBuild, KindTag, KindSync:
		return true
	default:
		return false
	}
}

// Event is one record off the engine's event stream, already normalized.
type Event struct {
	Kind    Kind
	ImageID ImageID
	At      time.Time
}

// Image is one entry from a full image listing.
type Image struct {
	ID        ImageID
	ParentID  ImageID // "" if the image has no parent
	CreatedAt time.Time
	SizeBytes int64
	RepoTags  []string // "repository:tag" pairs verbatim as the engine reports them; "<none>:<none>" and unparsable entries excluded
}

// Container is one entry from a full container listing, in any state.
type Container struct {
	ID      string
	ImageID ImageID
	State   string
}

// DeleteOutcome classifies the result of a delete request.
type DeleteOutcome int

const (
	DeleteOK DeleteOutcome = iota
	DeleteNotFound
	DeleteHasChildren
	DeleteInUse
	DeleteOtherError
)

func (o DeleteOutcome) String() string {
	switch o {
	case DeleteOK:
		return "ok"
	case DeleteNotFound:
		return "not-found"
	case DeleteHasChildren:
		return "has-children"
	case DeleteInUse:
		return "in-use"
	default:
		return "other-error"
	}
}
