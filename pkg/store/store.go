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

// Package store is the durable per-image last-used timestamp record. It
// persists a single versioned JSON document, atomically, with a
// zstd-compressed backup of the previous generation kept alongside it.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// CurrentSchemaVersion bumps whenever the Document shape changes
// incompatibly. Loading a file with an unrecognized version discards it
// rather than trying to migrate, per spec: conservative, no spurious
// deletions after an upgrade.
const CurrentSchemaVersion = 1

// ImageID is the engine's opaque image identifier, duplicated here (rather
// than imported from pkg/engine) so this package has no dependency on the
// engine adapter.
type ImageID string

// Record is one image's persisted usage state.
type Record struct {
	LastUsed time.Time `json:"last_used"`
}

// Document is the full on-disk state.
type Document struct {
	SchemaVersion int                 `json:"schema_version"`
	Images        map[ImageID]Record  `json:"images"`
	FirstRun      bool                `json:"first_run"`
}

func emptyFirstRun() Document {
	return Document{SchemaVersion: CurrentSchemaVersion, Images: map[ImageID]Record{}, FirstRun: true}
}

func emptyNotFirstRun() Document {
	return Document{SchemaVersion: CurrentSchemaVersion, Images: map[ImageID]Record{}, FirstRun: false}
}

// Store reads and writes a Document at a fixed path on disk.
type Store struct {
	path string
}

// New returns a Store rooted at path. The containing directory is created
// lazily on first Save.
func New(path string) *Store {
	return &Store{path: path}
}

// Path reports the on-disk location this store reads and writes.
func (s *Store) Path() string { return s.path }

// Load reads the document. A missing file yields an empty, first-run
// document. An unreadable-version file is discarded in place (not an
// error) per spec §4.2, becoming an empty, non-first-run document.
func (s *Store) Load() (Document, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptyFirstRun(), nil
		}
		return Document{}, fmt.Errorf("reading state file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return emptyNotFirstRun(), nil
	}
	if doc.SchemaVersion != CurrentSchemaVersion {
		return emptyNotFirstRun(), nil
	}
	if doc.Images == nil {
		doc.Images = map[ImageID]Record{}
	}
	return doc, nil
}

// Save persists doc atomically: a temp file is written on the same
// filesystem as the destination, fsynced, then renamed over it. Before the
// rename, whatever document currently occupies the destination is kept as
// a zstd-compressed backup, so a torn write anywhere still leaves the
// previous valid generation recoverable on disk.
func (s *Store) Save(doc Document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	if err := s.backupPrevious(); err != nil {
		// A failed backup must not block a valid save; the atomic rename
		// below is the real durability guarantee.
		_ = err
	}

	doc.SchemaVersion = CurrentSchemaVersion
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state document: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming temp state file into place: %w", err)
	}
	return nil
}

// backupPrevious compresses whatever is currently at s.path into a
// ".bak.zst" sibling, overwriting any prior backup. Missing source file is
// not an error (first save ever).
func (s *Store) backupPrevious() error {
	src, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer src.Close()

	dst, err := os.Create(s.path + ".bak.zst")
	if err != nil {
		return err
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		return err
	}
	defer enc.Close()

	if _, err := enc.ReadFrom(src); err != nil {
		return err
	}
	return enc.Close()
}
