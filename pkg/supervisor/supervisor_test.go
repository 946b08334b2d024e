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

package supervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/reaperd/reaperd/pkg/engine"
	"github.com/reaperd/reaperd/pkg/logging"
	"github.com/reaperd/reaperd/pkg/store"
	"github.com/reaperd/reaperd/pkg/threshold"
	"github.com/reaperd/reaperd/pkg/vacuum"
)

// stubAdapter reports a single known image, never in use, far under any
// threshold, so a triggered vacuum is a cheap no-op and tests can focus on
// whether the store's timestamp was refreshed.
type stubAdapter struct {
	images []engine.Image
}

func (s *stubAdapter) StreamEvents(ctx context.Context) (<-chan engine.Event, <-chan error) {
	panic("not used by handle() directly")
}
func (s *stubAdapter) ListImages(ctx context.Context) ([]engine.Image, error) { return s.images, nil }
func (s *stubAdapter) ListContainers(ctx context.Context) ([]engine.Container, error) {
	return nil, nil
}
func (s *stubAdapter) DeleteImage(ctx context.Context, id engine.ImageID) (engine.DeleteOutcome, error) {
	return engine.DeleteOK, nil
}
func (s *stubAdapter) Close() error { return nil }

func newTestSupervisor(t *testing.T, seed store.Document) (*Supervisor, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	st := store.New(path)
	if err := st.Save(seed); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	thr, err := threshold.Parse("1TB")
	if err != nil {
		t.Fatalf("Parse threshold: %v", err)
	}
	s := &Supervisor{
		Store:      st,
		VacuumOpts: vacuum.Options{Threshold: thr, ChunkSize: 1},
		Log:        logging.New(nil),
	}
	s.refreshKnown()
	return s, st
}

func TestHandleRefreshesTimestampOnRefreshOnlyEvent(t *testing.T) {
	now := time.Now().Add(-time.Hour).Truncate(time.Second)
	images := []engine.Image{{ID: "img-a", CreatedAt: now, SizeBytes: 10}}
	seed := store.Document{
		SchemaVersion: store.CurrentSchemaVersion,
		Images:        map[store.ImageID]store.Record{"img-a": {LastUsed: now}},
	}
	s, st := newTestSupervisor(t, seed)
	ad := &stubAdapter{images: images}

	newAt := now.Add(30 * time.Minute)
	ev := engine.Event{Kind: engine.KindCreate, ImageID: "img-a", At: newAt}
	if err := s.handle(context.Background(), ad, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, ok := doc.Images["img-a"]
	if !ok {
		t.Fatal("expected img-a to still be tracked")
	}
	if !rec.LastUsed.Equal(newAt) {
		t.Errorf("LastUsed = %v, want %v (the event's own timestamp)", rec.LastUsed, newAt)
	}
}

func TestHandleBootstrapsUnknownImageAndVacuums(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	images := []engine.Image{{ID: "img-new", CreatedAt: now, SizeBytes: 10}}
	seed := store.Document{SchemaVersion: store.CurrentSchemaVersion, Images: map[store.ImageID]store.Record{}}
	s, st := newTestSupervisor(t, seed)
	ad := &stubAdapter{images: images}

	ev := engine.Event{Kind: engine.KindCreate, ImageID: "img-new", At: now}
	if err := s.handle(context.Background(), ad, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, ok := doc.Images["img-new"]
	if !ok {
		t.Fatal("expected img-new to be tracked after its first event")
	}
	if !rec.LastUsed.Equal(now) {
		t.Errorf("LastUsed = %v, want %v", rec.LastUsed, now)
	}
}

func TestHandleSyncEventDoesNotTouchEmptyImageID(t *testing.T) {
	seed := store.Document{SchemaVersion: store.CurrentSchemaVersion, Images: map[store.ImageID]store.Record{}}
	s, st := newTestSupervisor(t, seed)
	ad := &stubAdapter{}

	ev := engine.Event{Kind: engine.KindSync, At: time.Now()}
	if err := s.handle(context.Background(), ad, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := doc.Images[""]; ok {
		t.Error("sync event must not create a record for an empty image id")
	}
}
