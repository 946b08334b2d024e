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

package graph

import (
	"regexp"
	"testing"
	"time"

	"github.com/reaperd/reaperd/pkg/engine"
	"github.com/reaperd/reaperd/pkg/store"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// chain builds a grandparent -> parent -> child lineage, each image's
// last-used timestamp strictly increasing down the lineage so tests can assert on
// relative ordering without caring about absolute values.
func chain(t *testing.T) ([]engine.Image, store.Document) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	images := []engine.Image{
		{ID: "grandparent", ParentID: "", CreatedAt: base},
		{ID: "parent", ParentID: "grandparent", CreatedAt: base.Add(time.Hour)},
		{ID: "child", ParentID: "parent", CreatedAt: base.Add(2 * time.Hour)},
	}
	doc := store.Document{
		SchemaVersion: store.CurrentSchemaVersion,
		Images: map[store.ImageID]store.Record{
			"grandparent": {LastUsed: base},
			"parent":      {LastUsed: base.Add(time.Hour)},
			"child":       {LastUsed: base.Add(2 * time.Hour)},
		},
	}
	return images, doc
}

func TestBuildAssignsParentAndChildLinks(t *testing.T) {
	images, doc := chain(t)
	g, _, err := Build(images, nil, doc, fixedNow(time.Now()))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	gp := g.IndexOf("grandparent")
	p := g.IndexOf("parent")
	c := g.IndexOf("child")
	if gp < 0 || p < 0 || c < 0 {
		t.Fatalf("expected all three nodes indexed, got gp=%d p=%d c=%d", gp, p, c)
	}
	if g.Nodes[p].ParentIdx != gp {
		t.Errorf("parent.ParentIdx = %d, want %d", g.Nodes[p].ParentIdx, gp)
	}
	if g.Nodes[c].ParentIdx != p {
		t.Errorf("child.ParentIdx = %d, want %d", g.Nodes[c].ParentIdx, p)
	}
	if g.Nodes[gp].ParentIdx != -1 {
		t.Errorf("grandparent.ParentIdx = %d, want -1", g.Nodes[gp].ParentIdx)
	}

	children := g.Children(gp)
	if len(children) != 1 || children[0] != p {
		t.Errorf("Children(grandparent) = %v, want [%d]", children, p)
	}
}

func TestInUsePropagatesToAncestors(t *testing.T) {
	images, doc := chain(t)
	containers := []engine.Container{{ID: "c1", ImageID: "child", State: "running"}}
	g, _, err := Build(images, containers, doc, fixedNow(time.Now()))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, id := range []engine.ImageID{"grandparent", "parent", "child"} {
		i := g.IndexOf(id)
		if !g.Nodes[i].InUse {
			t.Errorf("%s: InUse = false, want true (in-use must propagate to every ancestor)", id)
		}
	}
}

func TestNotInUseWhenNoContainerReferencesIt(t *testing.T) {
	images, doc := chain(t)
	g, _, err := Build(images, nil, doc, fixedNow(time.Now()))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, id := range []engine.ImageID{"grandparent", "parent", "child"} {
		i := g.IndexOf(id)
		if g.Nodes[i].InUse {
			t.Errorf("%s: InUse = true, want false", id)
		}
	}
}

func TestKeepPatternPinsMatchAndAncestors(t *testing.T) {
	images, doc := chain(t)
	images[2].RepoTags = []string{"myapp:keep-me"}
	g, _, err := Build(images, nil, doc, fixedNow(time.Now()))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	MarkPinned(g, []*regexp.Regexp{regexp.MustCompile("^myapp:keep-me$")})

	for _, id := range []engine.ImageID{"grandparent", "parent", "child"} {
		i := g.IndexOf(id)
		if !g.Nodes[i].Pinned {
			t.Errorf("%s: Pinned = false, want true", id)
		}
	}
}

func TestKeepPatternLeavesUnrelatedLineageUnpinned(t *testing.T) {
	images, doc := chain(t)
	images[2].RepoTags = []string{"myapp:keep-me"}
	images = append(images, engine.Image{ID: "other", CreatedAt: time.Now()})
	doc.Images["other"] = store.Record{LastUsed: time.Now()}

	g, _, err := Build(images, nil, doc, fixedNow(time.Now()))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	MarkPinned(g, []*regexp.Regexp{regexp.MustCompile("^myapp:keep-me$")})

	if g.Nodes[g.IndexOf("other")].Pinned {
		t.Error("unrelated image must not be pinned")
	}
}

func TestEffectiveTimestampIsMinOverSubtree(t *testing.T) {
	images, doc := chain(t)
	// Child was used most recently (base+2h), parent before it (base+1h);
	// grandparent's own last-used (base) is already the minimum of the chain.
	g, _, err := Build(images, nil, doc, fixedNow(time.Now()))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	gp := g.IndexOf("grandparent")
	p := g.IndexOf("parent")
	c := g.IndexOf("child")

	if !g.Effective(c).Equal(g.LastUsed(c)) {
		t.Errorf("leaf effective timestamp must equal its own last-used")
	}
	if !g.Effective(p).Equal(g.LastUsed(p)) {
		t.Errorf("parent effective = %v, want its own last-used %v (its own value is already <= child's)", g.Effective(p), g.LastUsed(p))
	}
	if !g.Effective(gp).Equal(g.LastUsed(gp)) {
		t.Errorf("grandparent effective = %v, want its own last-used %v", g.Effective(gp), g.LastUsed(gp))
	}

	// Now make the grandparent's own last-used time the most recent of the
	// three; its effective timestamp must drop to the minimum of its
	// descendants instead of its own value.
	recent := images[2].CreatedAt.Add(time.Hour)
	doc.Images["grandparent"] = store.Record{LastUsed: recent}
	g2, _, err := Build(images, nil, doc, fixedNow(time.Now()))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	gp2 := g2.IndexOf("grandparent")
	p2 := g2.IndexOf("parent")
	if !g2.Effective(gp2).Equal(g2.LastUsed(p2)) {
		t.Errorf("grandparent effective = %v, want descendant minimum %v", g2.Effective(gp2), g2.LastUsed(p2))
	}
}

func TestReconcileBootstrapsNewImageOnFirstRun(t *testing.T) {
	images, _ := chain(t)
	created := images[0].CreatedAt
	doc := store.Document{SchemaVersion: store.CurrentSchemaVersion, Images: map[store.ImageID]store.Record{}, FirstRun: true}

	_, reconciled, err := Build(images[:1], nil, doc, fixedNow(time.Now().Add(100*time.Hour)))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rec := reconciled.Images["grandparent"]
	if !rec.LastUsed.Equal(created) {
		t.Errorf("first-run bootstrap last-used = %v, want image creation time %v", rec.LastUsed, created)
	}
	if reconciled.FirstRun {
		t.Error("reconciled document must never itself claim FirstRun=true")
	}
}

func TestReconcileBootstrapsNewImageAtNowWhenNotFirstRun(t *testing.T) {
	images, _ := chain(t)
	now := images[0].CreatedAt.Add(5 * time.Hour)
	doc := store.Document{SchemaVersion: store.CurrentSchemaVersion, Images: map[store.ImageID]store.Record{}, FirstRun: false}

	_, reconciled, err := Build(images[:1], nil, doc, fixedNow(now))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rec := reconciled.Images["grandparent"]
	if !rec.LastUsed.Equal(now) {
		t.Errorf("non-first-run bootstrap last-used = %v, want now %v", rec.LastUsed, now)
	}
}

func TestReconcileDropsVanishedImages(t *testing.T) {
	images, doc := chain(t)
	doc.Images["gone"] = store.Record{LastUsed: time.Now()}

	_, reconciled, err := Build(images, nil, doc, fixedNow(time.Now()))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := reconciled.Images["gone"]; ok {
		t.Error("reconcile must drop store records for images no longer reported by the engine")
	}
	if len(reconciled.Images) != len(images) {
		t.Errorf("reconciled image count = %d, want %d", len(reconciled.Images), len(images))
	}
}
