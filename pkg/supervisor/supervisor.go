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

// Package supervisor owns the daemon's lifetime: starting the engine
// adapter, consuming its event stream, deciding when to vacuum, and
// restarting the whole loop on failure. The on-disk state store is the
// source of truth across restarts; the supervisor itself holds no state
// that must survive a crash.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reaperd/reaperd/pkg/engine"
	"github.com/reaperd/reaperd/pkg/logging"
	"github.com/reaperd/reaperd/pkg/store"
	"github.com/reaperd/reaperd/pkg/vacuum"
)

const (
	startupRetryInterval = 5 * time.Second
	restartDelay         = 2 * time.Second
)

// Supervisor wires the Engine Adapter and Vacuum Engine together and owns
// signal handling and restart policy.
type Supervisor struct {
	// NewAdapter constructs a fresh engine.Adapter. Any error it returns
	// (typically one wrapping engine.ErrUnreachable) triggers the
	// fixed-interval startup retry rather than a hard failure.
	NewAdapter func(ctx context.Context) (engine.Adapter, error)
	Store      *store.Store
	VacuumOpts vacuum.Options
	Log        *logging.Logger

	mu    sync.Mutex
	known map[store.ImageID]struct{}
}

// Run blocks until ctx is canceled or a signal requests shutdown,
// returning nil on any graceful exit and a non-nil error only if startup
// itself cannot make progress (never happens with the fixed retry, but
// kept for callers that want to distinguish).
func (s *Supervisor) Run(parent context.Context) error {
	s.refreshKnown()
	for {
		err := s.runOnce(parent)
		if err == nil || parent.Err() != nil {
			return nil
		}
		s.Log.Errorf("supervisor: %v, restarting in %s", err, restartDelay)
		select {
		case <-time.After(restartDelay):
		case <-parent.Done():
			return nil
		}
	}
}

// runOnce starts one engine adapter, consumes its event stream until
// shutdown or failure, and always tears the adapter down on the way out.
func (s *Supervisor) runOnce(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ad, err := s.connect(ctx)
	if err != nil {
		return nil // ctx was canceled while waiting to connect; graceful.
	}
	defer ad.Close()

	events, errCh := ad.StreamEvents(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.consume(gctx, ad, events, errCh)
	})

	err = g.Wait()
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// connect retries at a fixed interval until the engine is reachable or ctx
// is canceled, per spec's start-up retry policy (no exponential back-off).
func (s *Supervisor) connect(ctx context.Context) (engine.Adapter, error) {
	for {
		ad, err := s.NewAdapter(ctx)
		if err == nil {
			return ad, nil
		}
		s.Log.Warnf("engine unreachable: %v; retrying in %s", err, startupRetryInterval)
		select {
		case <-time.After(startupRetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// consume reads events until the stream closes or ctx is canceled,
// triggering a vacuum for each event that warrants one.
func (s *Supervisor) consume(ctx context.Context, ad engine.Adapter, events <-chan engine.Event, errCh <-chan error) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				select {
				case err := <-errCh:
					return err
				default:
					return nil
				}
			}
			if err := s.handle(ctx, ad, ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// handle refreshes the event's image timestamp and then decides whether
// the event also warrants a vacuum: always on sync or any usage-growing
// event kind, or when the event names an image the state store has never
// seen; otherwise the refresh alone is enough and no vacuum runs.
func (s *Supervisor) handle(ctx context.Context, ad engine.Adapter, ev engine.Event) error {
	if !engine.Relevant(ev.Kind) {
		return nil
	}

	knownBefore := ev.ImageID != "" && s.isKnown(ev.ImageID)
	shouldVacuum := ev.Kind == engine.KindSync || engine.GrowsUsage(ev.Kind) || !knownBefore

	if ev.ImageID != "" {
		if err := s.touch(ev.ImageID, ev.At); err != nil {
			return err
		}
	}

	if !shouldVacuum {
		s.Log.Debugf("skipping vacuum for refresh-only event %s on known image %s", ev.Kind, ev.ImageID)
		s.refreshKnown()
		return nil
	}

	report, err := vacuum.Run(ctx, ad, s.Store, s.VacuumOpts, time.Now, s.Log)
	if err != nil {
		return err
	}
	s.Log.Infof(
		"vacuum complete: deleted=%d has-children=%d in-use=%d not-found=%d usage=%d->%d threshold=%d",
		report.Deleted, report.SkippedHasChild, report.SkippedInUse, report.SkippedNotFound,
		report.UsageBefore, report.UsageAfter, report.ThresholdBytes,
	)
	s.refreshKnown()
	return nil
}

// touch writes at as id's last-used timestamp, creating the record if this
// is the first time the image has been observed. This is the only place an
// already-tracked image's timestamp is refreshed outside of a vacuum's own
// bootstrap-on-first-sight logic, so a pure usage event (container create/
// destroy, re-tag, re-pull of an image already in the store) is never lost
// between vacuums.
func (s *Supervisor) touch(id engine.ImageID, at time.Time) error {
	doc, err := s.Store.Load()
	if err != nil {
		return fmt.Errorf("loading state to refresh %s: %w", id, err)
	}
	if doc.Images == nil {
		doc.Images = map[store.ImageID]store.Record{}
	}
	doc.Images[store.ImageID(id)] = store.Record{LastUsed: at}
	doc.FirstRun = false
	if err := s.Store.Save(doc); err != nil {
		return fmt.Errorf("saving refreshed timestamp for %s: %w", id, err)
	}
	return nil
}

func (s *Supervisor) isKnown(id engine.ImageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[store.ImageID(id)]
	return ok
}

// refreshKnown reloads the set of tracked image ids from disk; cheap
// relative to event frequency and always consistent with what the last
// vacuum persisted.
func (s *Supervisor) refreshKnown() {
	doc, err := s.Store.Load()
	if err != nil {
		s.Log.Warnf("refreshing known-image set: %v", err)
		return
	}
	known := make(map[store.ImageID]struct{}, len(doc.Images))
	for id := range doc.Images {
		known[id] = struct{}{}
	}
	s.mu.Lock()
	s.known = known
	s.mu.Unlock()
}
