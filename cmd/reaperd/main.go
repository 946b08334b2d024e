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

package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/reaperd/reaperd/pkg/engine"
	"github.com/reaperd/reaperd/pkg/logging"
	"github.com/reaperd/reaperd/pkg/store"
	"github.com/reaperd/reaperd/pkg/supervisor"
	"github.com/reaperd/reaperd/pkg/threshold"
	"github.com/reaperd/reaperd/pkg/vacuum"
)

// version is set at build time via -ldflags, matching the teacher's own
// VersionCommit() injection convention in cmd/catch/catch.go.
var version = ""

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	threshold    string
	keep         []string
	minAge       string
	chunkSize    int
	requeryEvery int
}

func newRootCmd() *cobra.Command {
	f := &flags{threshold: "10GB", chunkSize: 1}

	cmd := &cobra.Command{
		Use:           "reaperd",
		Short:         "Evict least-recently-used container images once a disk usage threshold is crossed",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.threshold, "threshold", "t", f.threshold, "upper bound on image-store usage (byte expression or N%)")
	cmd.Flags().StringArrayVarP(&f.keep, "keep", "k", nil, "regular expression matching repo:tags to pin (repeatable)")
	cmd.Flags().StringVarP(&f.minAge, "min-age", "m", "", "candidates newer than this duration are never deleted (e.g. 24h, 7d)")
	cmd.Flags().IntVarP(&f.chunkSize, "deletion-chunk-size", "d", 1, "images deleted per engine call within a vacuum")
	cmd.Flags().IntVar(&f.requeryEvery, "requery-every", 0, "re-query the engine for usage every N deletion chunks (0 = never)")

	cmd.Flags().BoolP("version", "v", false, "print version and exit")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Println(versionString())
			os.Exit(0)
		}
		return nil
	}

	return cmd
}

func versionString() string {
	if version == "" {
		return "dev"
	}
	if _, err := semver.NewVersion(version); err != nil {
		return version
	}
	return version
}

func run(ctx context.Context, f *flags) error {
	log := logging.New(os.Stderr)

	thr, err := threshold.Parse(f.threshold)
	if err != nil {
		return fmt.Errorf("invalid --threshold: %w", err)
	}

	keep, err := compileKeepPatterns(f.keep)
	if err != nil {
		return fmt.Errorf("invalid --keep: %w", err)
	}

	minAge, err := parseMinAge(f.minAge)
	if err != nil {
		return fmt.Errorf("invalid --min-age: %w", err)
	}

	if f.chunkSize < 1 {
		return fmt.Errorf("--deletion-chunk-size must be a positive integer")
	}

	statePath, err := store.DefaultPath()
	if err != nil {
		return fmt.Errorf("resolving state directory: %w", err)
	}
	log.Infof("state file: %s", statePath)
	st := store.New(statePath)

	capacityPath := "/"
	if ad, err := engine.New(log); err == nil {
		if dir, err := ad.DataDir(ctx); err == nil {
			capacityPath = dir
		}
		_ = ad.Close()
	}

	sup := &supervisor.Supervisor{
		NewAdapter: func(ctx context.Context) (engine.Adapter, error) {
			return engine.New(log)
		},
		Store: st,
		VacuumOpts: vacuum.Options{
			Threshold:    thr,
			Capacity:     threshold.Capacity(capacityPath),
			Keep:         keep,
			MinAge:       minAge,
			ChunkSize:    f.chunkSize,
			RequeryEvery: f.requeryEvery,
		},
		Log: log,
	}

	return sup.Run(ctx)
}

func compileKeepPatterns(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := regexp.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", e, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// parseMinAge extends time.ParseDuration with a trailing "d" (days) unit,
// since operators reasonably expect "7d" to work alongside "24h".
func parseMinAge(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days, err := time.ParseDuration(s[:len(s)-1] + "h")
		if err == nil {
			return days * 24, nil
		}
	}
	return time.ParseDuration(s)
}
