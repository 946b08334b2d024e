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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/events"
	digest "github.com/opencontainers/go-digest"

	"github.com/reaperd/reaperd/pkg/cmdutil"
	"github.com/reaperd/reaperd/pkg/logging"
)

// Cmd binds the two engine binaries reaperd knows how to drive. docker is
// tried first; podman is accepted as a drop-in since it speaks the same
// CLI surface for the subset of commands used here.
func Cmd() (string, error) {
	for _, name := range []string{"docker", "podman"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no docker or podman binary on PATH", ErrUnreachable)
}

// DockerAdapter drives a docker-CLI-compatible engine as a set of child
// processes, per spec: no daemon socket, only the CLI.
type DockerAdapter struct {
	binPath string
	log     *logging.Logger

	mu        sync.Mutex
	eventsCmd *exec.Cmd
}

// New resolves the engine binary and returns a ready Adapter.
func New(log *logging.Logger) (*DockerAdapter, error) {
	bin, err := Cmd()
	if err != nil {
		return nil, err
	}
	return &DockerAdapter{binPath: bin, log: log}, nil
}

// inspectImage mirrors the subset of api/types/image.InspectResponse this
// package needs to decode `docker inspect --type image` output.
type inspectImage struct {
	ID       string   `json:"Id"`
	Parent   string   `json:"Parent"`
	Created  string   `json:"Created"`
	Size     int64    `json:"Size"`
	RepoTags []string `json:"RepoTags"`
}

// inspectContainer mirrors the subset of container.InspectResponse needed
// to decode `docker inspect --type container` output.
type inspectContainer struct {
	ID    string `json:"Id"`
	Image string `json:"Image"`
	State struct {
		Status string `json:"Status"`
	} `json:"State"`
}

func (a *DockerAdapter) run(ctx context.Context, arg ...string) ([]byte, error) {
	cmd := cmdutil.NewStdCmd(ctx, a.binPath, arg...)
	out, err := cmdutil.Capture(cmd)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", a.binPath, strings.Join(arg, " "), err)
	}
	return out, nil
}

// DataDir returns the directory the engine stores image data under, used
// to resolve percentage-of-capacity thresholds against the right
// filesystem.
func (a *DockerAdapter) DataDir(ctx context.Context) (string, error) {
	out, err := a.run(ctx, "info", "--format", "{{.DockerRootDir}}")
	if err != nil {
		return "", err
	}
	dir := strings.TrimSpace(string(out))
	if dir == "" {
		return "", fmt.Errorf("engine reported an empty data directory")
	}
	return dir, nil
}

// ListImages implements Adapter.
func (a *DockerAdapter) ListImages(ctx context.Context) ([]Image, error) {
	idsOut, err := a.run(ctx, "image", "ls", "-q", "--no-trunc")
	if err != nil {
		return nil, err
	}
	ids := nonEmptyLines(idsOut)
	if len(ids) == 0 {
		return nil, nil
	}

	args := append([]string{"inspect", "--type", "image"}, ids...)
	out, err := a.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var raw []inspectImage
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decoding image inspect output: %w", err)
	}

	images := make([]Image, 0, len(raw))
	for _, r := range raw {
		created, _ := time.Parse(time.RFC3339Nano, r.Created)
		images = append(images, Image{
			ID:        ImageID(normalizeID(r.ID)),
			ParentID:  ImageID(normalizeID(r.Parent)),
			CreatedAt: created,
			SizeBytes: r.Size,
			RepoTags:  normalizeRepoTags(r.RepoTags),
		})
	}
	return images, nil
}

// ListContainers implements Adapter.
func (a *DockerAdapter) ListContainers(ctx context.Context) ([]Container, error) {
	idsOut, err := a.run(ctx, "ps", "-aq", "--no-trunc")
	if err != nil {
		return nil, err
	}
	ids := nonEmptyLines(idsOut)
	if len(ids) == 0 {
		return nil, nil
	}

	args := append([]string{"inspect", "--type", "container"}, ids...)
	out, err := a.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var raw []inspectContainer
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decoding container inspect output: %w", err)
	}

	containers := make([]Container, 0, len(raw))
	for _, r := range raw {
		containers = append(containers, Container{
			ID:      normalizeID(r.ID),
			ImageID: ImageID(normalizeID(r.Image)),
			State:   r.State.Status,
		})
	}
	return containers, nil
}

// DeleteImage implements Adapter.
func (a *DockerAdapter) DeleteImage(ctx context.Context, id ImageID) (DeleteOutcome, error) {
	_, err := a.run(ctx, "image", "rm", string(id))
	if err == nil {
		return DeleteOK, nil
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "No such image"):
		return DeleteNotFound, nil
	case strings.Contains(msg, "image has dependent child images"),
		strings.Contains(msg, "image is referenced in multiple repositories"):
		return DeleteHasChildren, nil
	case strings.Contains(msg, "is using") && strings.Contains(msg, "container"):
		return DeleteInUse, nil
	default:
		return DeleteOtherError, err
	}
}

// StreamEvents implements Adapter. The engine's event firehose is a single
// long-lived child process; its stdout is read line by line and decoded as
// a stream of events.Message records.
func (a *DockerAdapter) StreamEvents(ctx context.Context) (<-chan Event, <-chan error) {
	evCh := make(chan Event, 16)
	errCh := make(chan error, 1)

	cmd := exec.CommandContext(ctx, a.binPath, "events", "--format", "{{json .}}")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		errCh <- fmt.Errorf("%w: %v", ErrUnreachable, err)
		close(evCh)
		return evCh, errCh
	}
	if err := cmd.Start(); err != nil {
		errCh <- fmt.Errorf("%w: %v", ErrUnreachable, err)
		close(evCh)
		return evCh, errCh
	}

	a.mu.Lock()
	a.eventsCmd = cmd
	a.mu.Unlock()

	go func() {
		defer close(evCh)

		evCh <- Event{Kind: KindSync, At: time.Now()}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var msg events.Message
			if err := json.Unmarshal(line, &msg); err != nil {
				a.log.Warnf("malformed event record, skipping: %v", err)
				continue
			}
			ev, ok := translate(msg)
			if !ok {
				continue
			}
			select {
			case evCh <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("%w: event stream exited: %v", ErrUnreachable, err)
		}
	}()

	return evCh, errCh
}

// Close implements Adapter: kill and reap the event-stream child, if any.
func (a *DockerAdapter) Close() error {
	a.mu.Lock()
	cmd := a.eventsCmd
	a.eventsCmd = nil
	a.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	return nil
}

func translate(msg events.Message) (Event, bool) {
	var kind Kind
	switch {
	case string(msg.Type) == "image":
		switch msg.Action {
		case "pull":
			kind = KindPull
		case "import":
			kind = KindImport
		case "load":
			kind = KindLoad
		case "build", "tag":
			if msg.Action == "build" {
				kind = KindBuild
			} else {
				kind = KindTag
			}
		default:
			kind = KindOther
		}
	case string(msg.Type) == "container":
		switch msg.Action {
		case "create":
			kind = KindCreate
		case "destroy":
			kind = KindDestroy
		default:
			return Event{}, false
		}
	default:
		return Event{}, false
	}

	if !Relevant(kind) {
		return Event{}, false
	}

	id := msg.Actor.ID
	if string(msg.Type) == "container" {
		if img, ok := msg.Actor.Attributes["image"]; ok {
			id = img
		}
	}

	at := time.Unix(0, msg.TimeNano)
	if msg.TimeNano == 0 {
		at = time.Unix(msg.Time, 0)
	}
	return Event{Kind: kind, ImageID: ImageID(normalizeID(id)), At: at}, true
}

func nonEmptyLines(b []byte) []string {
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// normalizeID returns the canonical "algorithm:hex" form of id when it
// parses as a digest (the "sha256:" prefix is kept); any other non-empty
// id is returned unchanged.
func normalizeID(id string) string {
	if id == "" {
		return ""
	}
	if d, err := digest.Parse(id); err == nil {
		return d.String()
	}
	return id
}

// normalizeRepoTags drops the synthetic "<none>:<none>" entries the engine
// reports for untagged images and validates every remaining entry through
// distribution/reference, but keeps the engine's own repository:tag string
// verbatim: keep patterns are matched against exactly what "docker image
// ls" prints, and reference.Path strips the registry host and adds the
// implicit "library/" prefix (FamiliarString would restore docker.io's own
// shorthand, but a registry-qualified tag like "reg.io/team/app:v1" still
// needs to survive unchanged for its pattern to match).
func normalizeRepoTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || t == "<none>:<none>" {
			continue
		}
		if _, err := reference.ParseNormalizedNamed(t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}
