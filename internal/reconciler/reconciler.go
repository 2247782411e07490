// Package reconciler recreates containers in place so they pick up
// updated environment variables, stopping declared dependents first and
// restarting them after the replacement is running.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"envsyncd/internal/check"
)

const (
	// stopGrace bounds how long a container gets to exit cleanly before
	// the engine kills it.
	stopGrace = 10 * time.Second

	// sequenceTimeout bounds one full stop/remove/create/start sequence.
	// The sequence runs detached from the caller's cancellation so a
	// shutdown never leaves a container half-removed.
	sequenceTimeout = 5 * time.Minute
)

// ErrNotFound reports that the target container does not exist. Nothing
// was touched.
var ErrNotFound = errors.New("container not found")

// ErrApplyInFlight reports that a recreation for the same container is
// already running. The caller retries on its next cycle.
var ErrApplyInFlight = errors.New("reconciliation already in flight")

// Options adjusts a single reconciliation.
type Options struct {
	// Env, when non-nil, is merged over the snapshot's environment on the
	// replacement container (matching keys replaced, new keys appended).
	// Nil keeps the snapshot environment untouched; services that consume
	// the materialized file need no direct injection.
	Env []string
}

// Reconciler performs dependency-aware container recreation against a
// shared container engine. Safe for concurrent use across containers;
// recreations of the same container are single-flight.
type Reconciler struct {
	engine ContainerEngine

	mu       sync.Mutex
	inflight map[string]bool
}

// New creates a Reconciler.
func New(engine ContainerEngine) *Reconciler {
	check.Assert(engine != nil, "reconciler.New: engine must not be nil")
	return &Reconciler{engine: engine, inflight: make(map[string]bool)}
}

type dependent struct {
	name       string
	wasRunning bool
}

// Reconcile recreates containerName with its runtime identity preserved.
// Dependents declared through orchestration labels are stopped before the
// target is removed and restarted after it is running again. Best-effort
// ordering, not a transaction: partial failures on dependents and network
// reattachment are logged and do not roll back the target.
func (r *Reconciler) Reconcile(ctx context.Context, containerName string, opts Options) error {
	if !r.acquire(containerName) {
		return fmt.Errorf("reconcile %q: %w", containerName, ErrApplyInFlight)
	}
	defer r.release(containerName)

	// Once the destructive sequence starts it runs to completion even if
	// the caller is shutting down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sequenceTimeout)
	defer cancel()

	snap, found, err := r.engine.ContainerInspect(ctx, containerName)
	if err != nil {
		return fmt.Errorf("inspect container %q: %w", containerName, err)
	}
	if !found {
		return fmt.Errorf("reconcile %q: %w", containerName, ErrNotFound)
	}

	dependents, err := r.stopDependents(ctx, snap)
	if err != nil {
		return err
	}

	if snap.Running {
		if err := r.engine.ContainerStop(ctx, containerName, stopGrace); err != nil {
			return fmt.Errorf("stop container %q: %w", containerName, err)
		}
	}
	if err := r.engine.ContainerRemove(ctx, containerName, true); err != nil {
		return fmt.Errorf("remove container %q: %w", containerName, err)
	}

	replacement := snap
	if opts.Env != nil {
		replacement.Env = mergeEnv(snap.Env, opts.Env)
	}
	if err := r.engine.ContainerCreate(ctx, replacement); err != nil {
		return fmt.Errorf("create replacement container %q: %w", containerName, err)
	}

	r.reattachNetworks(ctx, containerName, snap)

	if err := r.engine.ContainerStart(ctx, containerName); err != nil {
		return fmt.Errorf("start replacement container %q: %w", containerName, err)
	}
	slog.Info("container recreated", "container", containerName, "dependents", len(dependents))

	r.restartDependents(ctx, containerName, dependents)
	return nil
}

func (r *Reconciler) acquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[name] {
		return false
	}
	r.inflight[name] = true
	return true
}

func (r *Reconciler) release(name string) {
	r.mu.Lock()
	delete(r.inflight, name)
	r.mu.Unlock()
}

// stopDependents computes the containers that declare a dependency on the
// target and stops the running ones. Returns every dependent with its
// prior running state so restartDependents can undo the stop. An engine
// failure listing the project is returned before anything is touched; only
// malformed metadata demotes the target to standalone handling.
func (r *Reconciler) stopDependents(ctx context.Context, snap Snapshot) ([]dependent, error) {
	project := snap.Labels[LabelProject]
	service := snap.Labels[LabelService]
	if project == "" || service == "" {
		// Not compose-managed (or metadata is malformed): standalone.
		return nil, nil
	}

	peers, err := r.engine.ContainerList(ctx, map[string]string{LabelProject: project})
	if err != nil {
		return nil, fmt.Errorf("list project %q containers: %w", project, err)
	}

	var deps []dependent
	for _, peer := range peers {
		if peer.Name == snap.Name {
			continue
		}
		if parseDependsOn(peer.Labels[LabelDependsOn]).dependsOnService(service) {
			deps = append(deps, dependent{name: peer.Name, wasRunning: peer.Running})
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].name < deps[j].name })

	for _, dep := range deps {
		if !dep.wasRunning {
			continue
		}
		if err := r.engine.ContainerStop(ctx, dep.name, stopGrace); err != nil {
			slog.Warn("stop dependent failed", "container", snap.Name, "dependent", dep.name, "err", err)
		}
	}
	return deps, nil
}

func (r *Reconciler) reattachNetworks(ctx context.Context, containerName string, snap Snapshot) {
	names := make([]string, 0, len(snap.Networks))
	for name := range snap.Networks {
		if isDefaultNetwork(name, snap.NetworkMode) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.engine.NetworkConnect(ctx, name, containerName, snap.Networks[name].Aliases); err != nil {
			slog.Warn("network reattach failed", "container", containerName, "network", name, "err", err)
		}
	}
}

func (r *Reconciler) restartDependents(ctx context.Context, containerName string, deps []dependent) {
	for _, dep := range deps {
		if !dep.wasRunning {
			continue
		}
		// Re-resolve: the dependent may have been recreated independently
		// while the target was absent.
		_, found, err := r.engine.ContainerInspect(ctx, dep.name)
		if err != nil {
			slog.Warn("restart dependent: inspect failed", "container", containerName, "dependent", dep.name, "err", err)
			continue
		}
		if !found {
			slog.Warn("restart dependent: no longer exists", "container", containerName, "dependent", dep.name)
			continue
		}
		if err := r.engine.ContainerStart(ctx, dep.name); err != nil {
			slog.Warn("restart dependent failed", "container", containerName, "dependent", dep.name, "err", err)
		}
	}
}

// isDefaultNetwork reports whether the engine attaches this network on
// creation already, making an explicit reconnect redundant.
func isDefaultNetwork(name, networkMode string) bool {
	if name == networkMode {
		return true
	}
	switch name {
	case "bridge", "host", "none":
		return true
	}
	return false
}

// mergeEnv overlays fresh KEY=VALUE entries on base: matching keys are
// replaced in place, new keys appended in the fresh list's order.
func mergeEnv(base, fresh []string) []string {
	out := make([]string, len(base))
	copy(out, base)

	index := make(map[string]int, len(out))
	for i, kv := range out {
		if key, _, ok := strings.Cut(kv, "="); ok && key != "" {
			index[key] = i
		}
	}
	for _, kv := range fresh {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if i, seen := index[key]; seen {
			out[i] = kv
			continue
		}
		index[key] = len(out)
		out = append(out, kv)
	}
	return out
}
