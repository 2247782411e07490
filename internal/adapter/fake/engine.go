package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"envsyncd/internal/reconciler"
)

var _ reconciler.ContainerEngine = (*Engine)(nil)

type containerState struct {
	snap    reconciler.Snapshot
	running bool
}

// Engine is an in-memory implementation of reconciler.ContainerEngine.
// Seed it with Add, then assert on recorded calls and final state.
type Engine struct {
	CallRecorder
	mu         sync.Mutex
	containers map[string]*containerState

	ContainerInspectErr func(ctx context.Context, name string) error
	ContainerListErr    func(ctx context.Context, labels map[string]string) error
	ContainerStopErr    func(ctx context.Context, name string, grace time.Duration) error
	ContainerRemoveErr  func(ctx context.Context, name string, force bool) error
	ContainerCreateErr  func(ctx context.Context, snap reconciler.Snapshot) error
	ContainerStartErr   func(ctx context.Context, name string) error
	NetworkConnectErr   func(ctx context.Context, network, containerName string, aliases []string) error
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	return &Engine{containers: make(map[string]*containerState)}
}

// Add seeds a container. The snapshot's Running field sets its state.
func (e *Engine) Add(snap reconciler.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.containers[snap.Name] = &containerState{snap: snap, running: snap.Running}
}

// Container returns a container's current snapshot and running state.
func (e *Engine) Container(name string) (reconciler.Snapshot, bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.containers[name]
	if !ok {
		return reconciler.Snapshot{}, false, false
	}
	return cs.snap, cs.running, true
}

func (e *Engine) ContainerInspect(ctx context.Context, name string) (reconciler.Snapshot, bool, error) {
	e.record("ContainerInspect", name)
	if e.ContainerInspectErr != nil {
		if err := e.ContainerInspectErr(ctx, name); err != nil {
			return reconciler.Snapshot{}, false, err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.containers[name]
	if !ok {
		return reconciler.Snapshot{}, false, nil
	}
	snap := cs.snap
	snap.Running = cs.running
	return snap, true, nil
}

func (e *Engine) ContainerList(ctx context.Context, labels map[string]string) ([]reconciler.ContainerSummary, error) {
	e.record("ContainerList", labels)
	if e.ContainerListErr != nil {
		if err := e.ContainerListErr(ctx, labels); err != nil {
			return nil, err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []reconciler.ContainerSummary
	for name, cs := range e.containers {
		matches := true
		for k, v := range labels {
			got, ok := cs.snap.Labels[k]
			if !ok || (v != "" && got != v) {
				matches = false
				break
			}
		}
		if matches {
			out = append(out, reconciler.ContainerSummary{Name: name, Labels: cs.snap.Labels, Running: cs.running})
		}
	}
	return out, nil
}

func (e *Engine) ContainerStop(ctx context.Context, name string, grace time.Duration) error {
	e.record("ContainerStop", name, grace)
	if e.ContainerStopErr != nil {
		if err := e.ContainerStopErr(ctx, name, grace); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.containers[name]
	if !ok {
		return fmt.Errorf("container %q not found", name)
	}
	cs.running = false
	return nil
}

func (e *Engine) ContainerRemove(ctx context.Context, name string, force bool) error {
	e.record("ContainerRemove", name, force)
	if e.ContainerRemoveErr != nil {
		if err := e.ContainerRemoveErr(ctx, name, force); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.containers[name]
	if !ok {
		return fmt.Errorf("container %q not found", name)
	}
	if cs.running && !force {
		return fmt.Errorf("container %q is running", name)
	}
	delete(e.containers, name)
	return nil
}

func (e *Engine) ContainerCreate(ctx context.Context, snap reconciler.Snapshot) error {
	e.record("ContainerCreate", snap)
	if e.ContainerCreateErr != nil {
		if err := e.ContainerCreateErr(ctx, snap); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.containers[snap.Name]; exists {
		return fmt.Errorf("container %q already exists", snap.Name)
	}
	e.containers[snap.Name] = &containerState{snap: snap, running: false}
	return nil
}

func (e *Engine) ContainerStart(ctx context.Context, name string) error {
	e.record("ContainerStart", name)
	if e.ContainerStartErr != nil {
		if err := e.ContainerStartErr(ctx, name); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.containers[name]
	if !ok {
		return fmt.Errorf("container %q not found", name)
	}
	cs.running = true
	return nil
}

func (e *Engine) NetworkConnect(ctx context.Context, network, containerName string, aliases []string) error {
	e.record("NetworkConnect", network, containerName, aliases)
	if e.NetworkConnectErr != nil {
		if err := e.NetworkConnectErr(ctx, network, containerName, aliases); err != nil {
			return err
		}
	}
	return nil
}
