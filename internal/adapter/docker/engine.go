// Package docker implements the reconciler's container engine port
// against the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"envsyncd/internal/reconciler"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	dockernetwork "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

var _ reconciler.ContainerEngine = (*Engine)(nil)

// Engine wraps a Docker client. Safe for concurrent use.
type Engine struct {
	cli *client.Client
}

// NewEngine creates an Engine with a new Docker client from the
// environment (DOCKER_HOST et al.).
func NewEngine() (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Engine{cli: cli}, nil
}

// NewEngineFromClient wraps an existing Docker client.
func NewEngineFromClient(cli *client.Client) *Engine {
	return &Engine{cli: cli}
}

func (e *Engine) Close() error {
	return e.cli.Close()
}

func (e *Engine) WaitReady(ctx context.Context) error {
	return WaitReady(ctx, e.cli)
}

func (e *Engine) ContainerInspect(ctx context.Context, name string) (reconciler.Snapshot, bool, error) {
	info, err := e.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return reconciler.Snapshot{}, false, nil
		}
		return reconciler.Snapshot{}, false, fmt.Errorf("inspect container %q: %w", name, err)
	}

	snap := reconciler.Snapshot{
		Name:    strings.TrimPrefix(info.Name, "/"),
		Running: info.State != nil && info.State.Running,
	}

	if cfg := info.Config; cfg != nil {
		snap.Image = cfg.Image
		snap.Cmd = []string(cfg.Cmd)
		snap.Entrypoint = []string(cfg.Entrypoint)
		snap.Env = cfg.Env
		snap.User = cfg.User
		snap.WorkingDir = cfg.WorkingDir
		snap.Hostname = cfg.Hostname
		snap.Labels = cfg.Labels
		for port := range cfg.ExposedPorts {
			snap.ExposedPorts = append(snap.ExposedPorts, string(port))
		}
		sort.Strings(snap.ExposedPorts)
	}

	if hc := info.HostConfig; hc != nil {
		snap.Binds = hc.Binds
		for _, m := range hc.Mounts {
			snap.Mounts = append(snap.Mounts, reconciler.Mount{
				Type:     string(m.Type),
				Source:   m.Source,
				Target:   m.Target,
				ReadOnly: m.ReadOnly,
			})
		}
		if len(hc.PortBindings) > 0 {
			snap.PortBindings = make(map[string][]reconciler.PortBinding, len(hc.PortBindings))
			for port, bindings := range hc.PortBindings {
				for _, b := range bindings {
					snap.PortBindings[string(port)] = append(snap.PortBindings[string(port)],
						reconciler.PortBinding{HostIP: b.HostIP, HostPort: b.HostPort})
				}
			}
		}
		snap.NetworkMode = string(hc.NetworkMode)
		snap.RestartPolicy = reconciler.RestartPolicy{
			Name:       string(hc.RestartPolicy.Name),
			MaxRetries: hc.RestartPolicy.MaximumRetryCount,
		}
		snap.Resources = reconciler.Resources{
			NanoCPUs:   hc.NanoCPUs,
			Memory:     hc.Memory,
			MemorySwap: hc.MemorySwap,
		}
	}

	if ns := info.NetworkSettings; ns != nil && len(ns.Networks) > 0 {
		snap.Networks = make(map[string]reconciler.Network, len(ns.Networks))
		for name, endpoint := range ns.Networks {
			var aliases []string
			if endpoint != nil {
				aliases = endpoint.Aliases
			}
			snap.Networks[name] = reconciler.Network{Aliases: aliases}
		}
	}

	return snap, true, nil
}

func (e *Engine) ContainerList(ctx context.Context, labels map[string]string) ([]reconciler.ContainerSummary, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		if v == "" {
			args.Add("label", k)
			continue
		}
		args.Add("label", k+"="+v)
	}

	list, err := e.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]reconciler.ContainerSummary, 0, len(list))
	for _, c := range list {
		if len(c.Names) == 0 {
			continue
		}
		out = append(out, reconciler.ContainerSummary{
			Name:    strings.TrimPrefix(c.Names[0], "/"),
			Labels:  c.Labels,
			Running: c.State == "running",
		})
	}
	return out, nil
}

func (e *Engine) ContainerStop(ctx context.Context, name string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	if err := e.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("stop container %q: %w", name, err)
	}
	return nil
}

func (e *Engine) ContainerRemove(ctx context.Context, name string, force bool) error {
	if err := e.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("remove container %q: %w", name, err)
	}
	return nil
}

func (e *Engine) ContainerCreate(ctx context.Context, snap reconciler.Snapshot) error {
	cc := &container.Config{
		Image:      snap.Image,
		Cmd:        strslice.StrSlice(snap.Cmd),
		Entrypoint: strslice.StrSlice(snap.Entrypoint),
		Env:        snap.Env,
		User:       snap.User,
		WorkingDir: snap.WorkingDir,
		Hostname:   snap.Hostname,
		Labels:     snap.Labels,
	}
	if len(snap.ExposedPorts) > 0 {
		cc.ExposedPorts = make(nat.PortSet, len(snap.ExposedPorts))
		for _, port := range snap.ExposedPorts {
			cc.ExposedPorts[nat.Port(port)] = struct{}{}
		}
	}

	hc := &container.HostConfig{
		Binds:       snap.Binds,
		NetworkMode: container.NetworkMode(snap.NetworkMode),
		RestartPolicy: container.RestartPolicy{
			Name:              container.RestartPolicyMode(snap.RestartPolicy.Name),
			MaximumRetryCount: snap.RestartPolicy.MaxRetries,
		},
		Resources: container.Resources{
			NanoCPUs:   snap.Resources.NanoCPUs,
			Memory:     snap.Resources.Memory,
			MemorySwap: snap.Resources.MemorySwap,
		},
	}
	for _, m := range snap.Mounts {
		hc.Mounts = append(hc.Mounts, mount.Mount{
			Type:     mount.Type(m.Type),
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	if len(snap.PortBindings) > 0 {
		hc.PortBindings = make(nat.PortMap, len(snap.PortBindings))
		for port, bindings := range snap.PortBindings {
			for _, b := range bindings {
				hc.PortBindings[nat.Port(port)] = append(hc.PortBindings[nat.Port(port)],
					nat.PortBinding{HostIP: b.HostIP, HostPort: b.HostPort})
			}
		}
	}

	if _, err := e.cli.ContainerCreate(ctx, cc, hc, primaryEndpoint(snap), nil, snap.Name); err != nil {
		return fmt.Errorf("create container %q: %w", snap.Name, err)
	}
	return nil
}

// primaryEndpoint builds the networking config for the container's own
// NetworkMode network. The engine joins that network during create, and
// without an explicit endpoint it does so with no aliases, which would
// drop the compose service alias dependents resolve by DNS.
func primaryEndpoint(snap reconciler.Snapshot) *dockernetwork.NetworkingConfig {
	switch snap.NetworkMode {
	case "", "default", "bridge", "host", "none":
		return nil
	}
	nw, ok := snap.Networks[snap.NetworkMode]
	if !ok || len(nw.Aliases) == 0 {
		return nil
	}
	return &dockernetwork.NetworkingConfig{
		EndpointsConfig: map[string]*dockernetwork.EndpointSettings{
			snap.NetworkMode: {Aliases: nw.Aliases},
		},
	}
}

func (e *Engine) ContainerStart(ctx context.Context, name string) error {
	if err := e.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %q: %w", name, err)
	}
	return nil
}

func (e *Engine) NetworkConnect(ctx context.Context, network, containerName string, aliases []string) error {
	err := e.cli.NetworkConnect(ctx, network, containerName, &dockernetwork.EndpointSettings{Aliases: aliases})
	if err != nil && !errdefs.IsConflict(err) {
		return fmt.Errorf("connect container %q to network %q: %w", containerName, network, err)
	}
	return nil
}
