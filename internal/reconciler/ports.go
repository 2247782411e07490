package reconciler

import (
	"context"
	"time"
)

// Snapshot is the runtime configuration of a container, captured
// immediately before recreation and used to build its replacement.
type Snapshot struct {
	Name          string
	Image         string
	Cmd           []string
	Entrypoint    []string
	Env           []string
	User          string
	WorkingDir    string
	Hostname      string
	Labels        map[string]string
	ExposedPorts  []string
	Binds         []string
	Mounts        []Mount
	PortBindings  map[string][]PortBinding // "8080/tcp" -> host bindings
	NetworkMode   string
	RestartPolicy RestartPolicy
	Resources     Resources
	Networks      map[string]Network // network name -> attachment
	Running       bool
}

// PortBinding is one host-side binding of an exposed port.
type PortBinding struct {
	HostIP   string
	HostPort string
}

// Mount is a single filesystem mount on a container.
type Mount struct {
	Type     string
	Source   string
	Target   string
	ReadOnly bool
}

// RestartPolicy mirrors the engine's restart policy for a container.
type RestartPolicy struct {
	Name       string
	MaxRetries int
}

// Resources carries the limits that must survive recreation.
type Resources struct {
	NanoCPUs   int64
	Memory     int64
	MemorySwap int64
}

// Network is one network attachment with its per-network aliases.
type Network struct {
	Aliases []string
}

// ContainerSummary is the subset of container facts needed to compute
// dependents.
type ContainerSummary struct {
	Name    string
	Labels  map[string]string
	Running bool
}

// ContainerEngine is the container-runtime client the reconciler drives.
// Implementations must be safe for concurrent use.
type ContainerEngine interface {
	// ContainerInspect resolves a container by name. found=false (with a
	// nil error) means the container does not exist.
	ContainerInspect(ctx context.Context, name string) (snap Snapshot, found bool, err error)
	// ContainerList returns containers matching all given label filters.
	// A filter value of "" matches any container carrying the label key.
	ContainerList(ctx context.Context, labels map[string]string) ([]ContainerSummary, error)
	ContainerStop(ctx context.Context, name string, grace time.Duration) error
	ContainerRemove(ctx context.Context, name string, force bool) error
	// ContainerCreate creates a stopped container from the snapshot. The
	// snapshot's own NetworkMode network is joined as part of creation,
	// carrying that endpoint's recorded aliases.
	ContainerCreate(ctx context.Context, snap Snapshot) error
	ContainerStart(ctx context.Context, name string) error
	NetworkConnect(ctx context.Context, network, containerName string, aliases []string) error
}
