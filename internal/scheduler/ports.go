package scheduler

import (
	"context"

	"envsyncd/internal/envfile"
	"envsyncd/internal/provider"
	"envsyncd/internal/reconciler"
	"envsyncd/internal/state"
)

// SecretProvider fetches the desired variable set for one service.
type SecretProvider interface {
	FetchVariables(ctx context.Context, creds provider.Credentials) (envfile.VariableSet, error)
}

// Reconciler recreates a container so it picks up updated variables.
type Reconciler interface {
	Reconcile(ctx context.Context, containerName string, opts reconciler.Options) error
}

// StateStore records what was last successfully applied per service.
type StateStore interface {
	Get(service string) (state.Record, bool)
	Update(service, path, digest string, varCount int) error
}
