package fake

import (
	"context"
	"sync"

	"envsyncd/internal/envfile"
	"envsyncd/internal/provider"
)

// SecretProvider is an in-memory secret source keyed by project/environment.
type SecretProvider struct {
	CallRecorder
	mu   sync.Mutex
	sets map[string]envfile.VariableSet

	FetchVariablesErr func(ctx context.Context, creds provider.Credentials) error
}

// NewSecretProvider creates an empty SecretProvider.
func NewSecretProvider() *SecretProvider {
	return &SecretProvider{sets: make(map[string]envfile.VariableSet)}
}

// Set installs the variable set returned for project/environment.
func (p *SecretProvider) Set(project, environment string, vars envfile.VariableSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets[project+"/"+environment] = vars
}

func (p *SecretProvider) FetchVariables(ctx context.Context, creds provider.Credentials) (envfile.VariableSet, error) {
	p.record("FetchVariables", creds.Project, creds.Environment)
	if p.FetchVariablesErr != nil {
		if err := p.FetchVariablesErr(ctx, creds); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	vars, ok := p.sets[creds.Project+"/"+creds.Environment]
	if !ok {
		return envfile.VariableSet{}, nil
	}
	out := make(envfile.VariableSet, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out, nil
}
