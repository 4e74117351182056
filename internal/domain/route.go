// Package domain contains the core business entities and value objects.
package domain

import "time"

// UseCaseRoute maps one feature context to a preferred provider and an
// ordered fallback list, plus the generation parameters for that feature.
// Routes are static, data-only and immutable after construction.
type UseCaseRoute struct {
	// UseCase is the feature identifier ("chat", "digest", "comparison", ...).
	UseCase string `json:"use_case" mapstructure:"use_case"`

	// Provider is the preferred provider name.
	Provider string `json:"provider" mapstructure:"provider"`

	// Fallbacks are tried in order when the preferred provider is unusable.
	Fallbacks []string `json:"fallbacks" mapstructure:"fallbacks"`

	// TargetLatency is the latency budget for this use case.
	TargetLatency time.Duration `json:"target_latency" mapstructure:"target_latency"`

	// Temperature is the generation temperature for this use case.
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// Chain returns the full ordered provider chain: preferred first, then fallbacks.
func (r UseCaseRoute) Chain() []string {
	chain := make([]string, 0, len(r.Fallbacks)+1)
	chain = append(chain, r.Provider)
	chain = append(chain, r.Fallbacks...)
	return chain
}

// RouteTable is a pure lookup from use case to its route. No state, no side
// effects.
type RouteTable struct {
	routes map[string]UseCaseRoute
}

// NewRouteTable builds a RouteTable from the given routes. Later duplicates
// of a use case override earlier ones.
func NewRouteTable(routes []UseCaseRoute) *RouteTable {
	t := &RouteTable{routes: make(map[string]UseCaseRoute, len(routes))}
	for _, r := range routes {
		if r.UseCase == "" || r.Provider == "" {
			continue
		}
		t.routes[r.UseCase] = r
	}
	return t
}

// Route returns the route for a use case.
func (t *RouteTable) Route(useCase string) (UseCaseRoute, bool) {
	r, ok := t.routes[useCase]
	return r, ok
}

// UseCases returns all registered use-case identifiers.
func (t *RouteTable) UseCases() []string {
	names := make([]string, 0, len(t.routes))
	for name := range t.routes {
		names = append(names, name)
	}
	return names
}

// Resolve walks the use case's provider chain and returns the first provider
// with a usable credential. Returns ErrNoKeysAvailable when the entire chain
// is exhausted, which callers treat the same as every provider being down.
func (t *RouteTable) Resolve(useCase string, keys *KeyManager) (string, *Credential, error) {
	route, ok := t.routes[useCase]
	if !ok {
		return "", nil, ErrNoKeysAvailable
	}
	for _, provider := range route.Chain() {
		cred, err := keys.GetKey(provider)
		if err != nil {
			continue
		}
		return provider, cred, nil
	}
	return "", nil, ErrNoKeysAvailable
}
