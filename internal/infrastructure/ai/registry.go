package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/ports"
)

// ProviderState is the selection-relevant snapshot of one provider.
type ProviderState struct {
	ID         string
	Configured bool
	Reachable  bool
}

// SelectProvider picks the active provider id. An override naming a
// configured provider wins outright; otherwise the first provider in order
// that is both configured and reachable is chosen.
func SelectProvider(states []ProviderState, override string) (string, bool) {
	if override != "" {
		for _, state := range states {
			if state.ID == override && state.Configured {
				return state.ID, true
			}
		}
	}
	for _, state := range states {
		if state.Configured && state.Reachable {
			return state.ID, true
		}
	}
	return "", false
}

// prober is implemented by completers whose availability is only known by
// asking them, such as a local model server that needs no key.
type prober interface {
	NeedsProbe() bool
}

// Registry holds the completers in priority order and the active one.
// The active pointer is chosen lazily on first use and can be swapped.
type Registry struct {
	completers   []ports.Completer
	override     string
	probeTimeout time.Duration
	logger       ports.Logger

	mu     sync.RWMutex
	active ports.Completer

	selecting singleflight.Group
}

// NewRegistry builds a registry. override is the provider id forced by
// configuration (AI_PROVIDER), empty for automatic selection.
func NewRegistry(completers []ports.Completer, override string, probeTimeout time.Duration, logger ports.Logger) *Registry {
	if probeTimeout <= 0 {
		probeTimeout = domain.DefaultProbeTimeout
	}
	return &Registry{
		completers:   completers,
		override:     override,
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// Active returns the active completer, selecting one on first use.
// Concurrent first callers share a single selection pass.
func (r *Registry) Active(ctx context.Context) (ports.Completer, error) {
	if current := r.current(); current != nil {
		return current, nil
	}

	v, err, _ := r.selecting.Do("active", func() (interface{}, error) {
		if current := r.current(); current != nil {
			return current, nil
		}
		id, ok := SelectProvider(r.states(ctx), r.override)
		if !ok {
			if r.logger != nil {
				r.logger.Warn("no AI provider available", map[string]interface{}{"registered": r.ids()})
			}
			return nil, domain.ErrNoProvider
		}
		completer := r.find(id)
		r.mu.Lock()
		if r.active == nil {
			r.active = completer
		}
		completer = r.active
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Info("active AI provider selected", map[string]interface{}{"provider": completer.ID(), "model": completer.Model()})
		}
		return completer, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ports.Completer), nil
}

// SetActive switches the active provider. Only configured providers qualify.
func (r *Registry) SetActive(id string) error {
	completer := r.find(id)
	if completer == nil {
		return fmt.Errorf("provider %s: %w", id, domain.ErrNotFound)
	}
	if !completer.Configured() {
		return fmt.Errorf("provider %s is not configured", id)
	}
	r.mu.Lock()
	r.active = completer
	r.mu.Unlock()
	if r.logger != nil {
		r.logger.Info("switched AI provider", map[string]interface{}{"provider": id})
	}
	return nil
}

// List describes every registered provider in priority order.
func (r *Registry) List(ctx context.Context) []domain.ProviderStatus {
	activeID := ""
	if active, err := r.Active(ctx); err == nil {
		activeID = active.ID()
	}
	statuses := make([]domain.ProviderStatus, 0, len(r.completers))
	for _, completer := range r.completers {
		statuses = append(statuses, domain.ProviderStatus{
			ID:         completer.ID(),
			Name:       completer.Name(),
			Model:      completer.Model(),
			Configured: completer.Configured(),
			Active:     completer.ID() == activeID,
		})
	}
	return statuses
}

func (r *Registry) current() ports.Completer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Registry) states(ctx context.Context) []ProviderState {
	states := make([]ProviderState, 0, len(r.completers))
	for _, completer := range r.completers {
		state := ProviderState{ID: completer.ID(), Configured: completer.Configured(), Reachable: true}
		if state.Configured && completer.ID() != r.override {
			state.Reachable = r.reachable(ctx, completer)
		}
		states = append(states, state)
	}
	return states
}

func (r *Registry) reachable(ctx context.Context, completer ports.Completer) bool {
	p, ok := completer.(prober)
	if !ok || !p.NeedsProbe() {
		return true
	}
	pinger, ok := completer.(ports.Pinger)
	if !ok {
		return true
	}
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	if err := pinger.Ping(probeCtx); err != nil {
		if r.logger != nil {
			r.logger.Debug("provider probe failed", map[string]interface{}{"provider": completer.ID(), "error": err.Error()})
		}
		return false
	}
	return true
}

func (r *Registry) find(id string) ports.Completer {
	for _, completer := range r.completers {
		if completer.ID() == id {
			return completer
		}
	}
	return nil
}

func (r *Registry) ids() []string {
	ids := make([]string, 0, len(r.completers))
	for _, completer := range r.completers {
		ids = append(ids, completer.ID())
	}
	return ids
}

var _ ports.ProviderRegistry = (*Registry)(nil)
