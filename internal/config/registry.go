package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/facechat/pkg/provider/auth"
	"github.com/MrWong99/facechat/pkg/provider/dialog"
	"github.com/MrWong99/facechat/pkg/provider/synth"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// collaborator kind. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	synth  map[string]func(ProviderEntry) (synth.Provider, error)
	auth   map[string]func(ProviderEntry) (auth.Provider, error)
	dialog map[string]func(ProviderEntry) (dialog.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		synth:  make(map[string]func(ProviderEntry) (synth.Provider, error)),
		auth:   make(map[string]func(ProviderEntry) (auth.Provider, error)),
		dialog: make(map[string]func(ProviderEntry) (dialog.Provider, error)),
	}
}

// RegisterSynth registers a speech synthesis factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSynth(name string, factory func(ProviderEntry) (synth.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synth[name] = factory
}

// RegisterAuth registers a verification/registration factory under name.
func (r *Registry) RegisterAuth(name string, factory func(ProviderEntry) (auth.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auth[name] = factory
}

// RegisterDialog registers a conversation backend factory under name.
func (r *Registry) RegisterDialog(name string, factory func(ProviderEntry) (dialog.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialog[name] = factory
}

// CreateSynth instantiates the synth provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSynth(entry ProviderEntry) (synth.Provider, error) {
	return create(r, r.synth, "synth", entry)
}

// CreateAuth instantiates the auth provider registered under entry.Name.
func (r *Registry) CreateAuth(entry ProviderEntry) (auth.Provider, error) {
	return create(r, r.auth, "auth", entry)
}

// CreateDialog instantiates the dialog provider registered under entry.Name.
func (r *Registry) CreateDialog(entry ProviderEntry) (dialog.Provider, error) {
	return create(r, r.dialog, "dialog", entry)
}

// Names returns the registered provider names for kind ("synth", "auth" or
// "dialog").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "synth":
		names = keys(r.synth)
	case "auth":
		names = keys(r.auth)
	case "dialog":
		names = keys(r.dialog)
	}
	return names
}

func create[P any](r *Registry, factories map[string]func(ProviderEntry) (P, error), kind string, entry ProviderEntry) (P, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
