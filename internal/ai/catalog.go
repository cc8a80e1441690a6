package ai

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

// ErrUnknownModel is returned for a model name missing from the catalog.
var ErrUnknownModel = errors.New("unknown model")

// ErrProviderUnavailable is returned when a model's provider is not configured.
var ErrProviderUnavailable = errors.New("model provider not configured")

// ModelInfo is one catalog entry.
type ModelInfo struct {
	Name        string `yaml:"name" json:"name"`
	Provider    string `yaml:"provider" json:"provider"`
	Model       string `yaml:"model" json:"model"`
	Description string `yaml:"description" json:"description"`
}

type catalogFile struct {
	Models []ModelInfo `yaml:"models"`
}

// LoadCatalog parses the embedded model catalog.
func LoadCatalog() ([]ModelInfo, error) {
	return parseCatalog(modelsYAML)
}

func parseCatalog(data []byte) ([]ModelInfo, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Models))
	for _, m := range f.Models {
		if m.Name == "" || m.Provider == "" {
			return nil, fmt.Errorf("model catalog entry %+v is missing name or provider", m)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("duplicate model %q in catalog", m.Name)
		}
		seen[m.Name] = true
	}
	return f.Models, nil
}

// Factory builds a generator for a catalog entry.
type Factory func(ctx context.Context, info ModelInfo) (Generator, error)

// Registry resolves model names to generators, constructing each at most once.
type Registry struct {
	mu        sync.Mutex
	models    []ModelInfo
	factories map[string]Factory
	built     map[string]Generator
}

// NewRegistry creates a registry over the catalog entries.
func NewRegistry(models []ModelInfo) *Registry {
	return &Registry{
		models:    models,
		factories: make(map[string]Factory),
		built:     make(map[string]Generator),
	}
}

// RegisterProvider makes every catalog model of provider resolvable.
func (r *Registry) RegisterProvider(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// Models returns the catalog entries whose provider is registered.
func (r *Registry) Models() []ModelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ModelInfo
	for _, m := range r.models {
		if _, ok := r.factories[m.Provider]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Get returns the generator for the named model.
func (r *Registry) Get(ctx context.Context, name string) (Generator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.built[name]; ok {
		return g, nil
	}

	var info *ModelInfo
	for i := range r.models {
		if r.models[i].Name == name {
			info = &r.models[i]
			break
		}
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	factory, ok := r.factories[info.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s needs %s", ErrProviderUnavailable, name, info.Provider)
	}

	g, err := factory(ctx, *info)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s generator: %w", name, err)
	}
	r.built[name] = g
	return g, nil
}
