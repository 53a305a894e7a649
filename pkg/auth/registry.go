package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/spendwise/spendwise-auth/pkg/auth/keyset"
)

// ProviderConfig selects a verification strategy by Type and carries its
// strategy-specific settings as raw JSON.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// Deps are the shared collaborators handed to every provider factory.
// KeySets is process-wide so that all validators reading the same
// endpoint share one cached key set.
type Deps struct {
	KeySets    keyset.Resolver
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.KeySets == nil {
		d.KeySets = keyset.NewCachingResolver(keyset.NewHTTPFetcher(d.HTTPClient), keyset.WithLogger(d.Logger))
	}
	return d
}

// ValidatorFactory builds a Validator from a provider's raw config.
type ValidatorFactory func(config json.RawMessage, deps Deps) (Validator, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]ValidatorFactory)
)

func providerKey(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// RegisterProvider makes a strategy available under providerType. Provider
// packages call it from init; registering the same type twice replaces the
// earlier factory.
func RegisterProvider(providerType string, factory ValidatorFactory) {
	key := providerKey(providerType)
	if key == "" || factory == nil {
		panic("auth: RegisterProvider needs a type and a factory")
	}
	mu.Lock()
	defer mu.Unlock()
	factories[key] = factory
}

// NewValidator builds the validator for pc.Type. A nil KeySets in deps
// gets a private caching resolver, so callers that build several
// validators should pass a shared one.
func NewValidator(pc ProviderConfig, deps Deps) (Validator, error) {
	mu.RLock()
	factory, ok := factories[providerKey(pc.Type)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown auth provider type %q (registered: %s)", pc.Type, strings.Join(ListProviders(), ", "))
	}
	return factory(pc.Config, deps.withDefaults())
}

// ListProviders returns registered provider types in sorted order.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
