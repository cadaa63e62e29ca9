// Package catalog holds the read-mostly registry of known models and their
// capabilities. The runtime resolves requested model identifiers here before
// routing to a provider adapter.
package catalog

import (
	"fmt"
	"sort"
	"sync"
)

// Vendor identifies which provider adapter serves a model.
type Vendor string

const (
	VendorAnthropic Vendor = "anthropic"
	VendorOpenAI    Vendor = "openai"
	VendorGoogle    Vendor = "google"
	VendorLocal     Vendor = "local"
)

// Model describes one entry in the catalog.
type Model struct {
	// ID is the identifier sent on the wire (e.g. "claude-sonnet-4-5").
	ID string

	// Name is the human-readable display name.
	Name string

	Vendor Vendor

	// MaxInputTokens is the context window; the compactor budgets
	// against it.
	MaxInputTokens int

	// MaxOutputTokens caps the response budget for a single request.
	MaxOutputTokens int

	SupportsVision bool

	// NativeToolCalling is false for models that only support tools via
	// prompt-injected protocols (common on local servers).
	NativeToolCalling bool
}

// Catalog is a thread-safe model registry with a default entry.
type Catalog struct {
	mu        sync.RWMutex
	models    map[string]Model
	defaultID string
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{models: make(map[string]Model)}
}

// Register adds or replaces a model. The first registered model becomes the
// default until SetDefault overrides it.
func (c *Catalog) Register(m Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[m.ID] = m
	if c.defaultID == "" {
		c.defaultID = m.ID
	}
}

// Lookup returns the model for the given ID.
func (c *Catalog) Lookup(id string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	return m, ok
}

// Default returns the default model.
func (c *Catalog) Default() (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[c.defaultID]
	return m, ok
}

// SetDefault marks an already-registered model as the default.
func (c *Catalog) SetDefault(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.models[id]; !ok {
		return fmt.Errorf("catalog: unknown model %q", id)
	}
	c.defaultID = id
	return nil
}

// List returns all models sorted by ID.
func (c *Catalog) List() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Builtin returns a catalog preloaded with the commonly used models for each
// vendor. Callers typically extend it with locally served models.
func Builtin() *Catalog {
	c := New()
	for _, m := range []Model{
		{
			ID:                "claude-sonnet-4-5",
			Name:              "Claude Sonnet 4.5",
			Vendor:            VendorAnthropic,
			MaxInputTokens:    200000,
			MaxOutputTokens:   64000,
			SupportsVision:    true,
			NativeToolCalling: true,
		},
		{
			ID:                "claude-haiku-4-5",
			Name:              "Claude Haiku 4.5",
			Vendor:            VendorAnthropic,
			MaxInputTokens:    200000,
			MaxOutputTokens:   64000,
			SupportsVision:    true,
			NativeToolCalling: true,
		},
		{
			ID:                "gpt-4o",
			Name:              "GPT-4o",
			Vendor:            VendorOpenAI,
			MaxInputTokens:    128000,
			MaxOutputTokens:   16384,
			SupportsVision:    true,
			NativeToolCalling: true,
		},
		{
			ID:                "gpt-4o-mini",
			Name:              "GPT-4o Mini",
			Vendor:            VendorOpenAI,
			MaxInputTokens:    128000,
			MaxOutputTokens:   16384,
			SupportsVision:    true,
			NativeToolCalling: true,
		},
		{
			ID:                "gemini-2.0-flash",
			Name:              "Gemini 2.0 Flash",
			Vendor:            VendorGoogle,
			MaxInputTokens:    1000000,
			MaxOutputTokens:   8192,
			SupportsVision:    true,
			NativeToolCalling: true,
		},
		{
			ID:                "gemini-1.5-pro",
			Name:              "Gemini 1.5 Pro",
			Vendor:            VendorGoogle,
			MaxInputTokens:    2000000,
			MaxOutputTokens:   8192,
			SupportsVision:    true,
			NativeToolCalling: true,
		},
	} {
		c.Register(m)
	}
	return c
}
