// Package registry holds the closed set of backend descriptors known to the
// orchestration core. It is populated once at startup and read under a
// shared read lock thereafter: a declarative descriptor table in place of a
// switch-based per-backend constructor.
package registry

import (
	"sync"

	"github.com/unitai-dev/unitai-core/internal/corereq"
)

// Descriptor is the immutable capability set for a registered backend.
type Descriptor struct {
	ID                   corereq.BackendID
	CommandName          string
	Args                 []string // fixed leading argv, before per-request flags
	FileMode             corereq.FileMode
	SupportsOutputFormat corereq.OutputFormatSupport
	AcceptsAutoApprove   bool
	DefaultTimeoutMs     int
}

// Registry is a read-mostly, concurrency-safe table of descriptors keyed by
// backend id.
type Registry struct {
	mu    sync.RWMutex
	byID  map[corereq.BackendID]Descriptor
	order []corereq.BackendID // registration order, for deterministic All()
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[corereq.BackendID]Descriptor)}
}

// Register adds or replaces a descriptor. Idempotent: registering the same
// id again simply overwrites the prior descriptor without duplicating the
// order slice.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[d.ID]; !exists {
		r.order = append(r.order, d.ID)
	}
	r.byID[d.ID] = d
}

// Get returns the descriptor for id, or false if unregistered.
func (r *Registry) Get(id corereq.BackendID) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// All returns every registered descriptor in registration order.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// AllBackendIDs returns every registered backend id in registration order.
// Satisfies internal/metrics' backendLister, so zero-sample backends still
// appear in Prometheus export.
func (r *Registry) AllBackendIDs() []corereq.BackendID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]corereq.BackendID, len(r.order))
	copy(out, r.order)
	return out
}

// Whitelist returns the set of command names the registry currently
// authorizes to be spawned. internal/subprocess consults this before
// launching any process.
func (r *Registry) Whitelist() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.byID))
	for _, d := range r.byID {
		out[d.CommandName] = true
	}
	return out
}

// Default backend ids used by the built-in role mapping and the default
// fallback chain.
const (
	AskGemini   corereq.BackendID = "ask-gemini"
	AskDroid    corereq.BackendID = "ask-droid"
	AskQwen     corereq.BackendID = "ask-qwen"
	AskCursor   corereq.BackendID = "ask-cursor"
	AskRovoDev  corereq.BackendID = "ask-rovodev"
	AskOpenCode corereq.BackendID = "ask-opencode"
)

// DefaultDescriptors returns the built-in descriptor set: five subprocess
// backends, plus ask-opencode, included to exercise the "both"
// output-format-support case. ask-opencode is launched as "opencode run"
// through the same subprocess executor as the other five.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:                   AskGemini,
			CommandName:          "gemini",
			Args:                 []string{},
			FileMode:             corereq.FileModeNone,
			SupportsOutputFormat: corereq.OutputFormatText,
			AcceptsAutoApprove:   false,
			DefaultTimeoutMs:     120_000,
		},
		{
			ID:                   AskDroid,
			CommandName:          "droid",
			Args:                 []string{"exec"},
			FileMode:             corereq.FileModeEmbedInPrompt,
			SupportsOutputFormat: corereq.OutputFormatText,
			AcceptsAutoApprove:   true,
			DefaultTimeoutMs:     180_000,
		},
		{
			ID:                   AskQwen,
			CommandName:          "qwen",
			Args:                 []string{},
			FileMode:             corereq.FileModeCLIFlag,
			SupportsOutputFormat: corereq.OutputFormatJSON,
			AcceptsAutoApprove:   false,
			DefaultTimeoutMs:     120_000,
		},
		{
			ID:                   AskCursor,
			CommandName:          "cursor-agent",
			Args:                 []string{},
			FileMode:             corereq.FileModeCLIFlag,
			SupportsOutputFormat: corereq.OutputFormatText,
			AcceptsAutoApprove:   true,
			DefaultTimeoutMs:     150_000,
		},
		{
			ID:                   AskRovoDev,
			CommandName:          "acli",
			Args:                 []string{"rovodev", "run"},
			FileMode:             corereq.FileModeEmbedInPrompt,
			SupportsOutputFormat: corereq.OutputFormatText,
			AcceptsAutoApprove:   false,
			DefaultTimeoutMs:     180_000,
		},
		{
			ID:                   AskOpenCode,
			CommandName:          "opencode",
			Args:                 []string{"run"},
			FileMode:             corereq.FileModeCLIFlag,
			SupportsOutputFormat: corereq.OutputFormatBoth,
			AcceptsAutoApprove:   true,
			DefaultTimeoutMs:     150_000,
		},
	}
}

// NewDefault returns a Registry populated with DefaultDescriptors().
func NewDefault() *Registry {
	r := New()
	for _, d := range DefaultDescriptors() {
		r.Register(d)
	}
	return r
}
