// Package config loads operator configuration and resolves logical roles
// and workflows to backend ids. Defaults apply on a missing file, values
// come through os.ExpandEnv before parsing, and a malformed file is never
// fatal (see DESIGN.md for the JSON-over-YAML format decision).
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/unitai-dev/unitai-core/internal/breaker"
	"github.com/unitai-dev/unitai-core/internal/corereq"
	"github.com/unitai-dev/unitai-core/internal/registry"
)

// BackendsConfig lists which backends are enabled and which were detected
// present on the host at setup time.
type BackendsConfig struct {
	Enabled  []corereq.BackendID `json:"enabled"`
	Detected []corereq.BackendID `json:"detected"`
}

// RolesConfig maps logical roles to backend ids.
type RolesConfig struct {
	Architect   corereq.BackendID `json:"architect"`
	Implementer corereq.BackendID `json:"implementer"`
	Tester      corereq.BackendID `json:"tester"`
}

// WorkflowDefaults holds per-workflow overrides.
type WorkflowDefaults struct {
	Backends    []corereq.BackendID `json:"backends,omitempty"`
	MaxParallel int                 `json:"maxParallel,omitempty"`
	TimeoutMs   int                 `json:"timeoutMs,omitempty"`
}

// Preferences controls optional orchestration behaviors.
type Preferences struct {
	PreferAvailable   bool `json:"preferAvailable"`
	RetryWithFallback bool `json:"retryWithFallback"`
}

// Config is the root configuration shape, persisted as JSON at
// $HOME/.unitai/config.json.
type Config struct {
	Backends         BackendsConfig              `json:"backends"`
	Roles            RolesConfig                 `json:"roles"`
	FallbackPriority []corereq.BackendID         `json:"fallbackPriority,omitempty"`
	WorkflowDefaults map[string]WorkflowDefaults `json:"workflowDefaults,omitempty"`
	Preferences      Preferences                 `json:"preferences"`
}

// defaultRoles is the hard-coded fallback mapping used when roles are
// absent from config.
var defaultRoles = RolesConfig{
	Architect:   registry.AskGemini,
	Implementer: registry.AskDroid,
	Tester:      registry.AskQwen,
}

// defaultFallbackPriority is the default fallback sequence.
var defaultFallbackPriority = []corereq.BackendID{
	registry.AskGemini, registry.AskQwen, registry.AskDroid, registry.AskRovoDev,
}

// DefaultConfig returns sensible defaults for an empty or absent config file.
func DefaultConfig() *Config {
	return &Config{
		Roles:            defaultRoles,
		FallbackPriority: append([]corereq.BackendID(nil), defaultFallbackPriority...),
		Preferences:      Preferences{PreferAvailable: true, RetryWithFallback: true},
	}
}

// Load reads and parses configuration from a JSON file at path. Environment
// variables embedded in the file are expanded using os.ExpandEnv syntax. A
// missing file is equivalent to an empty config; a malformed file is logged
// and treated the same way — neither is fatal.
func Load(path string, log *slog.Logger) *Config {
	if log == nil {
		log = slog.Default()
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to read config file, using defaults", slog.String("path", path), slog.Any("error", err))
		}
		return cfg
	}

	expanded := os.ExpandEnv(string(data))
	if err := json.Unmarshal([]byte(expanded), cfg); err != nil {
		log.Warn("failed to parse config file, using defaults", slog.String("path", path), slog.Any("error", err))
		return DefaultConfig()
	}

	if cfg.Roles.Architect == "" {
		cfg.Roles.Architect = defaultRoles.Architect
	}
	if cfg.Roles.Implementer == "" {
		cfg.Roles.Implementer = defaultRoles.Implementer
	}
	if cfg.Roles.Tester == "" {
		cfg.Roles.Tester = defaultRoles.Tester
	}
	if len(cfg.FallbackPriority) == 0 {
		cfg.FallbackPriority = append([]corereq.BackendID(nil), defaultFallbackPriority...)
	}

	return cfg
}

// Save writes cfg to path as JSON, creating the parent directory if needed.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns $HOME/.unitai/config.json.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".unitai", "config.json")
}

// RoleResolver answers role/workflow/availability questions against a
// loaded Config and the backend registry.
type RoleResolver struct {
	cfg *Config
	reg *registry.Registry
	log *slog.Logger
}

// NewRoleResolver binds a Config and Registry.
func NewRoleResolver(cfg *Config, reg *registry.Registry, log *slog.Logger) *RoleResolver {
	if log == nil {
		log = slog.Default()
	}
	return &RoleResolver{cfg: cfg, reg: reg, log: log}
}

// RoleBackend returns the configured backend for role, or the hard-coded
// default if missing.
func (r *RoleResolver) RoleBackend(role string) corereq.BackendID {
	switch role {
	case "architect":
		if r.cfg.Roles.Architect != "" {
			return r.cfg.Roles.Architect
		}
		return defaultRoles.Architect
	case "implementer":
		if r.cfg.Roles.Implementer != "" {
			return r.cfg.Roles.Implementer
		}
		return defaultRoles.Implementer
	case "tester":
		if r.cfg.Roles.Tester != "" {
			return r.cfg.Roles.Tester
		}
		return defaultRoles.Tester
	default:
		return defaultRoles.Architect
	}
}

// FallbackPriority returns the configured fallback order, or the default
// sequence if unconfigured.
func (r *RoleResolver) FallbackPriority() []corereq.BackendID {
	if len(r.cfg.FallbackPriority) > 0 {
		return append([]corereq.BackendID(nil), r.cfg.FallbackPriority...)
	}
	return append([]corereq.BackendID(nil), defaultFallbackPriority...)
}

// WorkflowBackends returns the per-workflow backend override filtered
// against the registry; an empty override yields defaults, and unknown ids
// are dropped with a warning.
func (r *RoleResolver) WorkflowBackends(name string, defaults []corereq.BackendID) []corereq.BackendID {
	wf, ok := r.cfg.WorkflowDefaults[name]
	if !ok || len(wf.Backends) == 0 {
		return defaults
	}

	out := make([]corereq.BackendID, 0, len(wf.Backends))
	for _, id := range wf.Backends {
		if _, known := r.reg.Get(id); known {
			out = append(out, id)
		} else {
			r.log.Warn("workflow override names unknown backend, dropping", slog.String("workflow", name), slog.String("backend", string(id)))
		}
	}
	if len(out) == 0 {
		return defaults
	}
	return out
}

// FilterAvailable keeps only ids whose circuit admits requests when
// preferAvailable is set; otherwise it returns ids unchanged.
func (r *RoleResolver) FilterAvailable(ids []corereq.BackendID, cb *breaker.Breaker) []corereq.BackendID {
	if !r.cfg.Preferences.PreferAvailable {
		return ids
	}
	return cb.FilterAvailable(ids)
}
