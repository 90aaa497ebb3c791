package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/unitai-dev/unitai-core/internal/audit"
	"github.com/unitai-dev/unitai-core/internal/breaker"
	"github.com/unitai-dev/unitai-core/internal/clock"
	"github.com/unitai-dev/unitai-core/internal/config"
	"github.com/unitai-dev/unitai-core/internal/container"
	"github.com/unitai-dev/unitai-core/internal/fallback"
	"github.com/unitai-dev/unitai-core/internal/fanout"
	"github.com/unitai-dev/unitai-core/internal/metrics"
	"github.com/unitai-dev/unitai-core/internal/permission"
	"github.com/unitai-dev/unitai-core/internal/registry"
	"github.com/unitai-dev/unitai-core/internal/subprocess"
	"github.com/unitai-dev/unitai-core/internal/transform"
)

// runtime bundles every wired component a subcommand needs: config, stores,
// executor, then higher-level orchestration built on top, scoped to this
// harness's lifetime rather than a long-running daemon.
type runtime struct {
	cfg          *config.Config
	reg          *registry.Registry
	clk          clock.Clock
	log          *slog.Logger
	container    *container.Container
	breaker      *breaker.Breaker
	transformer  *transform.Transformer
	executor     *subprocess.Executor
	recorder     *metrics.Recorder
	orchestrator *fallback.Orchestrator
	fanout       *fanout.Fanout
	permissions  *permission.Manager
	resolver     *config.RoleResolver
}

func newRuntime() (*runtime, error) {
	log := rootLogger()
	clk := clock.New()

	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg := config.Load(path, log)

	reg := registry.NewDefault()
	resolver := config.NewRoleResolver(cfg, reg, log)

	home, err := defaultDataDir()
	if err != nil {
		return nil, err
	}
	c, err := container.Open(home, clk, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open dependency container: %w", err)
	}

	cb, err := breaker.New(breaker.DefaultConfig(), clk, c.Breaker, log)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize circuit breaker: %w", err)
	}

	tr := transform.New(reg, log)
	exec := subprocess.New(reg.Whitelist(), log)
	rec := metrics.New(c.Metrics, clk, log)
	orch := fallback.New(reg, tr, cb, exec, rec, resolver, fallback.Config{}, log)
	fo := fanout.New(orch)
	auditSink := audit.New(c.Audit, clk, log)
	perm := permission.New(auditSink, log)

	return &runtime{
		cfg: cfg, reg: reg, clk: clk, log: log, container: c,
		breaker: cb, transformer: tr, executor: exec, recorder: rec,
		orchestrator: orch, fanout: fo, permissions: perm, resolver: resolver,
	}, nil
}

func (r *runtime) Close() {
	if r.container != nil {
		if err := r.container.Close(); err != nil {
			r.log.Error("failed to close dependency container", slog.Any("error", err))
		}
	}
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".unitai", "data"), nil
}
