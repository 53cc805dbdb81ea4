package config

import (
	"context"
	"sync"
	"time"
)

// Reloader is the callback Live invokes after a successful hot reload.
type Reloader func(cfg Config)

// Live wraps a Config with the mutable, concurrency-safe view the HTTP
// reload endpoint operates on; there is no file watcher. Static fields are
// fixed at construction; only ApplyHotReloadable's fields ever change.
type Live struct {
	mu   sync.RWMutex
	path string
	cfg  Config
	on   []Reloader
}

// NewLive wraps an already-loaded Config for live hot-reload.
func NewLive(path string, cfg Config) *Live {
	return &Live{path: path, cfg: cfg}
}

// Get returns a snapshot of the current config.
func (l *Live) Get() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// OnReload registers a callback invoked synchronously after each Reload.
func (l *Live) OnReload(fn Reloader) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = append(l.on, fn)
}

// Reload re-reads the config file (if any) plus environment overrides,
// applies only the hot-reloadable fields, and notifies every registered
// callback (spec §6: "hot-reloadable ... reload endpoint or watcher").
func (l *Live) Reload(ctx context.Context) error {
	fresh, err := Load(l.path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.cfg.ApplyHotReloadable(fresh)
	snapshot := l.cfg
	callbacks := append([]Reloader(nil), l.on...)
	l.mu.Unlock()

	for _, fn := range callbacks {
		fn(snapshot)
	}
	return nil
}

// CORSOrigins, CORSMethods, and CORSHeaders satisfy httpapi.ConfigStore.
func (l *Live) CORSOrigins() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.CORSAllowedOrigins
}

func (l *Live) CORSMethods() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.CORSAllowedMethods
}

func (l *Live) CORSHeaders() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.CORSAllowedHeaders
}

// DiagnosticMaxAge returns the current default TTL new DiagnosticRequests
// receive when the caller does not specify one (spec §6: "diagnostic max
// age" is hot-reloadable).
func (l *Live) DiagnosticMaxAge() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return time.Duration(l.cfg.DiagnosticMaxAgeSeconds) * time.Second
}
