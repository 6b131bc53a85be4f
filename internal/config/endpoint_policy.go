package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// EndpointPolicy holds per-endpoint overrides for upstream calls.
type EndpointPolicy struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries *int          `yaml:"max_retries"`
}

// EndpointPoliciesYAML represents the structure of the endpoint policy YAML file.
//
//	endpoints:
//	  search:
//	    timeout: 120s
//	    max_retries: 2
type EndpointPoliciesYAML struct {
	Endpoints map[string]EndpointPolicy `yaml:"endpoints"`
}

// ResolvedPolicy is the effective policy for one endpoint.
type ResolvedPolicy struct {
	Timeout    time.Duration
	MaxRetries int
}

// DeadlineGrace is added to a retry budget so the last attempt can finish
// reporting before the request deadline passes.
const DeadlineGrace = 2 * time.Second

// PolicyTable resolves endpoint policies from config defaults plus an optional
// YAML override set that can be swapped at runtime.
type PolicyTable struct {
	defaultTimeout time.Duration
	searchTimeout  time.Duration
	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	overrides      atomic.Pointer[EndpointPoliciesYAML]
}

// NewPolicyTable builds a table with defaults taken from cfg.
func NewPolicyTable(cfg Config) *PolicyTable {
	rc := cfg.GetRetryConfig()
	t := &PolicyTable{
		defaultTimeout: cfg.UpstreamTimeout,
		searchTimeout:  cfg.UpstreamSearchTimeout,
		maxRetries:     rc.MaxRetries,
		baseDelay:      rc.BaseDelay,
		maxDelay:       rc.MaxDelay,
	}
	t.overrides.Store(&EndpointPoliciesYAML{})
	return t
}

// For returns the effective policy for endpoint.
func (t *PolicyTable) For(endpoint string) ResolvedPolicy {
	p := ResolvedPolicy{Timeout: t.defaultTimeout, MaxRetries: t.maxRetries}
	if endpoint == "search" && t.searchTimeout > 0 {
		p.Timeout = t.searchTimeout
	}
	ov := t.overrides.Load()
	if ov == nil {
		return p
	}
	if o, ok := ov.Endpoints[strings.ToLower(endpoint)]; ok {
		if o.Timeout > 0 {
			p.Timeout = o.Timeout
		}
		if o.MaxRetries != nil && *o.MaxRetries >= 0 {
			p.MaxRetries = *o.MaxRetries
		}
	}
	return p
}

// Deadline is the longest a full retry sequence for endpoint can take: every
// attempt running to its timeout, the backoff waits between them, and
// DeadlineGrace.
func (t *PolicyTable) Deadline(endpoint string) time.Duration {
	p := t.For(endpoint)
	d := time.Duration(p.MaxRetries+1)*p.Timeout + DeadlineGrace
	for i := 0; i < p.MaxRetries; i++ {
		wait := t.baseDelay << i
		if wait <= 0 || (t.maxDelay > 0 && wait > t.maxDelay) {
			wait = t.maxDelay
		}
		d += wait
	}
	return d
}

// LongestDeadline is the largest Deadline over the defaults and every
// endpoint named in the current overrides.
func (t *PolicyTable) LongestDeadline() time.Duration {
	longest := max(t.Deadline(""), t.Deadline("search"))
	if ov := t.overrides.Load(); ov != nil {
		for name := range ov.Endpoints {
			longest = max(longest, t.Deadline(name))
		}
	}
	return longest
}

// Replace swaps the override set.
func (t *PolicyTable) Replace(p *EndpointPoliciesYAML) {
	if p == nil {
		p = &EndpointPoliciesYAML{}
	}
	t.overrides.Store(p)
}

// LoadEndpointPolicies loads endpoint overrides from a YAML file.
func LoadEndpointPolicies(filePath string) (*EndpointPoliciesYAML, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	// #nosec G304 -- Configuration files are expected to be safe
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var out EndpointPoliciesYAML
	if err := yaml.Unmarshal(content, &out); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	normalized := make(map[string]EndpointPolicy, len(out.Endpoints))
	for name, p := range out.Endpoints {
		normalized[strings.ToLower(strings.TrimSpace(name))] = p
	}
	out.Endpoints = normalized
	return &out, nil
}

// WatchEndpointPolicies reloads filePath into table whenever it changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename are handled.
func WatchEndpointPolicies(ctx context.Context, filePath string, table *PolicyTable) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("op=config.WatchEndpointPolicies: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("op=config.WatchEndpointPolicies: %w", err)
	}
	if err := w.Add(filepath.Dir(absPath)); err != nil {
		_ = w.Close()
		return fmt.Errorf("op=config.WatchEndpointPolicies: %w", err)
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != absPath {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				p, err := LoadEndpointPolicies(absPath)
				if err != nil {
					slog.Warn("endpoint policy reload failed", slog.String("file", absPath), slog.Any("error", err))
					continue
				}
				table.Replace(p)
				slog.Info("endpoint policy reloaded", slog.String("file", absPath), slog.Int("endpoints", len(p.Endpoints)))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("endpoint policy watcher error", slog.Any("error", err))
			}
		}
	}()
	return nil
}
