package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseCfg() Config {
	return Config{
		AppEnv:                "prod",
		UpstreamTimeout:       60 * time.Second,
		UpstreamSearchTimeout: 120 * time.Second,
		RetryMaxRetries:       2,
	}
}

func TestPolicyTable_Defaults(t *testing.T) {
	tbl := NewPolicyTable(baseCfg())

	chat := tbl.For("chat")
	assert.Equal(t, 60*time.Second, chat.Timeout)
	assert.Equal(t, 2, chat.MaxRetries)

	search := tbl.For("search")
	assert.Equal(t, 120*time.Second, search.Timeout)
}

func TestLoadEndpointPolicies_AppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`endpoints:
  Chat:
    timeout: 90s
  health:
    timeout: 5s
    max_retries: 0
`), 0o600))

	p, err := LoadEndpointPolicies(path)
	require.NoError(t, err)

	tbl := NewPolicyTable(baseCfg())
	tbl.Replace(p)

	assert.Equal(t, 90*time.Second, tbl.For("chat").Timeout)
	assert.Equal(t, 2, tbl.For("chat").MaxRetries)
	assert.Equal(t, 5*time.Second, tbl.For("health").Timeout)
	assert.Equal(t, 0, tbl.For("health").MaxRetries)
	assert.Equal(t, 120*time.Second, tbl.For("search").Timeout)
}

func TestLoadEndpointPolicies_Errors(t *testing.T) {
	_, err := LoadEndpointPolicies(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("endpoints: [unclosed"), 0o600))
	_, err = LoadEndpointPolicies(bad)
	require.Error(t, err)
}

func TestWatchEndpointPolicies_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoints: {}\n"), 0o600))

	tbl := NewPolicyTable(baseCfg())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchEndpointPolicies(ctx, path, tbl))

	require.NoError(t, os.WriteFile(path, []byte("endpoints:\n  chat:\n    timeout: 7s\n"), 0o600))

	require.Eventually(t, func() bool {
		return tbl.For("chat").Timeout == 7*time.Second
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPolicyTable_DeadlineCoversAllAttempts(t *testing.T) {
	cfg := baseCfg()
	cfg.RetryBaseDelay = 500 * time.Millisecond
	cfg.RetryMaxDelay = 10 * time.Second
	tbl := NewPolicyTable(cfg)

	assert.Equal(t, 3*60*time.Second+1500*time.Millisecond+DeadlineGrace, tbl.Deadline("chat"))
	assert.Equal(t, 3*120*time.Second+1500*time.Millisecond+DeadlineGrace, tbl.Deadline("search"))
	assert.Equal(t, tbl.Deadline("search"), tbl.LongestDeadline())

	three := 3
	tbl.Replace(&EndpointPoliciesYAML{Endpoints: map[string]EndpointPolicy{"slow": {Timeout: 200 * time.Second, MaxRetries: &three}}})
	assert.Equal(t, 4*200*time.Second+3500*time.Millisecond+DeadlineGrace, tbl.Deadline("slow"))
	assert.Equal(t, tbl.Deadline("slow"), tbl.LongestDeadline())
}
