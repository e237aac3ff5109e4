package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "data_path: /tmp/cortex\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "memory", cfg.VectorStore.Backend)
	require.Equal(t, 100, cfg.Cache.MaxEntries)
	require.Equal(t, 3600, cfg.Cache.TTLSeconds)
	require.Equal(t, 0.7, cfg.Retention.SimilarityThreshold)
	require.Equal(t, 20, cfg.Retention.MaxBoostCount)
	require.Equal(t, 0.2, cfg.Retention.BaseBoost)
	require.Equal(t, 7.0, cfg.Retention.BoostDecayDays)
	require.Equal(t, 4, cfg.Attention.SinkSize)
	require.Equal(t, 4000, cfg.Attention.WindowSize)
	require.Equal(t, 32768, cfg.Attention.MaxContextTokens)
	require.Equal(t, 0.5, cfg.Hybrid.BM25Weight)
	require.Equal(t, 0.5, cfg.Hybrid.SemanticWeight)
	require.Equal(t, 60.0, cfg.Hybrid.RRFK)
	require.Equal(t, 2, cfg.Graph.MaxHops)
	require.Equal(t, 10, cfg.Graph.MaxResults)
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
data_path: /tmp/cortex
hybrid:
  bm25_weight: 0.7
  semantic_weight: 0.3
retention:
  similarity_threshold: 0.9
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0.7, cfg.Hybrid.BM25Weight)
	require.Equal(t, 0.3, cfg.Hybrid.SemanticWeight)
	require.Equal(t, 0.9, cfg.Retention.SimilarityThreshold)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeTempConfig(t, "data_path: /tmp/cortex\n")
	t.Setenv("CORTEX_GENERATOR_API_KEY", "secret-key")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "secret-key", cfg.Generator.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
