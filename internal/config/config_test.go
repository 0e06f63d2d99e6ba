package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brainstem-run/brainstem/internal/config"
	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWithNoEnvSet(t *testing.T) {
	clearBrainstemEnv(t)

	assert.Equal(t, "inmemory", config.StoreBackend())
	assert.Equal(t, "inprocess", config.JobQueueBackend())
	assert.Equal(t, "inmemory", config.RegistryBackend())
	assert.Equal(t, 1536, config.EmbeddingDimensions())
	assert.Equal(t, 2, config.WorkerCount())
	assert.Equal(t, "info", config.LogLevel())
}

func TestStoreBackendReadsEnvOverride(t *testing.T) {
	clearBrainstemEnv(t)
	t.Setenv("STORE_BACKEND", "pgstore")
	assert.Equal(t, "pgstore", config.StoreBackend())
}

func TestGraphConfigDefaultsMatchDomain(t *testing.T) {
	clearBrainstemEnv(t)
	cfg, err := config.GraphConfig()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultGraphConfig(), cfg)
}

func TestGraphConfigAppliesYAMLOverrides(t *testing.T) {
	clearBrainstemEnv(t)
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phrase: 2.5\nreference: 3.0\n"), 0o644))
	t.Setenv("BRAINSTEM_GRAPH_WEIGHTS_FILE", path)

	cfg, err := config.GraphConfig()
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.RelationWeights[domain.RelationPhrase])
	assert.Equal(t, 3.0, cfg.RelationWeights[domain.RelationRef])
	assert.Equal(t, domain.DefaultRelationWeights()[domain.RelationKeyword], cfg.RelationWeights[domain.RelationKeyword])
}

func TestGraphConfigClampsNegativeOverrideToZero(t *testing.T) {
	clearBrainstemEnv(t)
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phrase: -1.5\n"), 0o644))
	t.Setenv("BRAINSTEM_GRAPH_WEIGHTS_FILE", path)

	cfg, err := config.GraphConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.RelationWeights[domain.RelationPhrase])
}

func TestGraphConfigRejectsUnknownRelation(t *testing.T) {
	clearBrainstemEnv(t)
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("made_up_relation: 9.0\n"), 0o644))
	t.Setenv("BRAINSTEM_GRAPH_WEIGHTS_FILE", path)

	_, err := config.GraphConfig()
	assert.Error(t, err)
}

func clearBrainstemEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STORE_BACKEND", "JOB_QUEUE_BACKEND", "REGISTRY_BACKEND", "GRAPH_BACKEND",
		"EMBEDDING_DIMENSIONS", "WORKER_COUNT", "LOG_LEVEL",
		"GRAPH_MAX_EXPANSION", "GRAPH_HALF_LIFE_HOURS", "GRAPH_ENABLED",
		"BRAINSTEM_GRAPH_WEIGHTS_FILE",
	} {
		t.Setenv(key, "")
	}
}
