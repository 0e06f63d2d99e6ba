// Package config reads Brainstem's configuration as flat environment
// variables, in the same style as the teacher's internal/config/config.go:
// an overridable .env file path, a .secret sidecar for credentials, and
// os.Getenv reads with sane defaults everywhere else. The one structured
// exception is graph relation weight overrides, which load from an
// optional YAML file since a map<relation,float> has no sane flat-env
// encoding.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the .env file named by BRAINSTEM_ENV (default ".env"), then
// its .secret sidecar if present. Both loads are best-effort: a missing
// file is not an error, since env vars may already be set by the
// environment (container, CI, shell) instead.
func Load() error {
	envFile := os.Getenv("BRAINSTEM_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")
	return nil
}

func StoreBackend() string {
	return getenvDefault("STORE_BACKEND", "inmemory")
}

func JobQueueBackend() string {
	return getenvDefault("JOB_QUEUE_BACKEND", "inprocess")
}

func RegistryBackend() string {
	return getenvDefault("REGISTRY_BACKEND", "inmemory")
}

func GraphBackend() string {
	return getenvDefault("GRAPH_BACKEND", "inmemory")
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func SQLiteJobsPath() string {
	return getenvDefault("SQLITE_JOBS_PATH", "brainstem-jobs.db")
}

func SQLiteRegistryPath() string {
	return getenvDefault("SQLITE_REGISTRY_PATH", "brainstem-registry.db")
}

func SQLiteGraphPath() string {
	return getenvDefault("SQLITE_GRAPH_PATH", "brainstem-graph.db")
}

// EmbeddingDimensions is the vector width the hash embedding stub
// produces; defaults to 1536 to match the common real-provider width the
// spec's worked examples assume.
func EmbeddingDimensions() int {
	n, err := strconv.Atoi(os.Getenv("EMBEDDING_DIMENSIONS"))
	if err != nil || n <= 0 {
		return 1536
	}
	return n
}

// WorkerCount is how many WorkerPool pollers cmd/brainstemd starts.
func WorkerCount() int {
	n, err := strconv.Atoi(os.Getenv("WORKER_COUNT"))
	if err != nil || n <= 0 {
		return 2
	}
	return n
}

func LogLevel() string {
	return getenvDefault("LOG_LEVEL", "info")
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// graphWeightsFile is the YAML document shape for
// BRAINSTEM_GRAPH_WEIGHTS_FILE — a flat relation-name-to-weight map, e.g.:
//
//	keyword: 1.0
//	phrase: 1.4
//	temporal: 1.2
//	reference: 1.6
type graphWeightsFile map[string]float64

// GraphConfig builds the runtime domain.GraphConfig: the §4.3 defaults,
// with any weights named in BRAINSTEM_GRAPH_WEIGHTS_FILE overriding the
// matching relation and unknown keys rejected so a typo in the YAML file
// fails loudly instead of silently leaving a relation at its default.
func GraphConfig() (domain.GraphConfig, error) {
	cfg := domain.DefaultGraphConfig()

	if n, err := strconv.Atoi(os.Getenv("GRAPH_MAX_EXPANSION")); err == nil && n > 0 {
		cfg.MaxExpansion = n
	}
	if f, err := strconv.ParseFloat(os.Getenv("GRAPH_HALF_LIFE_HOURS"), 64); err == nil && f > 0 {
		cfg.HalfLifeHours = f
	}
	if v := os.Getenv("GRAPH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: GRAPH_ENABLED: %w", err)
		}
		cfg.Enabled = enabled
	}

	path := os.Getenv("BRAINSTEM_GRAPH_WEIGHTS_FILE")
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read graph weights file: %w", err)
	}
	var overrides graphWeightsFile
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return cfg, fmt.Errorf("config: parse graph weights file: %w", err)
	}
	weights := make(map[domain.RelationType]float64, len(cfg.RelationWeights))
	for k, v := range cfg.RelationWeights {
		weights[k] = v
	}
	for name, weight := range overrides {
		if !domain.ValidRelationType(name) {
			return cfg, fmt.Errorf("config: graph weights file: unknown relation %q", name)
		}
		weights[domain.RelationType(name)] = math.Max(0, weight)
	}
	cfg.RelationWeights = weights
	return cfg, nil
}
