// Package config resolves the runtime configuration from defaults, an
// optional YAML file, a .env file, and LOSEME_* environment variables,
// in that order of precedence (env wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	// DeviceID names this machine in document identity. Defaults to
	// the hostname.
	DeviceID string `yaml:"device_id"`

	// DataDir holds the metadata database and logs.
	DataDir string `yaml:"data_dir"`

	// SourceRootHost and SourceRootLocal translate between the path
	// scheme documents are addressed under and the local mount point,
	// for scanning another device's tree (e.g. a backup mount).
	SourceRootHost  string `yaml:"source_root_host"`
	SourceRootLocal string `yaml:"source_root_local"`

	// APIURL is where remote CLI commands reach the server.
	APIURL string `yaml:"api_url"`

	// ListenAddr is the HTTP bind address for serve.
	ListenAddr string `yaml:"listen_addr"`

	// EmbeddingModel selects the embedder: "static" or an ollama
	// model name, optionally prefixed "ollama:".
	EmbeddingModel string `yaml:"embedding_model"`
	OllamaHost     string `yaml:"ollama_host"`
	UseCUDA        bool   `yaml:"use_cuda"`

	// Chunker is "simple" or "semantic".
	Chunker      string `yaml:"chunker"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`

	// VectorStorage is "in-memory", "qdrant", or "qdrant-hybrid".
	VectorStorage    string `yaml:"vector_storage"`
	QdrantHost       string `yaml:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port"`
	QdrantCollection string `yaml:"qdrant_collection"`
	AllowVectorClear bool   `yaml:"allow_vector_clear"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// PollInterval is the indexing worker's sleep while discovery is
	// still feeding the queue.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// New returns the built-in defaults.
func New() *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DeviceID:       hostname,
		DataDir:        filepath.Join(home, ".loseme"),
		APIURL:         "http://localhost:8765",
		ListenAddr:     "localhost:8765",
		EmbeddingModel: "static",
		OllamaHost:     "http://localhost:11434",
		Chunker:        "simple",
		ChunkSize:      500,
		ChunkOverlap:   50,
		VectorStorage:  "in-memory",
		QdrantHost:     "localhost",
		QdrantPort:     6334,
		LogLevel:       "info",
		PollInterval:   200 * time.Millisecond,
	}
}

// Load resolves the configuration: defaults, then the YAML file at
// LOSEME_CONFIG (if set) or <data_dir>/config.yaml (if present), then
// a .env file in the working directory, then the environment.
func Load() (*Config, error) {
	// .env never overrides variables already exported
	_ = godotenv.Load()

	cfg := New()

	path := os.Getenv("LOSEME_CONFIG")
	if path == "" {
		candidate := filepath.Join(cfg.DataDir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies LOSEME_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("LOSEME_DEVICE_ID"); v != "" {
		c.DeviceID = v
	}
	if v := os.Getenv("LOSEME_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LOSEME_SOURCE_ROOT_HOST"); v != "" {
		c.SourceRootHost = v
	}
	if v := os.Getenv("LOSEME_SOURCE_ROOT_LOCAL"); v != "" {
		c.SourceRootLocal = v
	}
	if v := os.Getenv("LOSEME_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("LOSEME_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("LOSEME_EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("LOSEME_OLLAMA_HOST"); v != "" {
		c.OllamaHost = v
	}
	if v := os.Getenv("LOSEME_USE_CUDA"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOSEME_USE_CUDA: %w", err)
		}
		c.UseCUDA = b
	}
	if v := os.Getenv("LOSEME_CHUNKER"); v != "" {
		c.Chunker = v
	}
	if v := os.Getenv("LOSEME_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOSEME_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = n
	}
	if v := os.Getenv("LOSEME_CHUNK_OVERLAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOSEME_CHUNK_OVERLAP: %w", err)
		}
		c.ChunkOverlap = n
	}
	if v := os.Getenv("LOSEME_VECTOR_STORAGE"); v != "" {
		c.VectorStorage = v
	}
	if v := os.Getenv("LOSEME_QDRANT_HOST"); v != "" {
		c.QdrantHost = v
	}
	if v := os.Getenv("LOSEME_QDRANT_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOSEME_QDRANT_PORT: %w", err)
		}
		c.QdrantPort = n
	}
	if v := os.Getenv("LOSEME_QDRANT_COLLECTION"); v != "" {
		c.QdrantCollection = v
	}
	if v := os.Getenv("LOSEME_ALLOW_VECTOR_CLEAR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOSEME_ALLOW_VECTOR_CLEAR: %w", err)
		}
		c.AllowVectorClear = b
	}
	if v := os.Getenv("LOSEME_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOSEME_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("LOSEME_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LOSEME_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}
	return nil
}

// Validate rejects settings the rest of the system would choke on
// later.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id must not be empty")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap %d must be in [0, chunk_size)", c.ChunkOverlap)
	}
	switch c.Chunker {
	case "simple", "semantic":
	default:
		return fmt.Errorf("chunker must be simple or semantic, got %q", c.Chunker)
	}
	switch c.VectorStorage {
	case "in-memory", "qdrant", "qdrant-hybrid":
	default:
		return fmt.Errorf("vector_storage must be in-memory, qdrant, or qdrant-hybrid, got %q", c.VectorStorage)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	return nil
}

// DatabasePath is where the metadata store lives.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "loseme.db")
}

// LogPath is the log file, defaulting under the data dir.
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "logs", "loseme.log")
}
