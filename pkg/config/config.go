// Package config loads ticketrag settings from an optional YAML file and
// TICKETRAG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TICKETRAG_INDEX_PATH.
const EnvPrefix = "TICKETRAG"

// Index backends.
const (
	BackendBadger = "badger"
	BackendQdrant = "qdrant"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Index     IndexConfig     `mapstructure:"index"`
	Corpus    CorpusConfig    `mapstructure:"corpus"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigin      string        `mapstructure:"cors_origin"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"` // 0 disables
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type IndexConfig struct {
	Backend       string        `mapstructure:"backend"`
	Path          string        `mapstructure:"path"`
	QdrantAddr    string        `mapstructure:"qdrant_addr"`
	Collection    string        `mapstructure:"collection"`
	Distance      string        `mapstructure:"distance"`
	MinScore      float64       `mapstructure:"min_score"`
	BatchSize     int           `mapstructure:"batch_size"`
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	// ExpectedTickets is the corpus size below which status warns that the
	// index looks incomplete.
	ExpectedTickets int `mapstructure:"expected_tickets"`
}

type CorpusConfig struct {
	Path string `mapstructure:"path"`
}

type EmbeddingConfig struct {
	Provider    string        `mapstructure:"provider"`
	Dimension   int           `mapstructure:"dimension"`
	OllamaURL   string        `mapstructure:"ollama_url"`
	OllamaModel string        `mapstructure:"ollama_model"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// NATSConfig enables reload events when URL is set.
type NATSConfig struct {
	URL             string        `mapstructure:"url"`
	ReloadSubject   string        `mapstructure:"reload_subject"`
	ReloadedSubject string        `mapstructure:"reloaded_subject"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// MetricsConfig serves Prometheus metrics on Addr. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("index.backend", BackendBadger)
	v.SetDefault("index.path", "./data/databases/index")
	v.SetDefault("index.qdrant_addr", "localhost:6334")
	v.SetDefault("index.collection", "customer_support_tickets")
	v.SetDefault("index.distance", "cosine")
	v.SetDefault("index.min_score", 0.1)
	v.SetDefault("index.batch_size", 100)
	v.SetDefault("index.search_timeout", 5*time.Second)
	v.SetDefault("index.expected_tickets", 29000)

	v.SetDefault("corpus.path", "data/sample_data/customer_support_tickets.csv")

	v.SetDefault("embedding.provider", "hashing")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("embedding.ollama_url", "http://localhost:11434")
	v.SetDefault("embedding.ollama_model", "all-minilm")
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.reload_subject", "tickets.index.reload")
	v.SetDefault("nats.reloaded_subject", "tickets.index.reloaded")
	v.SetDefault("nats.request_timeout", 10*time.Minute)

	v.SetDefault("metrics.addr", ":9091")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}

// Load reads configuration. An empty path looks for ticketrag.yaml in the
// working directory and falls back to defaults when there is none; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ticketrag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Index.Backend {
	case BackendBadger:
		if c.Index.Path == "" {
			errs = append(errs, errors.New("index.path is required for the badger backend"))
		}
	case BackendQdrant:
		if c.Index.QdrantAddr == "" {
			errs = append(errs, errors.New("index.qdrant_addr is required for the qdrant backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("index.backend %q is not one of badger, qdrant", c.Index.Backend))
	}
	if c.Index.Collection == "" {
		errs = append(errs, errors.New("index.collection is required"))
	}
	switch c.Index.Distance {
	case "", "cosine", "l2", "ip":
	default:
		errs = append(errs, fmt.Errorf("index.distance %q is not one of cosine, l2, ip", c.Index.Distance))
	}
	if c.Index.MinScore < 0 || c.Index.MinScore >= 1 {
		errs = append(errs, fmt.Errorf("index.min_score %v is outside [0, 1)", c.Index.MinScore))
	}
	if c.Index.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("index.batch_size %d must be positive", c.Index.BatchSize))
	}
	switch c.Embedding.Provider {
	case "hashing":
		if c.Embedding.Dimension <= 0 {
			errs = append(errs, fmt.Errorf("embedding.dimension %d must be positive", c.Embedding.Dimension))
		}
	case "ollama":
		if c.Embedding.OllamaURL == "" || c.Embedding.OllamaModel == "" {
			errs = append(errs, errors.New("embedding.ollama_url and embedding.ollama_model are required for ollama"))
		}
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not one of hashing, ollama", c.Embedding.Provider))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit_rps %v is negative", c.Server.RateLimitRPS))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
