package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// PlacesConfig controls the places-search provider and its cache.
type PlacesConfig struct {
	APIKey string `yaml:"apiKey"`
	// Variants are the text queries issued per discovery. Results are
	// unioned and deduplicated by place id.
	Variants        []string `yaml:"variants"`
	TimeoutMs       int      `yaml:"timeoutMs"`
	CacheTTLSeconds int      `yaml:"cacheTTLSeconds"`
	// LatLngRound is the number of decimal places kept when deriving
	// the cache fingerprint. Lower values trade precision for hit rate.
	LatLngRound int `yaml:"latLngRound"`
	MaxResults  int `yaml:"maxResults"`
}

type ScraperConfig struct {
	UserAgent     string `yaml:"userAgent"`
	TimeoutMs     int    `yaml:"timeoutMs"`
	MaxSubpages   int    `yaml:"maxSubpages"`
	RespectRobots bool   `yaml:"respectRobots"`
}

type RodConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BrowserURL string `yaml:"browserURL"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	TimeoutMs       int             `yaml:"timeoutMs"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
}

// DiscoveryConfig controls the discovery orchestrator.
type DiscoveryConfig struct {
	WorkerConcurrency int `yaml:"workerConcurrency"`
	JobTimeoutMs      int `yaml:"jobTimeoutMs"`
	// ProgressCoalesceMs is the minimum interval between progress
	// events on a job's stream.
	ProgressCoalesceMs int `yaml:"progressCoalesceMs"`
	SubscriberSlowMs   int `yaml:"subscriberSlowMs"`
	// JobRetentionMs is how long a terminal job stays queryable before
	// the registry garbage-collects it.
	JobRetentionMs int `yaml:"jobRetentionMs"`
}

type RateLimitConfig struct {
	DiscoverPerMinute int `yaml:"discoverPerMinute"`
	StreamPerMinute   int `yaml:"streamPerMinute"`
}

// RetentionConfig controls TTL deletion of expired places cache rows so
// that the database does not grow without bound over time.
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Places    PlacesConfig    `yaml:"places"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Rod       RodConfig       `yaml:"rod"`
	LLM       LLMConfig       `yaml:"llm"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Retention RetentionConfig `yaml:"retention"`
}

// ApplyDefaults fills zero-valued knobs with their documented defaults.
func (c *Config) ApplyDefaults() {
	if len(c.Places.Variants) == 0 {
		c.Places.Variants = []string{"food bank", "food pantry", "food distribution", "community food"}
	}
	if c.Places.TimeoutMs <= 0 {
		c.Places.TimeoutMs = 15000
	}
	if c.Places.CacheTTLSeconds <= 0 {
		c.Places.CacheTTLSeconds = 604800
	}
	if c.Places.LatLngRound <= 0 {
		c.Places.LatLngRound = 3
	}
	if c.Places.MaxResults <= 0 {
		c.Places.MaxResults = 10
	}
	if c.Scraper.TimeoutMs <= 0 {
		c.Scraper.TimeoutMs = 30000
	}
	if c.Scraper.MaxSubpages < 0 {
		c.Scraper.MaxSubpages = 0
	}
	if c.LLM.TimeoutMs <= 0 {
		c.LLM.TimeoutMs = 45000
	}
	if c.Discovery.WorkerConcurrency <= 0 {
		c.Discovery.WorkerConcurrency = 6
	}
	if c.Discovery.JobTimeoutMs <= 0 {
		c.Discovery.JobTimeoutMs = 600000
	}
	if c.Discovery.ProgressCoalesceMs <= 0 {
		c.Discovery.ProgressCoalesceMs = 250
	}
	if c.Discovery.SubscriberSlowMs <= 0 {
		c.Discovery.SubscriberSlowMs = 5000
	}
	if c.Discovery.JobRetentionMs <= 0 {
		c.Discovery.JobRetentionMs = 600000
	}
	if c.Retention.CleanupIntervalMinutes <= 0 {
		c.Retention.CleanupIntervalMinutes = 60
	}
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.ApplyDefaults()
	return &cfg
}
