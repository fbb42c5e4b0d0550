package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres    PostgresConfig
	S3          S3Config
	Scheduler   SchedulerConfig
	Fetch       FetchConfig
	Media       MediaConfig
	DBPath      string
	LogPath     string
	LogLevel    string
	InputDir    string
	ConfigDir   string
	MetricsAddr string
	Workers     int
	Pipeline    *PipelineConfig
	Sources     map[string]*SourceConfig
}

type PostgresConfig struct {
	URL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

// MediaConfig controls mirroring of listing images into the S3 archive.
// A zero Interval disables it.
type MediaConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

type FetchConfig struct {
	UserAgent     string
	RateLimitMS   int
	CacheTTL      time.Duration
	RespectRobots bool
	ProxyURL      string
	Timeout       time.Duration
	Headless      bool
}

// SourceConfig describes one listing site: how to recognise its pages and
// how its raw field names map onto the canonical schema.
type SourceConfig struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	HostPatterns []string          `yaml:"host_patterns"`
	CrawlMethod  string            `yaml:"crawl_method"`
	RateLimitMS  int               `yaml:"rate_limit_ms"`
	AreaUnit     string            `yaml:"area_unit"`
	Currency     string            `yaml:"currency"`
	FieldMapping map[string]string `yaml:"field_mapping"`
	State        StateConfig       `yaml:"state"`
	ExternalID   []string          `yaml:"external_id_patterns"`
}

// StateConfig locates embedded application state inside a page.
type StateConfig struct {
	Selectors []string `yaml:"selectors"`
	Variables []string `yaml:"variables"`
	RootPaths []string `yaml:"root_paths"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("S3_PREFIX", "raw-pages"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCHEDULE_CRON"),
		},
		Fetch: FetchConfig{
			UserAgent:     getEnv("FETCH_USER_AGENT", "Mozilla/5.0 (compatible; listing_canon/1.0)"),
			RateLimitMS:   getEnvInt("FETCH_RATE_LIMIT_MS", 1000),
			CacheTTL:      getEnvDuration("FETCH_CACHE_TTL", 10*time.Minute),
			RespectRobots: getEnv("FETCH_RESPECT_ROBOTS", "true") == "true",
			ProxyURL:      os.Getenv("PROXY_URL"),
			Timeout:       getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
			Headless:      getEnv("BROWSER_HEADLESS", "true") == "true",
		},
		Media: MediaConfig{
			Interval:    getEnvDuration("MEDIA_ARCHIVE_INTERVAL", 0),
			BatchSize:   getEnvInt("MEDIA_BATCH_SIZE", 20),
			MaxAttempts: getEnvInt("MEDIA_MAX_ATTEMPTS", 3),
		},
		DBPath:      getEnv("DB_PATH", "listings.db"),
		LogPath:     getEnv("LOG_PATH", "listing_canon.log"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		InputDir:    os.Getenv("INPUT_DIR"),
		ConfigDir:   getEnv("CONFIG_DIR", "config"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		Workers:     getEnvInt("WORKERS", 4),
	}

	cfg.Scheduler.Interval = getEnvDuration("SCHEDULE_INTERVAL", 0)

	if err := cfg.LoadDir(cfg.ConfigDir); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDir reads pipeline.yaml and sources/*.yaml from dir. Missing files
// leave the defaults in place.
func (c *Config) LoadDir(dir string) error {
	pipeline, err := LoadPipeline(filepath.Join(dir, "pipeline.yaml"))
	if err != nil {
		return err
	}
	c.Pipeline = pipeline

	sources, err := LoadSources(filepath.Join(dir, "sources"))
	if err != nil {
		return err
	}
	c.Sources = sources
	return nil
}

// LoadPipeline overlays the YAML file at path on top of DefaultPipeline.
func LoadPipeline(path string) (*PipelineConfig, error) {
	p := DefaultPipeline()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func LoadSources(dir string) (map[string]*SourceConfig, error) {
	sources := make(map[string]*SourceConfig)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return sources, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if src.ID == "" {
			src.ID = strings.TrimSuffix(entry.Name(), ext)
		}

		sources[src.ID] = &src
	}

	return sources, nil
}

// Source returns the config for id, or an empty config carrying only the id
// when the source is unknown.
func (c *Config) Source(id string) *SourceConfig {
	if src, ok := c.Sources[id]; ok {
		return src
	}
	return &SourceConfig{ID: id}
}

// SourceIDs returns the configured source ids in sorted order.
func (c *Config) SourceIDs() []string {
	ids := make([]string, 0, len(c.Sources))
	for id := range c.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GuessSource picks the source whose host patterns match rawURL. The most
// specific (longest) pattern wins so realtor.ca is not mistaken for
// realtor.com.
func (c *Config) GuessSource(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())

	best, bestLen := "", 0
	for _, id := range c.SourceIDs() {
		for _, pattern := range c.Sources[id].HostPatterns {
			pattern = strings.ToLower(pattern)
			if (host == pattern || strings.HasSuffix(host, "."+pattern)) && len(pattern) > bestLen {
				best, bestLen = id, len(pattern)
			}
		}
	}
	return best
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
