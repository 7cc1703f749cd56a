package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Source names understood by the ingest command and scheduler
const (
	SourceJobBoard = "jobboard"
	SourceFeed     = "feed"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Ingest      IngestConfig    `toml:"ingest"`
	Retry       RetryConfig     `toml:"retry"`
	Browser     BrowserConfig   `toml:"browser"`
	JobBoard    JobBoardConfig  `toml:"jobboard"`
	Feed        FeedConfig      `toml:"feed"`
	Taxonomy    TaxonomyConfig  `toml:"taxonomy"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	SQLite SQLiteConfig `toml:"sqlite"`
}

// BadgerConfig represents BadgerDB-specific configuration (record store)
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// SQLiteConfig represents the control plane database configuration
type SQLiteConfig struct {
	Path          string `toml:"path" validate:"required"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms" validate:"gte=0"`
	CacheSizeMB   int    `toml:"cache_size_mb" validate:"gte=0"`
	WALMode       bool   `toml:"wal_mode"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// IngestConfig holds the batch controller parameters for scheduled and manual runs
type IngestConfig struct {
	Source             string        `toml:"source" validate:"required,oneof=jobboard feed"`
	BatchSize          int           `toml:"batch_size" validate:"gte=1"`
	MaxPages           int           `toml:"max_pages" validate:"gte=1"`
	FreshnessThreshold float64       `toml:"freshness_threshold" validate:"gte=0,lte=1"` // 0 selects deep ingest
	RelevanceThreshold float64       `toml:"relevance_threshold" validate:"gte=0,lte=1"` // 0 selects deep ingest
	PageDelayMin       time.Duration `toml:"page_delay_min"`                             // Spacing window between page fetches
	PageDelayMax       time.Duration `toml:"page_delay_max"`
	ItemDelayMin       time.Duration `toml:"item_delay_min"` // Spacing window between item captures (browser sources)
	ItemDelayMax       time.Duration `toml:"item_delay_max"`
	Language           string        `toml:"language"` // Taxonomy language for queries and scoring; empty = all
	DeepBatchSize      int           `toml:"deep_batch_size" validate:"gte=1"`
	DeepMaxPages       int           `toml:"deep_max_pages" validate:"gte=1"`
}

// RetryConfig configures exponential backoff for network-bound steps
type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `toml:"base_delay"`
	MaxDelay    time.Duration `toml:"max_delay"`
	Jitter      time.Duration `toml:"jitter"` // Upper bound of the uniform jitter added per attempt
}

// BrowserConfig configures the chromedp automation session
type BrowserConfig struct {
	Headless          bool          `toml:"headless"`
	Proxy             string        `toml:"proxy"` // e.g. "http://127.0.0.1:8080"
	UserAgent         string        `toml:"user_agent"`
	CookiesPath       string        `toml:"cookies_path"`       // JSON cookie jar exported by `gleaner login`
	LocalStoragePath  string        `toml:"local_storage_path"` // JSON object of localStorage entries
	NavigationTimeout time.Duration `toml:"navigation_timeout"`
	WaitTimeout       time.Duration `toml:"wait_timeout"` // Selector wait timeout
	DisableGPU        bool          `toml:"disable_gpu"`
	NoSandbox         bool          `toml:"no_sandbox"`
	ViewportWidth     int           `toml:"viewport_width" validate:"gte=0"`
	ViewportHeight    int           `toml:"viewport_height" validate:"gte=0"`
}

// JobBoardConfig configures the browser-driven job board source
type JobBoardConfig struct {
	BaseURL       string `toml:"base_url" validate:"omitempty,url"`
	SearchPath    string `toml:"search_path"`
	GeoID         string `toml:"geo_id"`
	SelectorsPath string `toml:"selectors_path"` // Optional JSON/YAML selector overrides
}

// FeedConfig configures the paginated JSON HTTP source
type FeedConfig struct {
	BaseURL           string        `toml:"base_url" validate:"omitempty,url"`
	RequestsPerSecond int           `toml:"requests_per_second" validate:"gte=0"`
	Timeout           time.Duration `toml:"timeout"`
	PageSize          int           `toml:"page_size" validate:"gte=0"`
}

// TaxonomyConfig locates the search matrix
type TaxonomyConfig struct {
	Path               string   `toml:"path"`
	RequiredCategories []string `toml:"required_categories"`
}

// SchedulerConfig configures periodic runs
type SchedulerConfig struct {
	Enabled      bool   `toml:"enabled"`
	Schedule     string `toml:"schedule"`      // Standard 5-field cron expression
	DeepSchedule string `toml:"deep_schedule"` // Optional deep ingest schedule; empty disables
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/records",
			},
			SQLite: SQLiteConfig{
				Path:          "./data/control.db",
				BusyTimeoutMS: 5000,
				CacheSizeMB:   16,
				WALMode:       true,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Ingest: IngestConfig{
			Source:             SourceJobBoard,
			BatchSize:          50,
			MaxPages:           3,
			FreshnessThreshold: 0.8,
			RelevanceThreshold: 0.3,
			PageDelayMin:       4 * time.Second,
			PageDelayMax:       8 * time.Second,
			ItemDelayMin:       2 * time.Second,
			ItemDelayMax:       6 * time.Second,
			DeepBatchSize:      20,
			DeepMaxPages:       150,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    60 * time.Second,
			Jitter:      time.Second,
		},
		Browser: BrowserConfig{
			Headless:          true,
			UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0 Safari/537.36",
			CookiesPath:       "./secrets/cookies.json",
			LocalStoragePath:  "./secrets/local_storage.json",
			NavigationTimeout: 50 * time.Second,
			WaitTimeout:       15 * time.Second,
			DisableGPU:        true,
			NoSandbox:         true,
			ViewportWidth:     1366,
			ViewportHeight:    768,
		},
		JobBoard: JobBoardConfig{
			BaseURL:    "https://www.linkedin.com",
			SearchPath: "/jobs/search",
			GeoID:      "92000000",
		},
		Feed: FeedConfig{
			RequestsPerSecond: 2,
			Timeout:           30 * time.Second,
			PageSize:          50,
		},
		Taxonomy: TaxonomyConfig{
			Path: "./search_matrix.json",
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "0 */5 * * *", // Every 5 hours
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal merges with existing values
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies GLEANER_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("GLEANER_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("GLEANER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("GLEANER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("GLEANER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if sqlitePath := os.Getenv("GLEANER_SQLITE_PATH"); sqlitePath != "" {
		config.Storage.SQLite.Path = sqlitePath
	}

	// Logging configuration
	if level := os.Getenv("GLEANER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("GLEANER_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Ingest configuration
	if source := os.Getenv("GLEANER_INGEST_SOURCE"); source != "" {
		config.Ingest.Source = source
	}
	if batchSize := os.Getenv("GLEANER_INGEST_BATCH_SIZE"); batchSize != "" {
		if v, err := strconv.Atoi(batchSize); err == nil {
			config.Ingest.BatchSize = v
		}
	}
	if maxPages := os.Getenv("GLEANER_INGEST_MAX_PAGES"); maxPages != "" {
		if v, err := strconv.Atoi(maxPages); err == nil {
			config.Ingest.MaxPages = v
		}
	}
	if fresh := os.Getenv("GLEANER_INGEST_FRESHNESS_THRESHOLD"); fresh != "" {
		if v, err := strconv.ParseFloat(fresh, 64); err == nil {
			config.Ingest.FreshnessThreshold = v
		}
	}
	if rel := os.Getenv("GLEANER_INGEST_RELEVANCE_THRESHOLD"); rel != "" {
		if v, err := strconv.ParseFloat(rel, 64); err == nil {
			config.Ingest.RelevanceThreshold = v
		}
	}
	if delay := os.Getenv("GLEANER_INGEST_PAGE_DELAY_MIN"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.Ingest.PageDelayMin = d
		}
	}
	if delay := os.Getenv("GLEANER_INGEST_PAGE_DELAY_MAX"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.Ingest.PageDelayMax = d
		}
	}

	// Browser configuration
	if headless := os.Getenv("GLEANER_BROWSER_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = b
		}
	}
	if proxy := os.Getenv("GLEANER_BROWSER_PROXY"); proxy != "" {
		config.Browser.Proxy = proxy
	}
	if cookies := os.Getenv("GLEANER_BROWSER_COOKIES_PATH"); cookies != "" {
		config.Browser.CookiesPath = cookies
	}
	if storage := os.Getenv("GLEANER_BROWSER_LOCAL_STORAGE_PATH"); storage != "" {
		config.Browser.LocalStoragePath = storage
	}

	// Feed configuration
	if baseURL := os.Getenv("GLEANER_FEED_BASE_URL"); baseURL != "" {
		config.Feed.BaseURL = baseURL
	}

	// Taxonomy configuration
	if path := os.Getenv("GLEANER_TAXONOMY_PATH"); path != "" {
		config.Taxonomy.Path = path
	}

	// Scheduler configuration
	if enabled := os.Getenv("GLEANER_SCHEDULER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = b
		}
	}
	if schedule := os.Getenv("GLEANER_SCHEDULER_SCHEDULE"); schedule != "" {
		config.Scheduler.Schedule = schedule
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string, logLevel string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
}

// Validate checks struct constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Ingest.PageDelayMin > c.Ingest.PageDelayMax {
		return fmt.Errorf("invalid configuration: ingest.page_delay_min (%s) exceeds page_delay_max (%s)",
			c.Ingest.PageDelayMin, c.Ingest.PageDelayMax)
	}
	if c.Ingest.ItemDelayMin > c.Ingest.ItemDelayMax {
		return fmt.Errorf("invalid configuration: ingest.item_delay_min (%s) exceeds item_delay_max (%s)",
			c.Ingest.ItemDelayMin, c.Ingest.ItemDelayMax)
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("invalid configuration: retry.base_delay (%s) exceeds max_delay (%s)",
			c.Retry.BaseDelay, c.Retry.MaxDelay)
	}

	if c.Scheduler.Enabled {
		if err := ValidateSchedule(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("invalid scheduler.schedule: %w", err)
		}
		if c.Scheduler.DeepSchedule != "" {
			if err := ValidateSchedule(c.Scheduler.DeepSchedule); err != nil {
				return fmt.Errorf("invalid scheduler.deep_schedule: %w", err)
			}
		}
	}

	return nil
}

// ValidateSchedule validates a cron schedule expression and ensures minimum 5-minute interval
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}
