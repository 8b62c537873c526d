// Package config provides configuration loading and management for the ingestion service.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/impactledger/impact-ingest/internal/telemetry"
)

const (
	// EnvPrefix is the prefix for environment variables read by the service
	EnvPrefix = "IMPACT_INGEST"

	// APIKeyEnvVar holds the disclosure API key when no key file is configured
	APIKeyEnvVar = EnvPrefix + "_API_KEY"

	// appDirName is the per-user directory name used under the XDG base directories
	appDirName = "impact-ingest"
)

const (
	// StorageTypeMemory keeps KPI records and organizations in process memory
	StorageTypeMemory = "memory"

	// StorageTypePostgres stores KPI records in PostgreSQL
	StorageTypePostgres = "postgres"

	// StorageTypeSQLite stores KPI records in a local SQLite file
	StorageTypeSQLite = "sqlite"
)

const (
	defaultBaseURL         = "https://opendart.fss.or.kr"
	defaultConnectTimeout  = 10 * time.Second
	defaultResponseTimeout = 40 * time.Second
	defaultPageSize        = 100
	defaultMaxPages        = 10

	defaultMaxRetries = 5
	defaultBaseDelay  = 2 * time.Second
	defaultMaxDelay   = 20 * time.Second
	defaultMultiplier = 2.0
	defaultJitter     = 0.4

	defaultConsecutiveErrors = 5
	defaultRequestsPerSecond = 2.0
	defaultBurst             = 1

	defaultCacheTTL          = 7 * 24 * time.Hour
	defaultMemberName        = "CORPCODE.xml"
	defaultDirectoryAttempts = 3
	defaultDirectoryMaxDelay = 15 * time.Second

	defaultParallelism     = 2
	defaultMaxTargets      = 50
	defaultYearsBack       = 3
	defaultCallDelay       = 600 * time.Millisecond
	defaultCallJitter      = 300 * time.Millisecond
	defaultErrorDelay      = 800 * time.Millisecond
	defaultCheckpointEvery = 10
	defaultMetric          = "DONATION_AMOUNT_KRW"

	defaultParserWindow = 600
)

var (
	defaultQuotaStatusCodes = []string{"020"}
	defaultQuotaMessages    = []string{
		"LIMITED_NUMBER_OF_SERVICE",
		"API_LIMIT_EXCEEDED",
		"SERVICE KEY IS NOT REGISTERED",
	}
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Disclosure DisclosureConfig  `yaml:"disclosure"`
	Directory  *DirectoryConfig  `yaml:"directory,omitempty"`
	Ingest     *IngestConfig     `yaml:"ingest,omitempty"`
	Parser     *ParserConfig     `yaml:"parser,omitempty"`
	Storage    *StorageConfig    `yaml:"storage,omitempty"`
	Schedule   *ScheduleConfig   `yaml:"schedule,omitempty"`
	Telemetry  *telemetry.Config `yaml:"telemetry,omitempty"`
}

// DisclosureConfig defines how the disclosure API is reached
type DisclosureConfig struct {
	// BaseURL is the API origin, without path
	BaseURL string `yaml:"baseURL,omitempty"`

	// APIKeyFile is the path to a file containing the API key.
	// When empty, the key is read from IMPACT_INGEST_API_KEY.
	APIKeyFile string `yaml:"apiKeyFile,omitempty"`

	// ConnectTimeout bounds connection establishment (e.g. "10s")
	ConnectTimeout string `yaml:"connectTimeout,omitempty"`

	// ResponseTimeout bounds the wait for response headers (e.g. "40s")
	ResponseTimeout string `yaml:"responseTimeout,omitempty"`

	// PageSize is the page_count requested from the report list endpoint
	PageSize int `yaml:"pageSize,omitempty"`

	// MaxPages caps how many list pages are followed per query
	MaxPages int `yaml:"maxPages,omitempty"`

	Retry     *RetryConfig     `yaml:"retry,omitempty"`
	Quota     *QuotaConfig     `yaml:"quota,omitempty"`
	RateLimit *RateLimitConfig `yaml:"rateLimit,omitempty"`
}

// RetryConfig defines the backoff policy for transient faults
type RetryConfig struct {
	MaxRetries int      `yaml:"maxRetries,omitempty"`
	BaseDelay  string   `yaml:"baseDelay,omitempty"`
	MaxDelay   string   `yaml:"maxDelay,omitempty"`
	Multiplier float64  `yaml:"multiplier,omitempty"`
	Jitter     *float64 `yaml:"jitter,omitempty"`
}

// QuotaConfig defines how quota exhaustion is recognized
type QuotaConfig struct {
	// ConsecutiveErrors escalates that many back-to-back failed calls to a quota condition.
	// Zero disables the heuristic.
	ConsecutiveErrors *int     `yaml:"consecutiveErrors,omitempty"`
	StatusCodes       []string `yaml:"statusCodes,omitempty"`
	Messages          []string `yaml:"messages,omitempty"`
}

// RateLimitConfig throttles outbound calls across all workers
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// DirectoryConfig defines the entity directory download
type DirectoryConfig struct {
	// CacheDir holds the last downloaded payload
	CacheDir string `yaml:"cacheDir,omitempty"`

	// CacheTTL is how long a cached payload is used without downloading (e.g. "168h")
	CacheTTL string `yaml:"cacheTTL,omitempty"`

	// MemberName is the expected member inside the compressed payload
	MemberName string `yaml:"memberName,omitempty"`

	Attempts  int    `yaml:"attempts,omitempty"`
	BaseDelay string `yaml:"baseDelay,omitempty"`
	MaxDelay  string `yaml:"maxDelay,omitempty"`
}

// IngestConfig defines orchestrator defaults
type IngestConfig struct {
	Parallelism     int      `yaml:"parallelism,omitempty"`
	MaxTargets      *int     `yaml:"maxTargets,omitempty"`
	YearsBack       int      `yaml:"yearsBack,omitempty"`
	CallDelay       string   `yaml:"callDelay,omitempty"`
	CallJitter      string   `yaml:"callJitter,omitempty"`
	ErrorDelay      string   `yaml:"errorDelay,omitempty"`
	CheckpointDir   string   `yaml:"checkpointDir,omitempty"`
	CheckpointEvery int      `yaml:"checkpointEvery,omitempty"`
	PriorityCodes   []string `yaml:"priorityCodes,omitempty"`
	ReportKinds     []string `yaml:"reportKinds,omitempty"`
	Metric          string   `yaml:"metric,omitempty"`
}

// ParserConfig defines the report parser anchors
type ParserConfig struct {
	Keywords []string `yaml:"keywords,omitempty"`
	Window   int      `yaml:"window,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetAPIKey returns the disclosure API key using the following priority:
// 1. Read from APIKeyFile if specified
// 2. Read from IMPACT_INGEST_API_KEY environment variable
func (d *DisclosureConfig) GetAPIKey() (string, error) {
	if d.APIKeyFile != "" {
		cleanPath := filepath.Clean(d.APIKeyFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read API key from file %s: %w", d.APIKeyFile, err)
		}

		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("API key file %s is empty", d.APIKeyFile)
		}
		return key, nil
	}

	if envKey := os.Getenv(APIKeyEnvVar); envKey != "" {
		return envKey, nil
	}

	return "", fmt.Errorf("no API key configured: set disclosure.apiKeyFile or %s environment variable", APIKeyEnvVar)
}

// GetBaseURL returns the API origin without a trailing slash
func (d *DisclosureConfig) GetBaseURL() string {
	if d.BaseURL == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(d.BaseURL, "/")
}

// GetConnectTimeout returns the connect timeout
func (d *DisclosureConfig) GetConnectTimeout() time.Duration {
	return parseDurationOr(d.ConnectTimeout, defaultConnectTimeout)
}

// GetResponseTimeout returns the response header timeout
func (d *DisclosureConfig) GetResponseTimeout() time.Duration {
	return parseDurationOr(d.ResponseTimeout, defaultResponseTimeout)
}

// GetPageSize returns the list page size
func (d *DisclosureConfig) GetPageSize() int {
	if d.PageSize <= 0 {
		return defaultPageSize
	}
	return d.PageSize
}

// GetMaxPages returns the page follow limit
func (d *DisclosureConfig) GetMaxPages() int {
	if d.MaxPages <= 0 {
		return defaultMaxPages
	}
	return d.MaxPages
}

// GetMaxRetries returns the number of retries after the first attempt
func (r *RetryConfig) GetMaxRetries() int {
	if r == nil || r.MaxRetries <= 0 {
		return defaultMaxRetries
	}
	return r.MaxRetries
}

// GetBaseDelay returns the first backoff delay
func (r *RetryConfig) GetBaseDelay() time.Duration {
	if r == nil {
		return defaultBaseDelay
	}
	return parseDurationOr(r.BaseDelay, defaultBaseDelay)
}

// GetMaxDelay returns the backoff delay cap
func (r *RetryConfig) GetMaxDelay() time.Duration {
	if r == nil {
		return defaultMaxDelay
	}
	return parseDurationOr(r.MaxDelay, defaultMaxDelay)
}

// GetMultiplier returns the backoff growth factor
func (r *RetryConfig) GetMultiplier() float64 {
	if r == nil || r.Multiplier < 1 {
		return defaultMultiplier
	}
	return r.Multiplier
}

// GetJitter returns the randomization factor in [0,1]
func (r *RetryConfig) GetJitter() float64 {
	if r == nil || r.Jitter == nil {
		return defaultJitter
	}
	return *r.Jitter
}

// GetConsecutiveErrors returns the consecutive-failure threshold, zero when disabled
func (q *QuotaConfig) GetConsecutiveErrors() int {
	if q == nil || q.ConsecutiveErrors == nil {
		return defaultConsecutiveErrors
	}
	return *q.ConsecutiveErrors
}

// GetStatusCodes returns upstream status codes that mean quota exhaustion
func (q *QuotaConfig) GetStatusCodes() []string {
	if q == nil || len(q.StatusCodes) == 0 {
		return defaultQuotaStatusCodes
	}
	return q.StatusCodes
}

// GetMessages returns message substrings that mean quota exhaustion
func (q *QuotaConfig) GetMessages() []string {
	if q == nil || len(q.Messages) == 0 {
		return defaultQuotaMessages
	}
	return q.Messages
}

// GetRequestsPerSecond returns the outbound call rate
func (r *RateLimitConfig) GetRequestsPerSecond() float64 {
	if r == nil || r.RequestsPerSecond <= 0 {
		return defaultRequestsPerSecond
	}
	return r.RequestsPerSecond
}

// GetBurst returns the limiter burst
func (r *RateLimitConfig) GetBurst() int {
	if r == nil || r.Burst <= 0 {
		return defaultBurst
	}
	return r.Burst
}

// GetCacheDir returns the directory cache location
func (d *DirectoryConfig) GetCacheDir() string {
	if d == nil || d.CacheDir == "" {
		return filepath.Join(xdg.CacheHome, appDirName)
	}
	return d.CacheDir
}

// GetCacheTTL returns how long a cached directory payload stays fresh
func (d *DirectoryConfig) GetCacheTTL() time.Duration {
	if d == nil {
		return defaultCacheTTL
	}
	return parseDurationOr(d.CacheTTL, defaultCacheTTL)
}

// GetMemberName returns the expected member name inside the compressed payload
func (d *DirectoryConfig) GetMemberName() string {
	if d == nil || d.MemberName == "" {
		return defaultMemberName
	}
	return d.MemberName
}

// GetAttempts returns the total number of download attempts
func (d *DirectoryConfig) GetAttempts() int {
	if d == nil || d.Attempts <= 0 {
		return defaultDirectoryAttempts
	}
	return d.Attempts
}

// GetBaseDelay returns the first delay between download attempts
func (d *DirectoryConfig) GetBaseDelay() time.Duration {
	if d == nil {
		return defaultBaseDelay
	}
	return parseDurationOr(d.BaseDelay, defaultBaseDelay)
}

// GetMaxDelay returns the cap between download attempts
func (d *DirectoryConfig) GetMaxDelay() time.Duration {
	if d == nil {
		return defaultDirectoryMaxDelay
	}
	return parseDurationOr(d.MaxDelay, defaultDirectoryMaxDelay)
}

// GetParallelism returns the default worker count
func (i *IngestConfig) GetParallelism() int {
	if i == nil || i.Parallelism <= 0 {
		return defaultParallelism
	}
	return i.Parallelism
}

// GetMaxTargets returns the default entity cap per run, zero for unlimited
func (i *IngestConfig) GetMaxTargets() int {
	if i == nil || i.MaxTargets == nil {
		return defaultMaxTargets
	}
	return *i.MaxTargets
}

// GetYearsBack returns the default year span for single-entity runs
func (i *IngestConfig) GetYearsBack() int {
	if i == nil || i.YearsBack <= 0 {
		return defaultYearsBack
	}
	return i.YearsBack
}

// GetCallDelay returns the fixed part of the pause between calls within a task
func (i *IngestConfig) GetCallDelay() time.Duration {
	if i == nil {
		return defaultCallDelay
	}
	return parseDurationOr(i.CallDelay, defaultCallDelay)
}

// GetCallJitter returns the random part of the pause between calls within a task
func (i *IngestConfig) GetCallJitter() time.Duration {
	if i == nil {
		return defaultCallJitter
	}
	return parseDurationOr(i.CallJitter, defaultCallJitter)
}

// GetErrorDelay returns the pause after a failed task
func (i *IngestConfig) GetErrorDelay() time.Duration {
	if i == nil {
		return defaultErrorDelay
	}
	return parseDurationOr(i.ErrorDelay, defaultErrorDelay)
}

// GetCheckpointDir returns where checkpoint files are written
func (i *IngestConfig) GetCheckpointDir() string {
	if i == nil || i.CheckpointDir == "" {
		return filepath.Join(xdg.DataHome, appDirName, "checkpoints")
	}
	return i.CheckpointDir
}

// GetCheckpointEvery returns how many completed entities trigger a checkpoint save
func (i *IngestConfig) GetCheckpointEvery() int {
	if i == nil || i.CheckpointEvery <= 0 {
		return defaultCheckpointEvery
	}
	return i.CheckpointEvery
}

// GetMetric returns the KPI metric name written by ingestion
func (i *IngestConfig) GetMetric() string {
	if i == nil || i.Metric == "" {
		return defaultMetric
	}
	return i.Metric
}

// GetPriorityCodes returns entity codes ranked ahead of all others, in order
func (i *IngestConfig) GetPriorityCodes() []string {
	if i == nil {
		return nil
	}
	return i.PriorityCodes
}

// GetReportKinds returns the accepted report kinds, nil for the built-in list
func (i *IngestConfig) GetReportKinds() []string {
	if i == nil {
		return nil
	}
	return i.ReportKinds
}

// GetKeywords returns the parser anchors, nil for the built-in list
func (p *ParserConfig) GetKeywords() []string {
	if p == nil {
		return nil
	}
	return p.Keywords
}

// GetWindow returns how many characters after an anchor are searched
func (p *ParserConfig) GetWindow() int {
	if p == nil || p.Window <= 0 {
		return defaultParserWindow
	}
	return p.Window
}

// GetStorage returns the storage configuration, defaulting to in-memory
func (c *Config) GetStorage() *StorageConfig {
	if c.Storage == nil {
		return &StorageConfig{Type: StorageTypeMemory}
	}
	return c.Storage
}

// GetSchedule returns the schedule configuration with defaults applied
func (c *Config) GetSchedule() *ScheduleConfig {
	if c.Schedule == nil {
		return &ScheduleConfig{}
	}
	return c.Schedule
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.Disclosure.validate(); err != nil {
		return err
	}

	if err := c.Directory.validate(); err != nil {
		return err
	}

	if err := c.Ingest.validate(); err != nil {
		return err
	}

	if c.Parser != nil && c.Parser.Window < 0 {
		return fmt.Errorf("parser: window must not be negative")
	}

	if err := c.GetStorage().validate(); err != nil {
		return err
	}

	if err := c.GetSchedule().validate(); err != nil {
		return err
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	return nil
}

func (d *DisclosureConfig) validate() error {
	prefix := "disclosure"

	if d.BaseURL != "" {
		u, err := url.Parse(d.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: baseURL must be an absolute URL, got %q", prefix, d.BaseURL)
		}
	}

	if err := validateDurations(prefix, map[string]string{
		"connectTimeout":  d.ConnectTimeout,
		"responseTimeout": d.ResponseTimeout,
	}); err != nil {
		return err
	}

	if d.PageSize < 0 || d.MaxPages < 0 {
		return fmt.Errorf("%s: pageSize and maxPages must not be negative", prefix)
	}

	if r := d.Retry; r != nil {
		if r.MaxRetries < 0 {
			return fmt.Errorf("%s: retry.maxRetries must not be negative", prefix)
		}
		if err := validateDurations(prefix+": retry", map[string]string{
			"baseDelay": r.BaseDelay,
			"maxDelay":  r.MaxDelay,
		}); err != nil {
			return err
		}
		if r.GetBaseDelay() > r.GetMaxDelay() {
			return fmt.Errorf("%s: retry.baseDelay must not exceed retry.maxDelay", prefix)
		}
		if r.Jitter != nil && (*r.Jitter < 0 || *r.Jitter > 1) {
			return fmt.Errorf("%s: retry.jitter must be between 0 and 1", prefix)
		}
	}

	if q := d.Quota; q != nil && q.ConsecutiveErrors != nil && *q.ConsecutiveErrors < 0 {
		return fmt.Errorf("%s: quota.consecutiveErrors must not be negative", prefix)
	}

	if r := d.RateLimit; r != nil && (r.RequestsPerSecond < 0 || r.Burst < 0) {
		return fmt.Errorf("%s: rateLimit values must not be negative", prefix)
	}

	return nil
}

func (d *DirectoryConfig) validate() error {
	if d == nil {
		return nil
	}
	if d.Attempts < 0 {
		return fmt.Errorf("directory: attempts must not be negative")
	}
	return validateDurations("directory", map[string]string{
		"cacheTTL":  d.CacheTTL,
		"baseDelay": d.BaseDelay,
		"maxDelay":  d.MaxDelay,
	})
}

func (i *IngestConfig) validate() error {
	if i == nil {
		return nil
	}
	prefix := "ingest"
	if i.Parallelism < 0 {
		return fmt.Errorf("%s: parallelism must not be negative", prefix)
	}
	if i.MaxTargets != nil && *i.MaxTargets < 0 {
		return fmt.Errorf("%s: maxTargets must not be negative", prefix)
	}
	if i.YearsBack < 0 || i.CheckpointEvery < 0 {
		return fmt.Errorf("%s: yearsBack and checkpointEvery must not be negative", prefix)
	}
	return validateDurations(prefix, map[string]string{
		"callDelay":  i.CallDelay,
		"callJitter": i.CallJitter,
		"errorDelay": i.ErrorDelay,
	})
}

func validateDurations(prefix string, fields map[string]string) error {
	for name, value := range fields {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %s must be a valid duration (e.g., '2s', '500ms'): %w", prefix, name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s: %s must not be negative", prefix, name)
		}
	}
	return nil
}
