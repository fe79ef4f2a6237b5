package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Portal      PortalConfig      `toml:"portal"`
	Auth        AuthConfig        `toml:"auth"`
	Browser     BrowserConfig     `toml:"browser"`
	Credentials CredentialsConfig `toml:"credentials"`
	Sync        SyncConfig        `toml:"sync"`
	Employees   EmployeesConfig   `toml:"employees"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Schedule    ScheduleConfig    `toml:"schedule"`
}

// PortalConfig holds the two hosts the sign-on protocol and data APIs live on
type PortalConfig struct {
	AuthBaseURL string `toml:"auth_base_url" validate:"required,url"` // Sign-in service host
	AppBaseURL  string `toml:"app_base_url" validate:"required,url"`  // iHCM application host
	ProductID   string `toml:"product_id" validate:"required"`
	AppID       string `toml:"app_id" validate:"required"`
	UserAgent   string `toml:"user_agent"`
	Timeout     string `toml:"timeout"` // e.g. "30s" - per request timeout
}

// AuthConfig controls session acquisition
type AuthConfig struct {
	Mode            string `toml:"mode" validate:"oneof=auto protocol browser"` // auto: protocol first then browser
	SessionFile     string `toml:"session_file"`                                 // Defaults to ~/.cache/ihcm/session.json
	ExpiryBuffer    string `toml:"expiry_buffer"`                                // e.g. "5m"
	ValidateTimeout string `toml:"validate_timeout"`                             // e.g. "10s"
	DebugLogFile    string `toml:"debug_log_file"`                               // Written when -debug is set
}

// BrowserConfig configures the headless Chrome used for browser login
type BrowserConfig struct {
	Headless       bool   `toml:"headless"`
	NoSandbox      bool   `toml:"no_sandbox"`
	Timeout        string `toml:"timeout"`         // Wait timeout for selectors
	SettleDelay    string `toml:"settle_delay"`    // Pause after navigation before touching the form
	TokenPolls     int    `toml:"token_polls"`     // Attempts to read the bearer token from sessionStorage
	TokenPollDelay string `toml:"token_poll_delay"`
	ScreenshotDir  string `toml:"screenshot_dir"` // Failure screenshots
}

// CredentialsConfig selects where the username/password come from
type CredentialsConfig struct {
	Sources         []string `toml:"sources"`          // Ordered: "env", "1password", "ssm", "prompt"
	OnePasswordItem string   `toml:"onepassword_item"` // Item name for the op CLI
	SSMUsername     string   `toml:"ssm_username"`     // SSM parameter name for the username
	SSMPassword     string   `toml:"ssm_password"`     // SSM parameter name for the password
	SSMRegion       string   `toml:"ssm_region"`
}

// SyncConfig controls the payslip synchronization engine
type SyncConfig struct {
	CacheDir    string `toml:"cache_dir" validate:"required"`
	PageSize    int    `toml:"page_size" validate:"min=1,max=500"`
	RecordDelay string `toml:"record_delay"` // Delay between per-record fetches
	PageDelay   string `toml:"page_delay"`   // Delay between listing pages
	DateFrom    string `toml:"date_from"`
	DateTo      string `toml:"date_to"`
	MaxRetries  int    `toml:"max_retries" validate:"min=1"`
}

// EmployeesConfig controls the employee directory extractor
type EmployeesConfig struct {
	BatchSize int    `toml:"batch_size" validate:"min=1,max=500"`
	Delay     string `toml:"delay"`
	OutputDir string `toml:"output_dir"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output []string `toml:"output"` // "stdout", "file"
}

// ScheduleConfig drives the periodic sync command
type ScheduleConfig struct {
	Cron string `toml:"cron"` // Standard 5-field cron expression
	Task string `toml:"task" validate:"oneof=payslips employees"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "production",
		Portal: PortalConfig{
			AuthBaseURL: "https://online.emea.adp.com",
			AppBaseURL:  "https://ihcm.adp.com",
			ProductID:   "b376f1f2-a35a-025b-e053-f282530b8ccb",
			AppID:       "IHCM",
			UserAgent:   "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			Timeout:     "30s",
		},
		Auth: AuthConfig{
			Mode:            "auto",
			SessionFile:     defaultSessionFile(),
			ExpiryBuffer:    "5m",
			ValidateTimeout: "10s",
			DebugLogFile:    "auth_debug.log",
		},
		Browser: BrowserConfig{
			Headless:       true,
			Timeout:        "60s",
			SettleDelay:    "5s",
			TokenPolls:     30,
			TokenPollDelay: "1s",
			ScreenshotDir:  ".",
		},
		Credentials: CredentialsConfig{
			Sources:         []string{"env", "1password", "prompt"},
			OnePasswordItem: "ADP IHCM",
		},
		Sync: SyncConfig{
			CacheDir:    filepath.Join(".cache", "payslips"),
			PageSize:    100,
			RecordDelay: "200ms",
			PageDelay:   "100ms",
			DateFrom:    "2019-01-01",
			DateTo:      "2030-12-31",
			MaxRetries:  3,
		},
		Employees: EmployeesConfig{
			BatchSize: 100,
			Delay:     "500ms",
			OutputDir: ".",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: filepath.Join(".cache", "hrsync.db"),
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Schedule: ScheduleConfig{
			Cron: "0 6 * * 1",
			Task: "payslips",
		},
	}
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cache", "ihcm", "session.json")
	}
	return filepath.Join(home, ".cache", "ihcm", "session.json")
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

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies HRSYNC_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("HRSYNC_ENV"); env != "" {
		config.Environment = env
	}

	// Portal
	if v := os.Getenv("HRSYNC_AUTH_BASE_URL"); v != "" {
		config.Portal.AuthBaseURL = v
	}
	if v := os.Getenv("HRSYNC_APP_BASE_URL"); v != "" {
		config.Portal.AppBaseURL = v
	}
	if v := os.Getenv("HRSYNC_USER_AGENT"); v != "" {
		config.Portal.UserAgent = v
	}

	// Auth
	if v := os.Getenv("HRSYNC_AUTH_MODE"); v != "" {
		config.Auth.Mode = v
	}
	if v := os.Getenv("HRSYNC_SESSION_FILE"); v != "" {
		config.Auth.SessionFile = v
	}

	// Browser
	if v := os.Getenv("HRSYNC_BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Browser.Headless = b
		}
	}
	if v := os.Getenv("HRSYNC_BROWSER_NO_SANDBOX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Browser.NoSandbox = b
		}
	}

	// Credentials (ONEPASSWORD_ITEM kept for compatibility with existing shell setups)
	if v := os.Getenv("ONEPASSWORD_ITEM"); v != "" {
		config.Credentials.OnePasswordItem = v
	}
	if v := os.Getenv("HRSYNC_CREDENTIAL_SOURCES"); v != "" {
		config.Credentials.Sources = splitList(v)
	}
	if v := os.Getenv("HRSYNC_SSM_REGION"); v != "" {
		config.Credentials.SSMRegion = v
	}

	// Sync
	if v := os.Getenv("HRSYNC_CACHE_DIR"); v != "" {
		config.Sync.CacheDir = v
	}
	if v := os.Getenv("HRSYNC_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sync.PageSize = n
		}
	}
	if v := os.Getenv("HRSYNC_RECORD_DELAY"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			config.Sync.RecordDelay = v
		}
	}

	// Storage
	if v := os.Getenv("HRSYNC_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}

	// Logging
	if v := os.Getenv("HRSYNC_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("HRSYNC_LOG_OUTPUT"); v != "" {
		config.Logging.Output = splitList(v)
	}
}

// ApplyFlagOverrides applies command line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, visible bool, debug bool) {
	if visible {
		config.Browser.Headless = false
	}
	if debug {
		config.Logging.Level = "debug"
	}
}

// Validate checks the configuration using struct tags and cron syntax
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Schedule.Cron != "" {
		if err := ValidateSchedule(c.Schedule.Cron); err != nil {
			return fmt.Errorf("invalid schedule.cron: %w", err)
		}
	}
	// Credentials and session cookies only travel over TLS in production;
	// development may point at a local plain-HTTP stand-in
	if c.IsProduction() {
		for _, u := range []struct{ key, value string }{
			{"portal.auth_base_url", c.Portal.AuthBaseURL},
			{"portal.app_base_url", c.Portal.AppBaseURL},
		} {
			if !strings.HasPrefix(u.value, "https://") {
				return fmt.Errorf("invalid configuration: %s must use https in production, got %q", u.key, u.value)
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

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Duration parses a duration setting, falling back when empty or malformed
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
