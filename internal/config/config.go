package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendGoogle = "google"
	BackendCalDAV = "caldav"

	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config is the top-level application configuration.
type Config struct {
	// Backend selects the external calendar: "google" or "caldav".
	Backend string `yaml:"backend"`
	// AccountType overrides the account type used to resolve the default
	// calendar. Derived from Backend when empty.
	AccountType string `yaml:"account_type"`

	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	TokenDir           string `yaml:"token_dir"`

	CalDAVEndpoint     string `yaml:"caldav_endpoint"`
	CalDAVUsername     string `yaml:"caldav_username"`
	CalDAVPassword     string `yaml:"caldav_password"`
	CalDAVCalendarName string `yaml:"caldav_calendar_name"`

	// Store selects the negotiation repository: "file" or "postgres".
	Store       string `yaml:"store"`
	DataFile    string `yaml:"data_file"`
	DatabaseURL string `yaml:"database_url"`

	// Timezone is the IANA zone reported for calendars that carry none.
	Timezone string `yaml:"timezone"`
	// Location is Timezone loaded by Validate.
	Location *time.Location `yaml:"-"`
	// Schedule is the cron expression used by `sync` when not run once.
	Schedule string `yaml:"schedule"`

	LogLevel    string `yaml:"log_level"`
	DryRun      bool   `yaml:"dry_run"`
	StrictReads bool   `yaml:"strict_reads"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend:  BackendGoogle,
		TokenDir: ".",
		Store:    StoreFile,
		DataFile: "negotiations.json",
		Timezone: "UTC",
		Schedule: "*/15 * * * *",
		LogLevel: "info",
	}
}

// Load reads the optional YAML file at path, applies environment overrides
// and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"NEGOSYNC_BACKEND":      &c.Backend,
		"NEGOSYNC_ACCOUNT_TYPE": &c.AccountType,
		"GOOGLE_CLIENT_ID":      &c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET":  &c.GoogleClientSecret,
		"GOOGLE_TOKEN_DIR":      &c.TokenDir,
		"CALDAV_ENDPOINT":       &c.CalDAVEndpoint,
		"CALDAV_USERNAME":       &c.CalDAVUsername,
		"CALDAV_PASSWORD":       &c.CalDAVPassword,
		"CALDAV_CALENDAR_NAME":  &c.CalDAVCalendarName,
		"NEGOSYNC_STORE":        &c.Store,
		"NEGOSYNC_DATA_FILE":    &c.DataFile,
		"DATABASE_URL":          &c.DatabaseURL,
		"PRIMARY_TIMEZONE":      &c.Timezone,
		"NEGOSYNC_SCHEDULE":     &c.Schedule,
		"LOG_LEVEL":             &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"NEGOSYNC_DRY_RUN":      &c.DryRun,
		"NEGOSYNC_STRICT_READS": &c.StrictReads,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", key, v, err)
		}
		*dst = b
	}
	return nil
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		c.Store = d.Store
	}
	if c.TokenDir == "" {
		c.TokenDir = d.TokenDir
	}
	if c.DataFile == "" {
		c.DataFile = d.DataFile
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.Schedule == "" {
		c.Schedule = d.Schedule
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate reports configuration errors that would only surface later.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGoogle, BackendCalDAV:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Store {
	case StoreFile:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	c.Location = loc
	return nil
}
