package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/danthegoodman1/rawsync/utils"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	VCBaseURL string        `mapstructure:"VC_BASE_URL" validate:"required,url"`
	VCUser    string        `mapstructure:"VC_USER" validate:"required"`
	VCKey     string        `mapstructure:"VC_KEY" validate:"required"`
	VCSecret  string        `mapstructure:"VC_SECRET" validate:"required"`
	VCTimeout time.Duration `mapstructure:"VC_TIMEOUT" validate:"gt=0"`

	// DatabaseURL wins over the DB_* parts when set
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DBHost       string `mapstructure:"DB_HOST" validate:"required_without=DatabaseURL"`
	DBPort       int    `mapstructure:"DB_PORT" validate:"min=1,max=65535"`
	DBUser       string `mapstructure:"DB_USER" validate:"required_without=DatabaseURL"`
	DBPassword   string `mapstructure:"RENDER_USER_PASSWORD"`
	DBName       string `mapstructure:"DB_NAME" validate:"required_without=DatabaseURL"`
	DBSearchPath string `mapstructure:"DB_SEARCH_PATH"`
	DBCRDBRetry  bool   `mapstructure:"DB_CRDB_RETRY"`

	TargetSchema   string `mapstructure:"TARGET_SCHEMA" validate:"required"`
	PrimaryKeyMode string `mapstructure:"PRIMARY_KEY_MODE" validate:"oneof=alter inline"`
	UpsertPageSize int    `mapstructure:"UPSERT_PAGE_SIZE" validate:"min=1"`
	RunLogEnabled  bool   `mapstructure:"RUN_LOG_ENABLED"`

	ArchiveS3Bucket  string `mapstructure:"ARCHIVE_S3_BUCKET"`
	S3Endpoint       string `mapstructure:"S3_ENDPOINT" validate:"omitempty,url"`
	AWSDefaultRegion string `mapstructure:"AWS_DEFAULT_REGION"`

	HTTPPort         string `mapstructure:"HTTP_PORT" validate:"required,numeric"`
	SyncSchedule     string `mapstructure:"SYNC_SCHEDULE"`
	ShutdownSleepSec int    `mapstructure:"SHUTDOWN_SLEEP_SEC" validate:"min=0"`
}

var (
	defaults = map[string]any{
		"VC_BASE_URL":          "https://publicapi.visualcare.com.au",
		"VC_USER":              "user-uuid",
		"VC_KEY":               "key",
		"VC_SECRET":            "secret",
		"VC_TIMEOUT":           "30s",
		"DATABASE_URL":         "",
		"DB_HOST":              "dpg-d1fptvvfte5s73fqj340-a.singapore-postgres.render.com",
		"DB_PORT":              5432,
		"DB_USER":              "database_owner",
		"RENDER_USER_PASSWORD": "render-user-password",
		"DB_NAME":              "sensible_care",
		"DB_SEARCH_PATH":       "SensibleCare",
		"DB_CRDB_RETRY":        false,
		"TARGET_SCHEMA":        "raw",
		"PRIMARY_KEY_MODE":     "alter",
		"UPSERT_PAGE_SIZE":     100,
		"RUN_LOG_ENABLED":      false,
		"ARCHIVE_S3_BUCKET":    "",
		"S3_ENDPOINT":          "",
		"AWS_DEFAULT_REGION":   "us-east-1",
		"HTTP_PORT":            "8080",
		"SYNC_SCHEDULE":        "",
		"SHUTDOWN_SLEEP_SEC":   0,
	}

	validate = validator.New()
)

// Load reads configuration from the environment, falling back to an optional
// .env file and then to the defaults above.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
		// Bind env vars explicitly so Unmarshal picks them up
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, utils.PermError(fmt.Sprintf("error unmarshalling config: %s", err))
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, utils.PermError(fmt.Sprintf("invalid config: %s", err))
	}
	return cfg, nil
}

// DSN returns DATABASE_URL, or a postgres URL assembled from the DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:   "/" + c.DBName,
	}
	return u.String()
}

func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3Bucket != ""
}

func (c *Config) ScheduleEnabled() bool {
	return c.SyncSchedule != ""
}
