package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	cwerrors "chainwatch/internal/errors"
	"chainwatch/internal/scheduler"
	"chainwatch/internal/slogutil"
)

// CurrentVersion is the configuration schema version written by Save.
const CurrentVersion = 1

// EnvPrefix prefixes environment overrides, e.g. CHAINWATCH_SCAN_CONCURRENCY.
const EnvPrefix = "CHAINWATCH"

// Config represents the complete chainwatch configuration
type Config struct {
	Version int    `json:"version" mapstructure:"version" toml:"version" validate:"eq=1"`
	Anchor  string `json:"anchor" mapstructure:"anchor" toml:"anchor" validate:"required"`
	DataDir string `json:"dataDir,omitempty" mapstructure:"dataDir" toml:"dataDir,omitempty"`

	Scan     ScanConfig      `json:"scan" mapstructure:"scan" toml:"scan"`
	Search   SearchConfig    `json:"search" mapstructure:"search" toml:"search"`
	Publish  PublishConfig   `json:"publish" mapstructure:"publish" toml:"publish"`
	Schedule ScheduleConfig  `json:"schedule" mapstructure:"schedule" toml:"schedule"`
	Daemon   DaemonConfig    `json:"daemon" mapstructure:"daemon" toml:"daemon"`
	Webhooks []WebhookConfig `json:"webhooks,omitempty" mapstructure:"webhooks" toml:"webhooks,omitempty" validate:"dive"`
	Logging  LoggingConfig   `json:"logging" mapstructure:"logging" toml:"logging"`
}

// ScanConfig controls profile fetching
type ScanConfig struct {
	BaseURL            string `json:"baseURL" mapstructure:"baseURL" toml:"baseURL" validate:"required,url"`
	UserAgent          string `json:"userAgent,omitempty" mapstructure:"userAgent" toml:"userAgent,omitempty"`
	RescanAfterSeconds int    `json:"rescanAfterSeconds" mapstructure:"rescanAfterSeconds" toml:"rescanAfterSeconds" validate:"min=0"`
	Concurrency        int    `json:"concurrency" mapstructure:"concurrency" toml:"concurrency" validate:"min=1,max=64"`
	TimeoutMs          int    `json:"timeoutMs" mapstructure:"timeoutMs" toml:"timeoutMs" validate:"min=100"`
	BreakerMaxFailures uint32 `json:"breakerMaxFailures" mapstructure:"breakerMaxFailures" toml:"breakerMaxFailures" validate:"min=1"`
	BreakerOpenSeconds int    `json:"breakerOpenSeconds" mapstructure:"breakerOpenSeconds" toml:"breakerOpenSeconds" validate:"min=1"`
}

// SearchConfig bounds the chain search
type SearchConfig struct {
	MaxExpansions int `json:"maxExpansions" mapstructure:"maxExpansions" toml:"maxExpansions" validate:"min=0"`
	TimeoutMs     int `json:"timeoutMs" mapstructure:"timeoutMs" toml:"timeoutMs" validate:"min=0"`
}

// PublishConfig controls what a sweep sends out
type PublishConfig struct {
	DryRun           bool    `json:"dryRun" mapstructure:"dryRun" toml:"dryRun"`
	MaxMessageLength int     `json:"maxMessageLength" mapstructure:"maxMessageLength" toml:"maxMessageLength" validate:"min=1"`
	WarnRatio        float64 `json:"warnRatio" mapstructure:"warnRatio" toml:"warnRatio" validate:"gt=0,lte=1"`
	PruneDisabled    bool    `json:"pruneDisabled" mapstructure:"pruneDisabled" toml:"pruneDisabled"`
}

// ScheduleConfig holds schedule expressions for daemon tasks
type ScheduleConfig struct {
	Sweep      string `json:"sweep" mapstructure:"sweep" toml:"sweep" validate:"required"`
	Backup     string `json:"backup,omitempty" mapstructure:"backup" toml:"backup,omitempty"`
	BackupKeep int    `json:"backupKeep" mapstructure:"backupKeep" toml:"backupKeep" validate:"min=1"`
	Deliveries string `json:"deliveries,omitempty" mapstructure:"deliveries" toml:"deliveries,omitempty"`
}

// DaemonConfig contains daemon configuration
type DaemonConfig struct {
	Bind string     `json:"bind" mapstructure:"bind" toml:"bind" validate:"required"`
	Port int        `json:"port" mapstructure:"port" toml:"port" validate:"min=1,max=65535"`
	Auth AuthConfig `json:"auth" mapstructure:"auth" toml:"auth"`
}

// AuthConfig protects the daemon API with a bearer token
type AuthConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled" toml:"enabled"`
	// TokenHash is the bcrypt hash of the accepted token.
	TokenHash string `json:"tokenHash,omitempty" mapstructure:"tokenHash" toml:"tokenHash,omitempty" validate:"required_if=Enabled true"`
}

// WebhookConfig describes one delivery endpoint
type WebhookConfig struct {
	ID     string   `json:"id" mapstructure:"id" toml:"id" validate:"required"`
	URL    string   `json:"url" mapstructure:"url" toml:"url" validate:"required,url"`
	Format string   `json:"format" mapstructure:"format" toml:"format" validate:"oneof=json slack discord telegram"`
	Secret string   `json:"secret,omitempty" mapstructure:"secret" toml:"secret,omitempty"`
	ChatID string   `json:"chatId,omitempty" mapstructure:"chatId" toml:"chatId,omitempty" validate:"required_if=Format telegram"`
	Events []string `json:"events,omitempty" mapstructure:"events" toml:"events,omitempty" validate:"dive,oneof=chain.updated chain.optimal announcement sweep.failed"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	MaxSize    string `json:"maxSize,omitempty" mapstructure:"maxSize" toml:"maxSize,omitempty"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups" toml:"maxBackups" validate:"min=0"`
	Daemon     string `json:"daemon,omitempty" mapstructure:"daemon" toml:"daemon,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Sweep      string `json:"sweep,omitempty" mapstructure:"sweep" toml:"sweep,omitempty" validate:"omitempty,oneof=debug info warn error"`
	MCP        string `json:"mcp,omitempty" mapstructure:"mcp" toml:"mcp,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Scan: ScanConfig{
			BaseURL:            "https://t.me",
			RescanAfterSeconds: 60,
			Concurrency:        4,
			TimeoutMs:          10000,
			BreakerMaxFailures: 5,
			BreakerOpenSeconds: 60,
		},
		Search: SearchConfig{
			MaxExpansions: 1000000,
			TimeoutMs:     30000,
		},
		Publish: PublishConfig{
			MaxMessageLength: 4096,
			WarnRatio:        0.73,
			PruneDisabled:    true,
		},
		Schedule: ScheduleConfig{
			Sweep:      "every 1m",
			Backup:     "daily at 03:00",
			BackupKeep: 7,
			Deliveries: "every 5m",
		},
		Daemon: DaemonConfig{
			Bind: "localhost",
			Port: 9130,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// RescanAfter returns the rescan interval.
func (c *ScanConfig) RescanAfter() time.Duration {
	return time.Duration(c.RescanAfterSeconds) * time.Second
}

// Timeout returns the per-request timeout.
func (c *ScanConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// BreakerOpen returns how long the breaker stays open.
func (c *ScanConfig) BreakerOpen() time.Duration {
	return time.Duration(c.BreakerOpenSeconds) * time.Second
}

// Timeout returns the search deadline, zero for none.
func (c *SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// WarnLength is the chain text length at which a length warning is sent.
func (c *PublishConfig) WarnLength() int {
	return int(float64(c.MaxMessageLength) * c.WarnRatio)
}

// Address returns host:port for the daemon listener.
func (c *DaemonConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// LoadResult describes where a configuration came from
type LoadResult struct {
	Config       *Config
	ConfigPath   string
	UsedDefaults bool
}

// LoadConfig loads chainwatch.{toml,json,yaml} from path, or searches the
// working directory and dataDir when path is empty.
func LoadConfig(path, dataDir string) (*Config, error) {
	res, err := LoadConfigWithDetails(path, dataDir)
	if err != nil {
		return nil, err
	}
	return res.Config, nil
}

// LoadConfigWithDetails is LoadConfig that also reports the source file.
// Environment variables prefixed with CHAINWATCH_ override file values.
func LoadConfigWithDetails(path, dataDir string) (*LoadResult, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("chainwatch")
		v.AddConfigPath(".")
		if dataDir != "" {
			v.AddConfigPath(dataDir)
		}
	}

	res := &LoadResult{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, cwerrors.NewError(cwerrors.ConfigInvalid, "failed to read configuration", err, nil)
		}
		res.UsedDefaults = true
	} else {
		res.ConfigPath = v.ConfigFileUsed()
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, cwerrors.NewError(cwerrors.ConfigInvalid, "failed to decode configuration", err, nil)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	res.Config = cfg
	return res, nil
}

// setDefaults registers every scalar key so that environment overrides are
// visible to Unmarshal even when the file omits them.
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"version":                  d.Version,
		"anchor":                   d.Anchor,
		"dataDir":                  d.DataDir,
		"scan.baseURL":             d.Scan.BaseURL,
		"scan.userAgent":           d.Scan.UserAgent,
		"scan.rescanAfterSeconds":  d.Scan.RescanAfterSeconds,
		"scan.concurrency":         d.Scan.Concurrency,
		"scan.timeoutMs":           d.Scan.TimeoutMs,
		"scan.breakerMaxFailures":  d.Scan.BreakerMaxFailures,
		"scan.breakerOpenSeconds":  d.Scan.BreakerOpenSeconds,
		"search.maxExpansions":     d.Search.MaxExpansions,
		"search.timeoutMs":         d.Search.TimeoutMs,
		"publish.dryRun":           d.Publish.DryRun,
		"publish.maxMessageLength": d.Publish.MaxMessageLength,
		"publish.warnRatio":        d.Publish.WarnRatio,
		"publish.pruneDisabled":    d.Publish.PruneDisabled,
		"schedule.sweep":           d.Schedule.Sweep,
		"schedule.backup":          d.Schedule.Backup,
		"schedule.backupKeep":      d.Schedule.BackupKeep,
		"schedule.deliveries":      d.Schedule.Deliveries,
		"daemon.bind":              d.Daemon.Bind,
		"daemon.port":              d.Daemon.Port,
		"daemon.auth.enabled":      d.Daemon.Auth.Enabled,
		"daemon.auth.tokenHash":    d.Daemon.Auth.TokenHash,
		"logging.level":            d.Logging.Level,
		"logging.maxSize":          d.Logging.MaxSize,
		"logging.maxBackups":       d.Logging.MaxBackups,
		"logging.daemon":           d.Logging.Daemon,
		"logging.sweep":            d.Logging.Sweep,
		"logging.mcp":              d.Logging.MCP,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Save writes the configuration as TOML.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

var validate = validator.New()

// Validate checks struct constraints and schedule expressions.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return cwerrors.NewError(cwerrors.ConfigInvalid, "invalid configuration",
				&ConfigError{Field: fe.Namespace(), Message: describe(fe)},
				formatValidationErrors(verrs))
		}
		return cwerrors.NewError(cwerrors.ConfigInvalid, "invalid configuration", err, nil)
	}

	for field, expr := range map[string]string{
		"Config.Schedule.Sweep":      c.Schedule.Sweep,
		"Config.Schedule.Backup":     c.Schedule.Backup,
		"Config.Schedule.Deliveries": c.Schedule.Deliveries,
	} {
		if expr == "" {
			continue
		}
		if _, err := scheduler.ParseExpression(expr); err != nil {
			return cwerrors.NewError(cwerrors.ConfigInvalid, "invalid configuration",
				&ConfigError{Field: field, Message: err.Error()}, nil)
		}
	}

	if _, err := slogutil.ParseSize(c.Logging.MaxSize); err != nil {
		return cwerrors.NewError(cwerrors.ConfigInvalid, "invalid configuration",
			&ConfigError{Field: "Config.Logging.MaxSize", Message: err.Error()}, nil)
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Namespace()] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "eq":
		return "must equal " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
