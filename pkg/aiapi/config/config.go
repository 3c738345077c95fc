package config

import (
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/auth"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/chat"
	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/metrics"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/toolpack"
)

// EnvPrefix prefixes environment overrides, e.g. AIAPI_MODEL_MODEL.
const EnvPrefix = "AIAPI"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Config is the aiapi configuration.
type Config struct {
	Model    ModelConfig  `yaml:"model" mapstructure:"model"`
	Hub      HubConfig    `yaml:"hub" mapstructure:"hub"`
	Server   ServerConfig `yaml:"server" mapstructure:"server"`
	Store    StoreConfig  `yaml:"store" mapstructure:"store"`
	LogLevel string       `yaml:"log_level" mapstructure:"log_level"`
}

// ModelConfig holds the model endpoint and session defaults.
type ModelConfig struct {
	APIURL         string                 `yaml:"api_url" mapstructure:"api_url"`
	Model          string                 `yaml:"model" mapstructure:"model"`
	System         string                 `yaml:"system" mapstructure:"system"`
	Params         map[string]interface{} `yaml:"params,omitempty" mapstructure:"params"`
	InputFields    []string               `yaml:"input_fields,omitempty" mapstructure:"input_fields"`
	RecentMessages int                    `yaml:"recent_messages" mapstructure:"recent_messages"`
	SaveMessages   *bool                  `yaml:"save_messages,omitempty" mapstructure:"save_messages"`
	MaxDepth       int                    `yaml:"max_depth" mapstructure:"max_depth"`
	APIKey         string                 `yaml:"api_key,omitempty" mapstructure:"api_key"`
	APIKeyEnv      string                 `yaml:"api_key_env,omitempty" mapstructure:"api_key_env"`
	APIKeyFile     string                 `yaml:"api_key_file,omitempty" mapstructure:"api_key_file"`
}

// HubConfig locates the tool-hosting service.
type HubConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Host        string `yaml:"host" mapstructure:"host"`
	PackPrefix  string `yaml:"pack_prefix" mapstructure:"pack_prefix"`
	DefaultPack string `yaml:"default_pack" mapstructure:"default_pack"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// StoreConfig selects the session store.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			APIURL:       session.DefaultAPIURL,
			Model:        session.DefaultModel,
			System:       session.DefaultSystem,
			Params:       session.DefaultParams(),
			InputFields:  append([]string(nil), session.DefaultInputFields...),
			SaveMessages: session.Override(true),
			APIKeyEnv:    auth.DefaultKeyEnv,
		},
		Hub: HubConfig{
			BaseURL:     toolpack.DefaultHubURL,
			Host:        toolpack.DefaultHubHost,
			PackPrefix:  toolpack.PackPrefix,
			DefaultPack: toolpack.DefaultPackID,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    "aiapi.db",
		},
		LogLevel: "info",
	}
}

// LoadConfig loads configuration from filePath (YAML or JSON), overlaid with
// AIAPI_* environment variables. An empty filePath reads the environment only.
func LoadConfig(filePath string) (*Config, error) {
	v := viper.New()
	bindDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "failed to parse config", err)
	}
	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindDefaults registers every key with viper so environment overrides apply
// to keys the file does not mention. Params are merged later, not here.
func bindDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("model.api_url", d.Model.APIURL)
	v.SetDefault("model.model", d.Model.Model)
	v.SetDefault("model.system", d.Model.System)
	v.SetDefault("model.input_fields", d.Model.InputFields)
	v.SetDefault("model.recent_messages", d.Model.RecentMessages)
	v.SetDefault("model.save_messages", *d.Model.SaveMessages)
	v.SetDefault("model.max_depth", d.Model.MaxDepth)
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.api_key_env", d.Model.APIKeyEnv)
	v.SetDefault("model.api_key_file", "")
	v.SetDefault("hub.base_url", d.Hub.BaseURL)
	v.SetDefault("hub.host", d.Hub.Host)
	v.SetDefault("hub.pack_prefix", d.Hub.PackPrefix)
	v.SetDefault("hub.default_pack", d.Hub.DefaultPack)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("log_level", d.LogLevel)
}

// SetDefaults fills unset fields from DefaultConfig. Configured params keep
// their values, including zero values; missing default params are added. Set
// pointer fields are left alone, so save_messages: false survives.
func (c *Config) SetDefaults() error {
	if err := mergo.Merge(c, DefaultConfig(), mergo.WithoutDereference); err != nil {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "failed to apply defaults", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var result *multierror.Error

	if u, err := url.Parse(c.Model.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		result = multierror.Append(result, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "model.api_url %q is not an absolute URL", c.Model.APIURL))
	}
	if c.Model.Model == "" {
		result = multierror.Append(result, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "model.model is required"))
	}
	if c.Model.RecentMessages < 0 {
		result = multierror.Append(result, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "model.recent_messages must not be negative"))
	}
	if c.Model.MaxDepth < 0 {
		result = multierror.Append(result, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "model.max_depth must not be negative"))
	}
	if c.Hub.BaseURL != "" {
		if u, err := url.Parse(c.Hub.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			result = multierror.Append(result, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "hub.base_url %q is not an absolute URL", c.Hub.BaseURL))
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "server.port %d out of range", c.Server.Port))
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			result = multierror.Append(result, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "store.dsn is required for driver %s", c.Store.Driver))
		}
	case DriverNone:
	default:
		result = multierror.Append(result, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "unknown store.driver %q", c.Store.Driver))
	}
	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		result = multierror.Append(result, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "unknown log_level %q", c.LogLevel))
	}

	if err := result.ErrorOrNil(); err != nil {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "invalid configuration", err)
	}
	return nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, filePath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "failed to marshal config", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "failed to write config file", err)
	}

	return nil
}

// TokenService returns the key source: a key file wins over an inline key,
// which wins over the environment variable.
func (c *Config) TokenService() *auth.TokenService {
	switch {
	case c.Model.APIKeyFile != "":
		return auth.NewTokenService(c.Model.APIKeyFile, auth.Secret{})
	case c.Model.APIKey != "":
		return auth.NewTokenService("", auth.NewSecret(c.Model.APIKey))
	default:
		return auth.FromEnv(c.Model.APIKeyEnv)
	}
}

// SessionOptions returns the options for a new session using key.
func (c *Config) SessionOptions(key auth.Secret) session.Options {
	params := make(map[string]interface{}, len(c.Model.Params))
	for k, v := range c.Model.Params {
		params[k] = v
	}
	return session.Options{
		APIURL:         c.Model.APIURL,
		APIKey:         key,
		Model:          c.Model.Model,
		System:         c.Model.System,
		Params:         params,
		InputFields:    append([]string(nil), c.Model.InputFields...),
		RecentMessages: c.Model.RecentMessages,
		SaveMessages:   c.Model.SaveMessages,
	}
}

// AdapterConfig returns the tool-pack adapter settings.
func (c *Config) AdapterConfig(httpClient *http.Client, rec *metrics.Recorder) toolpack.AdapterConfig {
	return toolpack.AdapterConfig{
		HubHost:     c.Hub.Host,
		PackPrefix:  c.Hub.PackPrefix,
		DefaultPack: c.Hub.DefaultPack,
		HTTPClient:  httpClient,
		Metrics:     rec,
	}
}

// DispatcherConfig returns the chat dispatcher settings.
func (c *Config) DispatcherConfig(rec *metrics.Recorder) chat.Config {
	return chat.Config{
		MaxDepth: c.Model.MaxDepth,
		Metrics:  rec,
	}
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}
