package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DBConfig holds the Postgres connection settings.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ConnString renders the settings as a libpq keyword/value string.
func (c DBConfig) ConnString() string {
	s := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
	if c.MaxConns > 0 {
		s += fmt.Sprintf(" pool_max_conns=%d", c.MaxConns)
	}
	return s
}

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Server        struct {
		Address      string        `mapstructure:"address"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`
	DB      DBConfig `mapstructure:"db"`
	Storage struct {
		// Driver is "postgres" or "memory".
		Driver   string        `mapstructure:"driver"`
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"storage"`
	History struct {
		LogFile string `mapstructure:"log_file"`
		Redis   struct {
			Enabled  bool     `mapstructure:"enabled"`
			Addrs    []string `mapstructure:"addrs"`
			Password string   `mapstructure:"password"`
			Stream   string   `mapstructure:"stream"`
			MaxLen   int64    `mapstructure:"max_len"`
			// Timeout bounds each publish so an outage cannot stall transitions.
			Timeout time.Duration `mapstructure:"timeout"`
		} `mapstructure:"redis"`
	} `mapstructure:"history"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Auth struct {
		OktaDomain       string `mapstructure:"okta_domain"`
		ClientID         string `mapstructure:"client_id"`
		ClientSecret     string `mapstructure:"client_secret"`
		RedirectURL      string `mapstructure:"redirect_url"`
		SwaggerClientID  string `mapstructure:"swagger_client_id"`
		PermissionsClaim string `mapstructure:"permissions_claim"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "admissions")
	v.SetDefault("db.name", "admissions")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.cache_ttl", 30*time.Second)
	v.SetDefault("history.redis.stream", "admissions:transitions")
	v.SetDefault("history.redis.max_len", 100000)
	v.SetDefault("history.redis.timeout", "500ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.permissions_claim", "permissions")

	// Keys without a meaningful default are still registered so that
	// AutomaticEnv can override them during Unmarshal.
	for key, zero := range map[string]any{
		"dev_mode_bypass":        false,
		"db.password":            "",
		"db.max_conns":           0,
		"history.log_file":       "",
		"history.redis.enabled":  false,
		"history.redis.addrs":    []string{},
		"history.redis.password": "",
		"auth.okta_domain":       "",
		"auth.client_id":         "",
		"auth.client_secret":     "",
		"auth.redirect_url":      "",
		"auth.swagger_client_id": "",
		"tls.enable":             false,
		"tls.cert_file":          "",
		"tls.key_file":           "",
		"tls.hostnames":          []string{},
	} {
		v.SetDefault(key, zero)
	}
}

// LoadConfig loads the configuration from a file and the environment.
// An explicit path wins over the default search of ./config.yaml and
// ./config/config.yaml. A missing default file is not an error; every key
// can be supplied as ADMISSIONS_<SECTION>_<KEY>.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("admissions")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); path != "" || !missing {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	switch config.Storage.Driver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("unknown storage driver %q", config.Storage.Driver)
	}

	return &config, nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
