// Package config loads graphcache settings from a YAML file and
// GRAPHCACHE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jensneuse/abstractlogger"
	"github.com/spf13/viper"

	"github.com/hanpama/graphcache/internal/execution"
	"github.com/hanpama/graphcache/internal/pagination"
)

const EnvPrefix = "GRAPHCACHE"

type Config struct {
	IdentityField    string           `mapstructure:"identityField"`
	Pagination       pagination.Words `mapstructure:"pagination"`
	ContextCacheSize int              `mapstructure:"contextCacheSize"`
	LogLevel         string           `mapstructure:"logLevel"`
	Server           Server           `mapstructure:"server"`
	Telemetry        Telemetry        `mapstructure:"telemetry"`
}

type Server struct {
	Addr         string        `mapstructure:"addr"`
	Pretty       bool          `mapstructure:"pretty"`
	MaxBodyBytes int64         `mapstructure:"maxBodyBytes"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CORSOrigins  []string      `mapstructure:"corsOrigins"`
}

// Telemetry configures span export. An empty Endpoint disables it.
type Telemetry struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"serviceName"`
}

func Default() Config {
	return Config{
		IdentityField:    execution.DefaultIdentityField,
		Pagination:       pagination.Default(),
		ContextCacheSize: 256,
		LogLevel:         "info",
		Server: Server{
			Addr:         ":8080",
			MaxBodyBytes: 8 << 20,
			Timeout:      30 * time.Second,
		},
		Telemetry: Telemetry{ServiceName: "graphcache"},
	}
}

// Load reads the file at path over the defaults, then applies environment
// overrides such as GRAPHCACHE_SERVER_ADDR. An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override keys
// the file does not mention.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("identityField", d.IdentityField)
	v.SetDefault("contextCacheSize", d.ContextCacheSize)
	v.SetDefault("logLevel", d.LogLevel)

	w := d.Pagination
	v.SetDefault("pagination.forward.count", w.Forward.Count)
	v.SetDefault("pagination.forward.cursor", w.Forward.Cursor)
	v.SetDefault("pagination.backward.count", w.Backward.Count)
	v.SetDefault("pagination.backward.cursor", w.Backward.Cursor)
	v.SetDefault("pagination.items", w.Items)
	v.SetDefault("pagination.node", w.Node)
	v.SetDefault("pagination.cursor", w.Cursor)
	v.SetDefault("pagination.pageInfo.field", w.PageInfo.Field)
	v.SetDefault("pagination.pageInfo.hasNext", w.PageInfo.HasNext)
	v.SetDefault("pagination.pageInfo.hasPrevious", w.PageInfo.HasPrevious)
	v.SetDefault("pagination.pageInfo.startCursor", w.PageInfo.StartCursor)
	v.SetDefault("pagination.pageInfo.endCursor", w.PageInfo.EndCursor)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.pretty", d.Server.Pretty)
	v.SetDefault("server.maxBodyBytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.corsOrigins", d.Server.CORSOrigins)

	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.serviceName", d.Telemetry.ServiceName)
}

func (c Config) Validate() error {
	if c.IdentityField == "" {
		return fmt.Errorf("config: identityField is empty")
	}
	if c.ContextCacheSize <= 0 {
		return fmt.Errorf("config: contextCacheSize must be positive, got %d", c.ContextCacheSize)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if err := c.Pagination.Validate(); err != nil {
		return fmt.Errorf("config: pagination: %w", err)
	}
	return nil
}

// Level maps LogLevel onto a logger level.
func (c Config) Level() (abstractlogger.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return abstractlogger.DebugLevel, nil
	case "", "info":
		return abstractlogger.InfoLevel, nil
	case "warn", "warning":
		return abstractlogger.WarnLevel, nil
	case "error":
		return abstractlogger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", c.LogLevel)
}
