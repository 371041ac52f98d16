package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/price-summarizer/internal/platform/envutil"
)

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got kind %d", value.Kind)
	}
	s := strings.TrimSpace(value.Value)
	if s == "" || s == "null" || s == "~" {
		d.Duration = 0
		return nil
	}
	if value.Tag == "!!int" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or an int of seconds: %w", err)
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

func Default() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
			MaxRequestBytes:   1 << 20,
		},
		Storage: StorageConfig{
			Mode:    "gcs",
			Timeout: Duration{Duration: 2 * time.Minute},
		},
		Convert: ConvertConfig{
			InputMarker:  "-input-",
			OutputMarker: "-output-",
			Delimiter:    ",",
			Timeout:      Duration{Duration: 5 * time.Minute},
		},
		Redis: RedisConfig{
			DedupTTL: Duration{Duration: 24 * time.Hour},
			Prefix:   "ps:dedup:",
		},
		Database: DatabaseConfig{
			AutoMigrate: true,
		},
		Queue: QueueConfig{
			Queue:         "price-files",
			ConsumerTag:   "price-summarizer",
			Prefetch:      4,
			Type:          "quorum",
			MaxDeliveries: 5,
			RequeueDelay:  Duration{Duration: time.Second},
		},
	}
}

// Load reads defaults, then PS_CONFIG_PATH (or ./config/config.yaml when
// present), then environment overrides, and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	cfgPath := strings.TrimSpace(os.Getenv("PS_CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			p := filepath.Join(wd, "config", "config.yaml")
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
			}
		}
	}
	if cfgPath != "" {
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", cfgPath, err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("LOG_MODE", cfg.Env)

	if port := envutil.String("PORT", ""); port != "" {
		cfg.HTTP.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	cfg.HTTP.Addr = envutil.String("PS_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.CORSOrigins = envutil.List("PS_CORS_ORIGINS", cfg.HTTP.CORSOrigins)

	cfg.Storage.Mode = envutil.String("OBJECT_STORAGE_MODE", cfg.Storage.Mode)
	cfg.Storage.EmulatorHost = envutil.String("STORAGE_EMULATOR_HOST", cfg.Storage.EmulatorHost)
	cfg.Storage.LocalRoot = envutil.String("OBJECT_STORAGE_LOCAL_ROOT", cfg.Storage.LocalRoot)
	cfg.Storage.CredentialsFile = envutil.String("GOOGLE_APPLICATION_CREDENTIALS", cfg.Storage.CredentialsFile)

	cfg.Convert.OutputBucket = envutil.String("OUTPUT_BUCKET", cfg.Convert.OutputBucket)
	cfg.Convert.TmpDir = envutil.String("PS_TMP_DIR", cfg.Convert.TmpDir)
	cfg.Convert.Delimiter = envutil.String("PS_CSV_DELIMITER", cfg.Convert.Delimiter)
	cfg.Convert.DecimalComma = envutil.Bool("PS_DECIMAL_COMMA", cfg.Convert.DecimalComma)
	cfg.Convert.RenderChart = envutil.Bool("PS_RENDER_CHART", cfg.Convert.RenderChart)
	cfg.Convert.ChartFont = envutil.String("PS_CHART_FONT", cfg.Convert.ChartFont)

	cfg.Auth.Enabled = envutil.Bool("PS_AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.HMACSecret = envutil.String("PS_JWT_SECRET", cfg.Auth.HMACSecret)
	cfg.Auth.Audience = envutil.String("PS_JWT_AUDIENCE", cfg.Auth.Audience)
	cfg.Auth.Issuer = envutil.String("PS_JWT_ISSUER", cfg.Auth.Issuer)

	cfg.Redis.Addr = envutil.String("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envutil.String("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envutil.Int("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.DedupTTL.Duration = envutil.Duration("PS_DEDUP_TTL", cfg.Redis.DedupTTL.Duration)

	if dsn := envutil.String("POSTGRES_DSN", ""); dsn != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = dsn
	}
	cfg.Database.Driver = envutil.String("PS_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envutil.String("PS_DB_DSN", cfg.Database.DSN)

	cfg.Queue.URL = envutil.String("AMQP_URL", cfg.Queue.URL)
	cfg.Queue.Queue = envutil.String("AMQP_QUEUE", cfg.Queue.Queue)
	cfg.Queue.Prefetch = envutil.Int("AMQP_PREFETCH", cfg.Queue.Prefetch)
	cfg.Queue.Type = envutil.String("AMQP_QUEUE_TYPE", cfg.Queue.Type)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Env) == "" {
		c.Env = "development"
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.MaxRequestBytes <= 0 {
		c.HTTP.MaxRequestBytes = 1 << 20
	}
	if c.Storage.Timeout.Duration <= 0 {
		c.Storage.Timeout = Duration{Duration: 2 * time.Minute}
	}

	if _, err := c.Convert.DelimiterRune(); err != nil {
		return err
	}
	if c.Convert.OutputBucket == "" {
		if c.Convert.InputMarker == "" || c.Convert.OutputMarker == "" {
			return errors.New("convert.output_bucket or both convert.input_marker and convert.output_marker are required")
		}
		if c.Convert.InputMarker == c.Convert.OutputMarker {
			return fmt.Errorf("convert.input_marker and convert.output_marker must differ (both %q)", c.Convert.InputMarker)
		}
	}

	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return errors.New("auth.enabled requires auth.hmac_secret (PS_JWT_SECRET)")
	}
	if c.Redis.DedupTTL.Duration <= 0 {
		return fmt.Errorf("redis.dedup_ttl must be positive, got %s", c.Redis.DedupTTL.Duration)
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.Driver != "" && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
	}

	if c.Queue.URL != "" && strings.TrimSpace(c.Queue.Queue) == "" {
		return errors.New("queue.queue is required when queue.url is set")
	}
	if c.Queue.Prefetch <= 0 {
		c.Queue.Prefetch = 1
	}
	c.Queue.Type = strings.ToLower(strings.TrimSpace(c.Queue.Type))
	switch c.Queue.Type {
	case "":
		c.Queue.Type = "quorum"
	case "quorum", "classic":
	default:
		return fmt.Errorf("queue.type must be quorum or classic, got %q", c.Queue.Type)
	}
	if c.Queue.MaxDeliveries < 0 {
		return fmt.Errorf("queue.max_deliveries must not be negative, got %d", c.Queue.MaxDeliveries)
	}
	return nil
}

// DelimiterRune returns the single field separator. "\t" and "tab" select a tab.
func (c ConvertConfig) DelimiterRune() (rune, error) {
	d := c.Delimiter
	switch strings.ToLower(d) {
	case "":
		return ',', nil
	case `\t`, "tab":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(d)
	if r == utf8.RuneError || size != len(d) {
		return 0, fmt.Errorf("convert.delimiter must be a single character, got %q", d)
	}
	switch r {
	case '"', '\r', '\n':
		return 0, fmt.Errorf("convert.delimiter %q is not allowed", d)
	}
	return r, nil
}
