package config

import "time"

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `yaml:"addr"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	IdleTimeout       Duration `yaml:"idle_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	MaxRequestBytes   int64    `yaml:"max_request_bytes"`

	// CORSOrigins lists browser origins allowed to call the API. Empty disables CORS headers.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

type StorageConfig struct {
	// Mode is one of gcs, gcs_emulator or local.
	Mode            string   `yaml:"mode"`
	EmulatorHost    string   `yaml:"emulator_host,omitempty"`
	LocalRoot       string   `yaml:"local_root,omitempty"`
	CredentialsFile string   `yaml:"credentials_file,omitempty"`
	Timeout         Duration `yaml:"timeout"`
}

type ColumnsConfig struct {
	Year  []string `yaml:"year,omitempty"`
	Brand []string `yaml:"brand,omitempty"`
	Price []string `yaml:"price,omitempty"`
}

type ConvertConfig struct {
	// OutputBucket wins over marker substitution when set.
	OutputBucket string `yaml:"output_bucket,omitempty"`
	InputMarker  string `yaml:"input_marker"`
	OutputMarker string `yaml:"output_marker"`

	TmpDir       string        `yaml:"tmp_dir,omitempty"`
	Delimiter    string        `yaml:"delimiter"`
	DecimalComma bool          `yaml:"decimal_comma"`
	Columns      ColumnsConfig `yaml:"columns"`
	Timeout      Duration      `yaml:"timeout"`

	RenderChart bool   `yaml:"render_chart"`
	ChartFont   string `yaml:"chart_font,omitempty"`
}

type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HMACSecret string `yaml:"hmac_secret,omitempty"`
	Audience   string `yaml:"audience,omitempty"`
	Issuer     string `yaml:"issuer,omitempty"`
}

type RedisConfig struct {
	Addr     string   `yaml:"addr,omitempty"`
	Password string   `yaml:"password,omitempty"`
	DB       int      `yaml:"db"`
	DedupTTL Duration `yaml:"dedup_ttl"`
	Prefix   string   `yaml:"prefix"`
}

type DatabaseConfig struct {
	// Driver is postgres or sqlite. Empty disables the run ledger.
	Driver      string `yaml:"driver,omitempty"`
	DSN         string `yaml:"dsn,omitempty"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type QueueConfig struct {
	URL         string `yaml:"url,omitempty"`
	Queue       string `yaml:"queue"`
	ConsumerTag string `yaml:"consumer_tag"`
	Prefetch    int    `yaml:"prefetch"`

	// Type is quorum or classic. Retry limits need quorum queues.
	Type          string   `yaml:"type"`
	MaxDeliveries int64    `yaml:"max_deliveries"`
	RequeueDelay  Duration `yaml:"requeue_delay"`
}

type Config struct {
	Env      string         `yaml:"env"`
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Convert  ConvertConfig  `yaml:"convert"`
	Auth     AuthConfig     `yaml:"auth"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
}
