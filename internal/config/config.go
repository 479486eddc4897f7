package config

import (
	"time"
)

// This block of constants defines the default application settings when no
// configuration file is provided.
const (
	DefaultConfigPath       = "sshlure.yaml"
	DefaultBindAddress      = "0.0.0.0"
	DefaultPortSSH          = 2222
	DefaultBannerSSH        = "SSH-2.0-OpenSSH_9.3 FreeBSD-20230316" // SSH banner for FreeBSD 13.2
	DefaultBannerTimeout    = 5 * time.Second
	DefaultReadTimeout      = 10 * time.Second
	DefaultSessionTimeout   = 30 * time.Second
	DefaultKexDelay         = 500 * time.Millisecond
	DefaultAuthFailureDelay = 1 * time.Second
	DefaultMaxAuthAttempts  = 3
	DefaultLookupBudget     = 2 * time.Minute
	DefaultGeoRateLimit     = 1 * time.Second
	DefaultGeoTimeout       = 5 * time.Second
	DefaultIPAPICoURL       = "https://ipapi.co"
	DefaultIPAPIComURL      = "http://ip-api.com/json"
	DefaultIPStackURL       = "http://api.ipstack.com"
	DefaultSinkBufferSize   = 1024
	DefaultLogPath          = "sshlure-log.jsonl"
	DefaultLogMaxSizeMB     = 50
	DefaultNATSSubject      = "sshlure.attacks"
	DefaultEnableMonitor    = true
	DefaultPortMonitor      = 9100
	DefaultCertPathMonitor  = "sshlure-monitor.crt"
	DefaultKeyPathMonitor   = "sshlure-monitor.key"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "console"
)

// Config holds the configuration settings for the application.
type Config struct {
	SSH     SSH     `koanf:"ssh"`
	Geo     Geo     `koanf:"geo"`
	Sinks   Sinks   `koanf:"sinks"`
	Monitor Monitor `koanf:"monitor"`
	Log     Log     `koanf:"log"`
}

// SSH defines the settings for the SSH honeypot listener and its sessions.
type SSH struct {
	BindAddress string `koanf:"bind_address" validate:"required,ip"`
	Port        uint16 `koanf:"port" validate:"required"`

	// Banner is the version string sent to clients, without the trailing
	// CRLF.
	Banner string `koanf:"banner" validate:"required,startswith=SSH-,printascii,max=253"`

	BannerTimeout    time.Duration `koanf:"banner_timeout" validate:"gt=0"`
	ReadTimeout      time.Duration `koanf:"read_timeout" validate:"gt=0"`
	SessionTimeout   time.Duration `koanf:"session_timeout" validate:"gt=0"`
	KexDelay         time.Duration `koanf:"kex_delay" validate:"gte=0"`
	AuthFailureDelay time.Duration `koanf:"auth_failure_delay" validate:"gte=0"`
	MaxAuthAttempts  int           `koanf:"max_auth_attempts" validate:"min=1,max=10"`

	// MaxConnections caps concurrent connections. Zero means no cap.
	MaxConnections int `koanf:"max_connections" validate:"gte=0"`

	UseProxyProtocol bool `koanf:"use_proxy_protocol"`

	// LookupBudget bounds how long a finished session may spend resolving
	// the client's location, including time spent rate limited.
	LookupBudget time.Duration `koanf:"lookup_budget" validate:"gt=0"`
}

// Geo defines the settings for geolocation enrichment.
type Geo struct {
	// RateLimit is the minimum spacing between outbound lookups across all
	// sessions. Zero disables the limit.
	RateLimit time.Duration `koanf:"rate_limit" validate:"gte=0"`

	// Timeout applies to each provider call.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// IPStackAPIKey enables the ipstack provider when set.
	IPStackAPIKey string `koanf:"ipstack_api_key"`

	// CacheTTL expires cached locations. Zero keeps them for the life of
	// the process.
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"gte=0"`

	// CacheSize bounds the cache. Zero means unbounded.
	CacheSize int `koanf:"cache_size" validate:"gte=0"`

	IPAPICoURL  string `koanf:"ipapi_co_url" validate:"required,url"`
	IPAPIComURL string `koanf:"ip_api_com_url" validate:"required,url"`
	IPStackURL  string `koanf:"ipstack_url" validate:"required,url"`
}

// Sinks defines where attack records are delivered. Every configured sink
// receives every record.
type Sinks struct {
	// BufferSize is the queue depth of each sink.
	BufferSize int `koanf:"buffer_size" validate:"min=1"`

	// LogPath is the JSON lines record log. An empty path disables it.
	LogPath      string `koanf:"log_path"`
	LogMaxSizeMB int    `koanf:"log_max_size_mb" validate:"min=1"`

	DBDriver string `koanf:"db_driver" validate:"omitempty,oneof=sqlite3 postgres"`
	DBDSN    string `koanf:"db_dsn" validate:"required_with=DBDriver"`

	NATSURL     string `koanf:"nats_url"`
	NATSSubject string `koanf:"nats_subject" validate:"required_with=NATSURL"`

	PushoverToken     string `koanf:"pushover_token" validate:"required_with=PushoverRecipient"`
	PushoverRecipient string `koanf:"pushover_recipient" validate:"required_with=PushoverToken"`
}

// Monitor defines the settings for the operations HTTP server, which serves
// health checks, Prometheus metrics, and a live stream of attack records.
type Monitor struct {
	Enabled   bool   `koanf:"enabled"`
	Port      uint16 `koanf:"port" validate:"required_if=Enabled true"`
	EnableTLS bool   `koanf:"enable_tls"`
	CertPath  string `koanf:"cert_path"`
	KeyPath   string `koanf:"key_path"`
}

// Log defines the settings for the operator console log.
type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

// Default returns the configuration used when no file, environment
// variables, or flags override it.
func Default() *Config {
	return &Config{
		SSH: SSH{
			BindAddress:      DefaultBindAddress,
			Port:             DefaultPortSSH,
			Banner:           DefaultBannerSSH,
			BannerTimeout:    DefaultBannerTimeout,
			ReadTimeout:      DefaultReadTimeout,
			SessionTimeout:   DefaultSessionTimeout,
			KexDelay:         DefaultKexDelay,
			AuthFailureDelay: DefaultAuthFailureDelay,
			MaxAuthAttempts:  DefaultMaxAuthAttempts,
			LookupBudget:     DefaultLookupBudget,
		},
		Geo: Geo{
			RateLimit:   DefaultGeoRateLimit,
			Timeout:     DefaultGeoTimeout,
			IPAPICoURL:  DefaultIPAPICoURL,
			IPAPIComURL: DefaultIPAPIComURL,
			IPStackURL:  DefaultIPStackURL,
		},
		Sinks: Sinks{
			BufferSize:   DefaultSinkBufferSize,
			LogPath:      DefaultLogPath,
			LogMaxSizeMB: DefaultLogMaxSizeMB,
			NATSSubject:  DefaultNATSSubject,
		},
		Monitor: Monitor{
			Enabled:  DefaultEnableMonitor,
			Port:     DefaultPortMonitor,
			CertPath: DefaultCertPathMonitor,
			KeyPath:  DefaultKeyPathMonitor,
		},
		Log: Log{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
