package config

import (
	"errors"
	"time"

	"github.com/cyverse-de/go-mod/cfg"
	"github.com/knadh/koanf"
)

var ServiceName = "cloudgw"

// ErrMissingSigningKey is returned when no token signing key is configured. The service can't make any gateway calls
// without one, so callers should treat it as fatal.
var ErrMissingSigningKey = errors.New("gateway.signing.key or CLOUDGW_GATEWAY_SIGNING_KEY must be set")

// Default values for the optional settings.
const (
	DefaultListenPort           = 9000
	DefaultTokenIssuer          = "cloudgw"
	DefaultTokenTTL             = time.Hour
	DefaultGatewayTimeout       = 30 * time.Second
	DefaultGatewayRetries       = 3
	DefaultGatewayRetryInterval = time.Second
	DefaultListTTL              = 60 * time.Second
	DefaultGetTTL               = 30 * time.Second
	DefaultCatalogTTL           = time.Hour
	DefaultMetricsTTL           = 30 * time.Second
	DefaultReconcileDelay       = 10 * time.Second
	DefaultBaseSubject          = "cyverse.cloudgw"
	DefaultBaseQueueName        = "cloudgw"

	CacheBackendMemory = "memory"
	CacheBackendBadger = "badger"
)

// Specification defines the configuration settings for the cloudgw service.
type Specification struct {
	DatabaseURI         string
	ReinitDB            bool
	RunSchemaMigrations bool
	ListenPort          int

	NatsCluster     string
	NatsCredsPath   string
	NatsCACertPath  string
	NatsTLSCertPath string
	NatsTLSKeyPath  string
	MaxReconnects   int
	ReconnectWait   int
	BaseSubject     string
	BaseQueueName   string

	GatewayBaseURL       string
	SigningKey           string
	TokenIssuer          string
	TokenTTL             time.Duration
	GatewayTimeout       time.Duration
	GatewayRetries       int
	GatewayRetryInterval time.Duration

	CacheBackend string
	CachePath    string
	ListTTL      time.Duration
	GetTTL       time.Duration
	CatalogTTL   time.Duration
	MetricsTTL   time.Duration

	ReconcileDelay time.Duration
}

// LoadConfig loads the configuration for the cloudgw service.
func LoadConfig(envPrefix, configPath, dotEnvPath string) (*Specification, error) {
	k, err := cfg.Init(&cfg.Settings{
		EnvPrefix:   envPrefix,
		ConfigPath:  configPath,
		DotEnvPath:  dotEnvPath,
		StrictMerge: false,
		FileType:    cfg.YAML,
	})
	if err != nil {
		return nil, err
	}

	return FromKoanf(k)
}

// durationOr returns the duration stored at the given key or the default if the key isn't set.
func durationOr(k *koanf.Koanf, key string, def time.Duration) time.Duration {
	if !k.Exists(key) {
		return def
	}
	return k.Duration(key)
}

// intOr returns the integer stored at the given key or the default if the key isn't set.
func intOr(k *koanf.Koanf, key string, def int) int {
	if !k.Exists(key) {
		return def
	}
	return k.Int(key)
}

// stringOr returns the string stored at the given key or the default if the value is empty.
func stringOr(k *koanf.Koanf, key, def string) string {
	if v := k.String(key); v != "" {
		return v
	}
	return def
}

// FromKoanf extracts and validates the service configuration from an already loaded koanf instance.
func FromKoanf(k *koanf.Koanf) (*Specification, error) {
	var s Specification

	s.DatabaseURI = k.String("database.uri")
	if s.DatabaseURI == "" {
		return nil, errors.New("database.uri or CLOUDGW_DATABASE_URI must be set")
	}

	s.ReinitDB = k.Bool("reinit.db")
	s.RunSchemaMigrations = k.Bool("run.schema.migrations")
	s.ListenPort = intOr(k, "listen.port", DefaultListenPort)

	// NATS is optional. Lifecycle events and the NATS request handlers are disabled without it.
	s.NatsCluster = k.String("nats.cluster")
	s.NatsCredsPath = k.String("nats.creds.path")
	s.NatsCACertPath = k.String("nats.tls.ca.cert")
	s.NatsTLSCertPath = k.String("nats.tls.cert")
	s.NatsTLSKeyPath = k.String("nats.tls.key")
	s.MaxReconnects = intOr(k, "nats.reconnects.max", 10)
	s.ReconnectWait = intOr(k, "nats.reconnects.wait", 1)
	s.BaseSubject = stringOr(k, "nats.basesubject", DefaultBaseSubject)
	s.BaseQueueName = stringOr(k, "nats.basequeue", DefaultBaseQueueName)

	s.GatewayBaseURL = k.String("gateway.base.url")
	if s.GatewayBaseURL == "" {
		return nil, errors.New("gateway.base.url or CLOUDGW_GATEWAY_BASE_URL must be set")
	}

	s.SigningKey = k.String("gateway.signing.key")
	if s.SigningKey == "" {
		return nil, ErrMissingSigningKey
	}

	s.TokenIssuer = stringOr(k, "gateway.token.issuer", DefaultTokenIssuer)
	s.TokenTTL = durationOr(k, "gateway.token.ttl", DefaultTokenTTL)
	s.GatewayTimeout = durationOr(k, "gateway.timeout", DefaultGatewayTimeout)
	s.GatewayRetries = intOr(k, "gateway.retries", DefaultGatewayRetries)
	if s.GatewayRetries < 0 {
		return nil, errors.New("gateway.retries must not be negative")
	}
	s.GatewayRetryInterval = durationOr(k, "gateway.retry.interval", DefaultGatewayRetryInterval)
	if s.GatewayRetryInterval < time.Second {
		return nil, errors.New("gateway.retry.interval must be at least one second")
	}

	s.CacheBackend = stringOr(k, "cache.backend", CacheBackendMemory)
	switch s.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendBadger:
		s.CachePath = k.String("cache.path")
		if s.CachePath == "" {
			return nil, errors.New("cache.path must be set when the badger cache backend is used")
		}
	default:
		return nil, errors.New("cache.backend must be either memory or badger")
	}

	s.ListTTL = durationOr(k, "cache.ttl.list", DefaultListTTL)
	s.GetTTL = durationOr(k, "cache.ttl.get", DefaultGetTTL)
	s.CatalogTTL = durationOr(k, "cache.ttl.catalog", DefaultCatalogTTL)
	s.MetricsTTL = durationOr(k, "cache.ttl.metrics", DefaultMetricsTTL)
	s.ReconcileDelay = durationOr(k, "reconcile.delay", DefaultReconcileDelay)

	return &s, nil
}
