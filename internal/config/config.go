package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName       string
	HouseholdName     string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string

	AdGuardURL      string
	AdGuardUser     string
	AdGuardPassword string
	// Optional TLS material for reaching the filtering engine over HTTPS
	// with a private CA or client certificate.
	AdGuardTLSCert       string
	AdGuardTLSKey        string
	AdGuardTLSCACert     string
	AdGuardTLSServerName string
	EngineRateLimit      float64

	LeasesFile       string
	RegistryInterval time.Duration
	StaleAfter       time.Duration

	StateBackend string
	StateFile    string
	DatabaseURL  string
	DBMigrate    bool

	CatalogFile string
	Timezone    string

	SchedulerTick        time.Duration
	ReconcileWorkers     int
	ReconcileAttempts    int
	ReconcileBaseBackoff time.Duration
	ReconcileMaxBackoff  time.Duration
	ReconcileCallTimeout time.Duration
	TerminalRetryAfter   time.Duration
	StatsInterval        time.Duration

	BackupS3Endpoint  string
	BackupS3Bucket    string
	BackupS3AccessKey string
	BackupS3SecretKey string
	BackupS3Region    string
	BackupInterval    time.Duration
}

// Load reads the configuration from the environment. Malformed numeric or
// duration values are reported together.
func Load() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		ServiceName:       getEnv("SERVICE_NAME", "revived"),
		HouseholdName:     getEnv("HOUSEHOLD_NAME", ""),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8000"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),

		AdGuardURL:           strings.TrimRight(getEnv("ADGUARD_URL", "http://127.0.0.1:8080"), "/"),
		AdGuardUser:          getEnv("ADGUARD_USER", "admin"),
		AdGuardPassword:      getEnv("ADGUARD_PASSWORD", ""),
		AdGuardTLSCert:       getEnv("ADGUARD_TLS_CERT", ""),
		AdGuardTLSKey:        getEnv("ADGUARD_TLS_KEY", ""),
		AdGuardTLSCACert:     getEnv("ADGUARD_TLS_CA_CERT", ""),
		AdGuardTLSServerName: getEnv("ADGUARD_TLS_SERVER_NAME", ""),
		EngineRateLimit:      p.float("ENGINE_RATE_LIMIT", 10),

		LeasesFile:       getEnv("LEASES_FILE", "/var/lib/misc/dnsmasq.leases"),
		RegistryInterval: p.duration("REGISTRY_INTERVAL", 30*time.Second),
		StaleAfter:       p.duration("STALE_AFTER", 24*time.Hour),

		StateBackend: getEnv("STATE_BACKEND", "file"),
		StateFile:    getEnv("STATE_FILE", "/var/lib/revive/state.json"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		DBMigrate:    p.bool("DB_MIGRATE", true),

		CatalogFile: getEnv("CATALOG_FILE", ""),
		Timezone:    getEnv("TIMEZONE", ""),

		SchedulerTick:        p.duration("SCHEDULER_TICK", time.Minute),
		ReconcileWorkers:     p.int("RECONCILE_WORKERS", 2),
		ReconcileAttempts:    p.int("RECONCILE_ATTEMPTS", 5),
		ReconcileBaseBackoff: p.duration("RECONCILE_BASE_BACKOFF", 500*time.Millisecond),
		ReconcileMaxBackoff:  p.duration("RECONCILE_MAX_BACKOFF", 10*time.Second),
		ReconcileCallTimeout: p.duration("RECONCILE_CALL_TIMEOUT", 5*time.Second),
		TerminalRetryAfter:   p.duration("TERMINAL_RETRY_AFTER", 10*time.Minute),
		StatsInterval:        p.duration("STATS_INTERVAL", time.Minute),

		BackupS3Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupS3Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
		BackupS3AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
		BackupS3SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
		BackupS3Region:    getEnv("BACKUP_S3_REGION", "us-east-1"),
		BackupInterval:    p.duration("BACKUP_INTERVAL", 6*time.Hour),
	}

	if len(p.errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(p.errs, "; "))
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	var missing []string
	if c.HTTPListenAddr == "" {
		missing = append(missing, "HTTP_LISTEN_ADDR")
	}
	if c.AdGuardURL == "" {
		missing = append(missing, "ADGUARD_URL")
	}
	if c.AdGuardPassword == "" {
		missing = append(missing, "ADGUARD_PASSWORD")
	}
	if c.LeasesFile == "" {
		missing = append(missing, "LEASES_FILE")
	}
	switch c.StateBackend {
	case "file":
		if c.StateFile == "" {
			missing = append(missing, "STATE_FILE")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return fmt.Errorf("STATE_BACKEND must be \"file\" or \"postgres\", got %q", c.StateBackend)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if (c.AdGuardTLSCert == "") != (c.AdGuardTLSKey == "") {
		return fmt.Errorf("ADGUARD_TLS_CERT and ADGUARD_TLS_KEY must both be set")
	}
	if c.SchedulerTick <= 0 || c.SchedulerTick > time.Minute {
		return fmt.Errorf("SCHEDULER_TICK must be between 0 and 1m, got %s", c.SchedulerTick)
	}
	if c.ReconcileWorkers < 1 {
		return fmt.Errorf("RECONCILE_WORKERS must be at least 1")
	}
	if c.ReconcileAttempts < 1 {
		return fmt.Errorf("RECONCILE_ATTEMPTS must be at least 1")
	}
	if c.BackupS3Bucket != "" && c.BackupS3Endpoint == "" {
		return fmt.Errorf("BACKUP_S3_ENDPOINT is required when BACKUP_S3_BUCKET is set")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the household time zone. Bedtime windows are always
// evaluated in this single zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type parser struct {
	errs []string
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return d
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return f
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return b
}
