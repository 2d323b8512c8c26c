// Package config loads the Redis settings shared by the authorization state
// store and the asynq sweep worker.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

// RedisConfig holds Redis connection and worker parameters
type RedisConfig struct {
	Host            string
	Port            int
	Password        string
	DB              int
	Workers         int
	RetryInterval   time.Duration
	MaxRetries      int
	UseTLS          bool
	CertFile        string
	KeyFile         string
	CAFile          string
	QueuePriorities map[string]int
}

const (
	defaultHost          = "localhost"
	defaultPort          = 6379
	defaultDB            = 0
	defaultWorkers       = 4
	defaultRetryInterval = 30 * time.Second
	defaultMaxRetries    = 3
	minPort              = 1
	maxPort              = 65535
	minDB                = 0
	maxDB                = 15
	minWorkers           = 1
	maxWorkers           = 100
	minRetryInterval     = time.Second
	maxRetryInterval     = time.Hour
	minMaxRetries        = 0
	maxMaxRetries        = 10
)

// Queue names used by the worker.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// DefaultQueuePriorities defines the default priority settings for task queues
var DefaultQueuePriorities = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// NewRedisConfig reads REDIS_URL, or REDIS_HOST, REDIS_PORT and REDIS_DB when
// no URL is set, plus the worker settings. Every invalid value is reported.
func NewRedisConfig() (*RedisConfig, error) {
	cfg := &RedisConfig{
		Host:            getEnvOrDefault("REDIS_HOST", defaultHost),
		Port:            defaultPort,
		DB:              defaultDB,
		Password:        os.Getenv("REDIS_PASSWORD"),
		UseTLS:          getEnvBool("REDIS_USE_TLS"),
		CertFile:        os.Getenv("REDIS_CERT_FILE"),
		KeyFile:         os.Getenv("REDIS_KEY_FILE"),
		CAFile:          os.Getenv("REDIS_CA_FILE"),
		QueuePriorities: make(map[string]int, len(DefaultQueuePriorities)),
	}

	for queue, priority := range DefaultQueuePriorities {
		cfg.QueuePriorities[queue] = priority
	}

	var errs error

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		errs = multierr.Append(errs, cfg.applyURL(redisURL))
	} else {
		port, err := parseIntInRange("REDIS_PORT", getEnvOrDefault("REDIS_PORT", strconv.Itoa(defaultPort)), minPort, maxPort)
		errs = multierr.Append(errs, err)
		cfg.Port = port

		db, err := parseIntInRange("REDIS_DB", getEnvOrDefault("REDIS_DB", strconv.Itoa(defaultDB)), minDB, maxDB)
		errs = multierr.Append(errs, err)
		cfg.DB = db
	}

	workers, err := parseIntInRange("REDIS_WORKERS", getEnvOrDefault("REDIS_WORKERS", strconv.Itoa(defaultWorkers)), minWorkers, maxWorkers)
	errs = multierr.Append(errs, err)
	cfg.Workers = workers

	retries, err := parseIntInRange("REDIS_MAX_RETRIES", getEnvOrDefault("REDIS_MAX_RETRIES", strconv.Itoa(defaultMaxRetries)), minMaxRetries, maxMaxRetries)
	errs = multierr.Append(errs, err)
	cfg.MaxRetries = retries

	interval, err := parseRetryInterval(getEnvOrDefault("REDIS_RETRY_INTERVAL", defaultRetryInterval.String()))
	errs = multierr.Append(errs, err)
	cfg.RetryInterval = interval

	if cfg.UseTLS {
		errs = multierr.Append(errs, validateTLSConfig(cfg))
	}

	if errs != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", errs)
	}

	return cfg, nil
}

func (c *RedisConfig) applyURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	if parsedURL.Scheme == "rediss" {
		c.UseTLS = true
	}

	if host := parsedURL.Hostname(); host != "" {
		c.Host = host
	}

	if port := parsedURL.Port(); port != "" {
		p, err := parseIntInRange("REDIS_URL port", port, minPort, maxPort)
		if err != nil {
			return err
		}

		c.Port = p
	}

	if password, ok := parsedURL.User.Password(); ok {
		c.Password = password
	}

	if path := strings.TrimPrefix(parsedURL.Path, "/"); path != "" {
		db, err := parseIntInRange("REDIS_URL database", path, minDB, maxDB)
		if err != nil {
			return err
		}

		c.DB = db
	}

	return nil
}

// GetRedisAddr returns the formatted Redis address
func (c *RedisConfig) GetRedisAddr() string {
	host := c.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}

	return fmt.Sprintf("%s:%d", host, c.Port)
}

// ClientOptions returns go-redis options for the state store.
func (c *RedisConfig) ClientOptions() (*goredis.Options, error) {
	tlsConfig, err := c.TLSConfig()
	if err != nil {
		return nil, err
	}

	return &goredis.Options{
		Addr:         c.GetRedisAddr(),
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		TLSConfig:    tlsConfig,
	}, nil
}

// AsynqRedisOpt returns the connection options for asynq clients, servers and schedulers.
func (c *RedisConfig) AsynqRedisOpt() (asynq.RedisClientOpt, error) {
	tlsConfig, err := c.TLSConfig()
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:         c.GetRedisAddr(),
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		TLSConfig:    tlsConfig,
	}, nil
}

// TLSConfig returns nil when TLS is disabled.
func (c *RedisConfig) TLSConfig() (*tls.Config, error) {
	if !c.UseTLS {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: c.Host,
	}

	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis client certificate: %w", err)
		}

		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read redis CA file: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}

		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func parseIntInRange(name, value string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", name, err)
	}

	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be between %d and %d", name, lo, hi)
	}

	return n, nil
}

func parseRetryInterval(interval string) (time.Duration, error) {
	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("REDIS_RETRY_INTERVAL: invalid duration format: %w", err)
	}

	if d < minRetryInterval || d > maxRetryInterval {
		return 0, fmt.Errorf("REDIS_RETRY_INTERVAL must be between %v and %v", minRetryInterval, maxRetryInterval)
	}

	return d, nil
}

func validateTLSConfig(cfg *RedisConfig) error {
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return fmt.Errorf("REDIS_CERT_FILE and REDIS_KEY_FILE must be set together")
	}

	var errs error

	for _, path := range []string{cfg.CertFile, cfg.KeyFile, cfg.CAFile} {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cannot access %s: %w", path, err))
		}
	}

	return errs
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvBool(key string) bool {
	value := strings.ToLower(os.Getenv(key))
	return value == "true" || value == "1" || value == "yes"
}
