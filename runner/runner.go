package runner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Vector/vector-leads-crm/integrations"
	"github.com/Vector/vector-leads-crm/tlmt"
	"github.com/Vector/vector-leads-crm/tlmt/gonoop"
	"github.com/Vector/vector-leads-crm/tlmt/goposthog"
)

const (
	RunModeWeb = iota + 1
	RunModeWorker
)

var ErrInvalidRunMode = errors.New("invalid run mode")

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

type Config struct {
	Addr           string
	Dsn            string
	DataFolder     string
	UserHeader     string
	AllowedOrigins []string
	// CallbackRedirect receives the browser after the OAuth callback.
	CallbackRedirect string
	SweepInterval    time.Duration
	UseRedisState    bool
	Worker           bool
	DisableTelemetry bool
	Debug            bool
	RunMode          int
}

func ParseConfig() *Config {
	return parseConfig(flag.CommandLine, os.Args[1:])
}

func parseConfig(fs *flag.FlagSet, args []string) *Config {
	cfg := Config{}

	var origins string

	fs.StringVar(&cfg.Addr, "addr", ":8080", "address the web server listens on")
	fs.StringVar(&cfg.Dsn, "dsn", "", "postgres connection string; sqlite under -data-folder is used when empty")
	fs.StringVar(&cfg.DataFolder, "data-folder", "webdata", "folder of the sqlite database")
	fs.StringVar(&cfg.UserHeader, "user-header", "X-User-ID", "trusted header carrying the authenticated user id")
	fs.StringVar(&origins, "allowed-origins", "", "comma separated CORS origins, empty allows any")
	fs.StringVar(&cfg.CallbackRedirect, "callback-redirect", "", "frontend url the OAuth callback redirects to; JSON is rendered when empty")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", integrations.DefaultSweepInterval, "interval of the proactive token refresh sweep")
	fs.BoolVar(&cfg.UseRedisState, "redis-state", false, "keep authorization states in redis instead of the database")
	fs.BoolVar(&cfg.Worker, "worker", false, "run the asynq sweep worker instead of the web server")
	fs.BoolVar(&cfg.DisableTelemetry, "disable-telemetry", false, "disable anonymous telemetry")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")

	_ = fs.Parse(args)

	if os.Getenv("DISABLE_TELEMETRY") == "1" {
		cfg.DisableTelemetry = true
	}

	if origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	if cfg.CallbackRedirect == "" {
		cfg.CallbackRedirect = os.Getenv("YOUTUBE_CALLBACK_REDIRECT")
	}

	if cfg.Worker {
		cfg.RunMode = RunModeWorker
	} else {
		cfg.RunMode = RunModeWeb
	}

	return &cfg
}

// Validate rejects combinations the runners cannot serve.
func (c *Config) Validate() error {
	if c.SweepInterval < time.Second {
		return fmt.Errorf("sweep interval must be at least one second, got %s", c.SweepInterval)
	}

	if c.Worker && c.Dsn == "" {
		return errors.New("worker mode requires -dsn so it shares the web server's store")
	}

	if c.Dsn == "" && c.DataFolder == "" {
		return errors.New("either -dsn or -data-folder is required")
	}

	return nil
}

// NewLogger builds the process logger.
func NewLogger(debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	return zcfg.Build()
}

const defaultPosthogEndpoint = "https://eu.i.posthog.com"

var (
	telemetryOnce sync.Once
	telemetry     tlmt.Telemetry
)

// Telemetry returns the process wide telemetry sink. The first call decides
// between posthog, when POSTHOG_API_KEY is set, and the noop sink.
func Telemetry(disabled bool, logger *zap.Logger) tlmt.Telemetry {
	telemetryOnce.Do(func() {
		apiKey := os.Getenv("POSTHOG_API_KEY")
		if disabled || apiKey == "" {
			telemetry = gonoop.New()

			return
		}

		endpoint := os.Getenv("POSTHOG_ENDPOINT")
		if endpoint == "" {
			endpoint = defaultPosthogEndpoint
		}

		val, err := goposthog.New(apiKey, endpoint, logger)
		if err != nil || val == nil {
			telemetry = gonoop.New()

			return
		}

		telemetry = val
	})

	return telemetry
}

func splitList(s string) []string {
	var ans []string

	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			ans = append(ans, item)
		}
	}

	return ans
}
