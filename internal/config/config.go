package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/livefeed/internal/domain"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	MinRefreshInterval     = 5 * time.Second
	DefaultFetchTimeout    = 10 * time.Second
	minDefaultMaxBackoff   = 5 * time.Minute

	// requestTimeoutMargin is added to the fetch timeout so a request that
	// waits on the first refresh is not cut before the fetch gives up.
	requestTimeoutMargin = 2 * time.Second
)

type Config struct {
	FeedURL         string        // http(s) URL or local file path
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	RefreshInterval time.Duration // base interval between refreshes
	StaleAfter      time.Duration // older snapshots are served with 503
	FetchTimeout    time.Duration
	MaxBackoff      time.Duration // ceiling for the retry delay after failures

	StaticDir string // map assets served at / (empty = disabled)

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Redis snapshot mirror, disabled when RedisAddr is empty
	RedisAddr           string
	RedisUser           string
	RedisPassword       string
	RedisDB             int
	RedisDT             time.Duration // dial timeout
	RedisRT             time.Duration // read timeout
	RedisWT             time.Duration // write timeout
	RedisPoolSize       int
	RedisConnectTimeout time.Duration // total time to retry connecting at startup
	RedisRetryInterval  time.Duration // initial wait between retries, grows exponentially
	RedisMaxWait        time.Duration // max wait between retries
	RedisPingTimeout    time.Duration
	SnapshotTTL         time.Duration // lifetime of the mirrored snapshot

	AllowedHosts []string // optional, restrict admin endpoints to these Host headers
	AllowedCIDRS []string // optional, restrict readyz/reload to these IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers
}

// RedisEnabled reports whether the snapshot mirror is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// RequestTimeout bounds non-streaming HTTP requests.
func (c *Config) RequestTimeout() time.Duration { return c.FetchTimeout + requestTimeoutMargin }

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	r := *c
	if r.RedisPassword != "" {
		r.RedisPassword = "***REDACTED***"
	}
	if u, err := url.Parse(r.FeedURL); err == nil && u.User != nil {
		r.FeedURL = u.Redacted()
	}
	return r
}

// settings is the raw, file- and env-shaped configuration. Intervals are
// milliseconds; 0 means "use the default".
type settings struct {
	FeedURL           string        `yaml:"feed_url" validate:"required,feedurl"`
	ListenPort        string        `yaml:"listen_port" validate:"required"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	RefreshIntervalMs int64         `yaml:"refresh_interval_ms" validate:"gte=0"`
	StaleAfterMs      int64         `yaml:"stale_after_ms" validate:"gte=0"`
	FetchTimeoutMs    int64         `yaml:"fetch_timeout_ms" validate:"gte=0"`
	MaxBackoffMs      int64         `yaml:"max_backoff_ms" validate:"gte=0"`
	StaticDir         string        `yaml:"static_dir"`
	LogLevel          string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	PrettyLog         bool          `yaml:"pretty_log"`
	AllowedHosts      []string      `yaml:"allowed_hosts"`
	AllowedCIDRS      []string      `yaml:"allowed_cidrs" validate:"dive,cidr|ip"`
	TrustProxy        bool          `yaml:"trust_proxy"`
	Redis             redisSettings `yaml:"redis"`
}

type redisSettings struct {
	Addr           string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db" validate:"gte=0"`
	DialTimeout    time.Duration `yaml:"dial_timeout" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"gt=0"`
	PoolSize       int           `yaml:"pool_size" validate:"gt=0"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
	RetryInterval  time.Duration `yaml:"retry_interval" validate:"gt=0"`
	MaxWait        time.Duration `yaml:"max_wait" validate:"gt=0"`
	PingTimeout    time.Duration `yaml:"ping_timeout" validate:"gt=0"`
	SnapshotTTL    time.Duration `yaml:"snapshot_ttl" validate:"gt=0"`
}

func defaults() settings {
	return settings{
		ListenPort:      ":8080",
		ShutdownTimeout: 5 * time.Second,
		StaticDir:       "./public",
		LogLevel:        "info",
		PrettyLog:       true,
		Redis: redisSettings{
			Username:       "default",
			DialTimeout:    5 * time.Second,
			ReadTimeout:    3 * time.Second,
			WriteTimeout:   3 * time.Second,
			PoolSize:       10,
			ConnectTimeout: 10 * time.Second,
			RetryInterval:  500 * time.Millisecond,
			MaxWait:        5 * time.Second,
			PingTimeout:    2 * time.Second,
			SnapshotTTL:    24 * time.Hour,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by LIVEFEED_CONFIG_FILE, and LIVEFEED_* environment variables, in that
// order of precedence (env wins). Any invalid value is a
// *domain.ConfigurationError.
func Load() (*Config, error) {
	s := defaults()

	if path := os.Getenv("LIVEFEED_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &s); err != nil {
			return nil, err
		}
	}

	e := &envReader{}
	e.str("LIVEFEED_FEED_URL", &s.FeedURL)
	e.str("LIVEFEED_LISTEN_PORT", &s.ListenPort)
	e.duration("LIVEFEED_SHUTDOWN_TIMEOUT", &s.ShutdownTimeout)
	e.int64("LIVEFEED_REFRESH_INTERVAL_MS", &s.RefreshIntervalMs)
	e.int64("LIVEFEED_STALE_AFTER_MS", &s.StaleAfterMs)
	e.int64("LIVEFEED_FETCH_TIMEOUT_MS", &s.FetchTimeoutMs)
	e.int64("LIVEFEED_MAX_BACKOFF_MS", &s.MaxBackoffMs)
	e.str("LIVEFEED_STATIC_DIR", &s.StaticDir)
	e.str("LIVEFEED_LOG_LEVEL", &s.LogLevel)
	e.bool("LIVEFEED_PRETTY_LOG", &s.PrettyLog)
	e.list("LIVEFEED_ALLOWED_HOSTS", &s.AllowedHosts)
	e.list("LIVEFEED_ALLOWED_CIDRS", &s.AllowedCIDRS)
	e.bool("LIVEFEED_TRUST_PROXY", &s.TrustProxy)

	e.str("LIVEFEED_REDIS_ADDR", &s.Redis.Addr)
	e.str("LIVEFEED_REDIS_USERNAME", &s.Redis.Username)
	e.str("LIVEFEED_REDIS_PASSWORD", &s.Redis.Password)
	e.int("LIVEFEED_REDIS_DB", &s.Redis.DB)
	e.duration("LIVEFEED_REDIS_DIAL_TIMEOUT", &s.Redis.DialTimeout)
	e.duration("LIVEFEED_REDIS_READ_TIMEOUT", &s.Redis.ReadTimeout)
	e.duration("LIVEFEED_REDIS_WRITE_TIMEOUT", &s.Redis.WriteTimeout)
	e.int("LIVEFEED_REDIS_POOL_SIZE", &s.Redis.PoolSize)
	e.duration("LIVEFEED_REDIS_CONNECT_TIMEOUT", &s.Redis.ConnectTimeout)
	e.duration("LIVEFEED_REDIS_RETRY_INTERVAL", &s.Redis.RetryInterval)
	e.duration("LIVEFEED_REDIS_MAX_WAIT", &s.Redis.MaxWait)
	e.duration("LIVEFEED_REDIS_PING_TIMEOUT", &s.Redis.PingTimeout)
	e.duration("LIVEFEED_REDIS_SNAPSHOT_TTL", &s.Redis.SnapshotTTL)
	if e.err != nil {
		return nil, e.err
	}

	s.ListenPort = normalizeListenPort(s.ListenPort)
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))

	if err := validate(s); err != nil {
		return nil, err
	}

	return build(s), nil
}

func loadFile(path string, s *settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &domain.ConfigurationError{Field: "LIVEFEED_CONFIG_FILE", Reason: err.Error()}
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return &domain.ConfigurationError{Field: "LIVEFEED_CONFIG_FILE", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	return nil
}

var validate = newValidator()

func newValidator() func(settings) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("feedurl", func(fl validator.FieldLevel) bool {
		return validFeedURL(fl.Field().String())
	})

	return func(s settings) error {
		err := v.Struct(s)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field, _ := strings.CutPrefix(fe.Namespace(), "settings.")
			return &domain.ConfigurationError{Field: field, Reason: describe(fe)}
		}
		if err != nil {
			return &domain.ConfigurationError{Field: "config", Reason: err.Error()}
		}
		return nil
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "feedurl":
		return fmt.Sprintf("%q is neither an http(s) URL nor a file path", fe.Value())
	case "oneof":
		return fmt.Sprintf("%v must be one of: %s", fe.Value(), fe.Param())
	case "cidr|ip":
		return fmt.Sprintf("%v is neither an IP nor a CIDR", fe.Value())
	case "gte", "gt":
		return fmt.Sprintf("%v must be %s %s", fe.Value(), fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%v fails %s", fe.Value(), fe.Tag())
	}
}

func validFeedURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		return err == nil && u.Host != ""
	}
	return strings.TrimPrefix(s, "file://") != ""
}

// build applies defaults and clamps. The staleness default and its floor
// are independent: an explicit value below 2x the interval is raised to
// 2x, an unset one becomes 4x.
func build(s settings) *Config {
	interval := ms(s.RefreshIntervalMs)
	if interval == 0 {
		interval = DefaultRefreshInterval
	}
	interval = max(interval, MinRefreshInterval)

	staleAfter := ms(s.StaleAfterMs)
	if staleAfter == 0 {
		staleAfter = 4 * interval
	}
	staleAfter = max(staleAfter, 2*interval)

	fetchTimeout := ms(s.FetchTimeoutMs)
	if fetchTimeout == 0 {
		fetchTimeout = DefaultFetchTimeout
	}

	maxBackoff := ms(s.MaxBackoffMs)
	if maxBackoff <= interval {
		maxBackoff = max(8*interval, minDefaultMaxBackoff)
	}

	shutdown := s.ShutdownTimeout
	if shutdown == 0 {
		shutdown = 5 * time.Second
	}

	return &Config{
		FeedURL:         strings.TrimSpace(s.FeedURL),
		ListenPort:      s.ListenPort,
		ShutdownTimeout: shutdown,

		RefreshInterval: interval,
		StaleAfter:      staleAfter,
		FetchTimeout:    fetchTimeout,
		MaxBackoff:      maxBackoff,

		StaticDir: s.StaticDir,
		LogLevel:  s.LogLevel,
		PrettyLog: s.PrettyLog,

		RedisAddr:           s.Redis.Addr,
		RedisUser:           s.Redis.Username,
		RedisPassword:       s.Redis.Password,
		RedisDB:             s.Redis.DB,
		RedisDT:             s.Redis.DialTimeout,
		RedisRT:             s.Redis.ReadTimeout,
		RedisWT:             s.Redis.WriteTimeout,
		RedisPoolSize:       s.Redis.PoolSize,
		RedisConnectTimeout: s.Redis.ConnectTimeout,
		RedisRetryInterval:  s.Redis.RetryInterval,
		RedisMaxWait:        s.Redis.MaxWait,
		RedisPingTimeout:    s.Redis.PingTimeout,
		SnapshotTTL:         s.Redis.SnapshotTTL,

		AllowedHosts: s.AllowedHosts,
		AllowedCIDRS: s.AllowedCIDRS,
		TrustProxy:   s.TrustProxy,
	}
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

// normalizeListenPort accepts "8080" as well as ":8080" or "host:8080".
func normalizeListenPort(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}
	if _, err := strconv.Atoi(p); err == nil {
		return ":" + p
	}
	return p
}

// envReader overrides settings from the environment and keeps the first
// parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != "" && e.err == nil
}

func (e *envReader) fail(key, v, expected string) {
	e.err = &domain.ConfigurationError{Field: key, Reason: fmt.Sprintf("%q is not a valid %s", v, expected)}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, "integer")
			return
		}
		*dst = i
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, "integer")
			return
		}
		*dst = i
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, "boolean")
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, "duration")
			return
		}
		*dst = d
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.lookup(key); ok {
		*dst = splitAndTrim(v)
	}
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
