// Package config provides functionality for managing configuration options
// for the application using command-line flags, an optional JSON config
// file and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Duration is a time.Duration that reads from JSON as "1h30m" or as a
// number of seconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// Options holds the configuration values for the application.
type Options struct {
	// Address defines the server's listening address (ip:port).
	Address string `json:"address"`
	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string `json:"database_dsn"`
	// Config is the path to the config file.
	Config string `json:"-"`
	// LogLevel is the minimum zap level, e.g. "info".
	LogLevel string `json:"log_level"`

	RedisAddr     string   `json:"redis_addr"`
	RedisPassword string   `json:"redis_password"`
	RedisDB       int      `json:"redis_db"`
	CachePrefix   string   `json:"cache_prefix"`
	CacheTTL      Duration `json:"cache_ttl"`
	CacheTimeout  Duration `json:"cache_timeout"`

	JWTSecret       string   `json:"jwt_secret"`
	TokenTTL        Duration `json:"token_ttl"`
	SecureCookie    bool     `json:"secure_cookie"`
	VerificationTTL Duration `json:"verification_ttl"`

	// FilterSize is the number of counters in the username filter.
	FilterSize int `json:"filter_size"`
	// FilterHashes is the number of hash functions per username.
	FilterHashes int `json:"filter_hashes"`

	BootstrapPageSize   int      `json:"bootstrap_page_size"`
	BootstrapBlocking   bool     `json:"bootstrap_blocking"`
	BootstrapFatal      bool     `json:"bootstrap_fatal"`
	BootstrapMaxElapsed Duration `json:"bootstrap_max_elapsed"`

	EmailVerification bool   `json:"email_verification"`
	PublicBaseURL     string `json:"public_base_url"`
	SMTPHost          string `json:"smtp_host"`
	SMTPPort          int    `json:"smtp_port"`
	SMTPUser          string `json:"smtp_user"`
	SMTPPassword      string `json:"smtp_password"`
	SMTPFrom          string `json:"smtp_from"`

	// UnverifiedRetention is how long unverified accounts are kept. Zero
	// disables the purger.
	UnverifiedRetention Duration `json:"unverified_retention"`
	PurgeInterval       Duration `json:"purge_interval"`
}

// Defaults returns the options used when nothing overrides them.
func Defaults() *Options {
	return &Options{
		Address:             "localhost:8080",
		Config:              "config.json",
		LogLevel:            "info",
		RedisAddr:           "localhost:6379",
		CachePrefix:         "user:",
		CacheTTL:            Duration(3600 * time.Second),
		CacheTimeout:        Duration(200 * time.Millisecond),
		TokenTTL:            Duration(time.Hour),
		VerificationTTL:     Duration(24 * time.Hour),
		FilterSize:          1_000_000,
		FilterHashes:        5,
		BootstrapPageSize:   1000,
		BootstrapBlocking:   true,
		BootstrapFatal:      true,
		BootstrapMaxElapsed: Duration(time.Minute),
		SMTPPort:            587,
		PurgeInterval:       Duration(time.Hour),
	}
}

// Parse parses the command-line flags, the config file and environment
// variables, in that order of increasing precedence. Flags explicitly set
// on the command line win over the config file.
func Parse() (*Options, error) {
	return parse(flag.CommandLine, os.Args[1:], os.Getenv)
}

func parse(fs *flag.FlagSet, args []string, getenv func(string) string) (*Options, error) {
	options := Defaults()

	fs.StringVar(&options.Address, "a", options.Address, "run on ip:port server")
	fs.StringVar(&options.DatabaseDSN, "d", options.DatabaseDSN, "db address")
	fs.StringVar(&options.RedisAddr, "r", options.RedisAddr, "redis address")
	fs.StringVar(&options.JWTSecret, "j", options.JWTSecret, "jwt signing secret")
	fs.StringVar(&options.LogLevel, "l", options.LogLevel, "log level")
	fs.StringVar(&options.Config, "config", options.Config, "path to config file")
	fs.StringVar(&options.Config, "c", options.Config, "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath := getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				return nil, fmt.Errorf("error while reading config file: %w", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
			// command-line flags take precedence over the file
			if err := fs.Parse(args); err != nil {
				return nil, err
			}
		}
	}

	if err := applyEnv(options, getenv); err != nil {
		return nil, err
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	return options, nil
}

func applyEnv(o *Options, getenv func(string) string) error {
	strs := map[string]*string{
		"SERVER_ADDRESS":  &o.Address,
		"DATABASE_DSN":    &o.DatabaseDSN,
		"LOG_LEVEL":       &o.LogLevel,
		"REDIS_ADDR":      &o.RedisAddr,
		"REDIS_PASSWORD":  &o.RedisPassword,
		"CACHE_PREFIX":    &o.CachePrefix,
		"JWT_SECRET":      &o.JWTSecret,
		"PUBLIC_BASE_URL": &o.PublicBaseURL,
		"SMTP_HOST":       &o.SMTPHost,
		"SMTP_USER":       &o.SMTPUser,
		"SMTP_PASSWORD":   &o.SMTPPassword,
		"SMTP_FROM":       &o.SMTPFrom,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REDIS_DB":            &o.RedisDB,
		"FILTER_SIZE":         &o.FilterSize,
		"FILTER_HASHES":       &o.FilterHashes,
		"BOOTSTRAP_PAGE_SIZE": &o.BootstrapPageSize,
		"SMTP_PORT":           &o.SMTPPort,
	}
	for key, dst := range ints {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"SECURE_COOKIE":      &o.SecureCookie,
		"BOOTSTRAP_BLOCKING": &o.BootstrapBlocking,
		"BOOTSTRAP_FATAL":    &o.BootstrapFatal,
		"EMAIL_VERIFICATION": &o.EmailVerification,
	}
	for key, dst := range bools {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*Duration{
		"CACHE_TTL":             &o.CacheTTL,
		"CACHE_TIMEOUT":         &o.CacheTimeout,
		"TOKEN_TTL":             &o.TokenTTL,
		"VERIFICATION_TTL":      &o.VerificationTTL,
		"BOOTSTRAP_MAX_ELAPSED": &o.BootstrapMaxElapsed,
		"UNVERIFIED_RETENTION":  &o.UnverifiedRetention,
		"PURGE_INTERVAL":        &o.PurgeInterval,
	}
	for key, dst := range durations {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = Duration(d)
		}
	}
	return nil
}

// Validate reports options the server cannot start with.
func (o *Options) Validate() error {
	var errs []error
	if o.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if o.JWTSecret == "" {
		errs = append(errs, errors.New("JWT secret is required"))
	}
	if o.FilterSize <= 0 {
		errs = append(errs, errors.New("filter size must be positive"))
	}
	if o.FilterHashes <= 0 {
		errs = append(errs, errors.New("filter hashes must be positive"))
	}
	if o.BootstrapPageSize <= 0 {
		errs = append(errs, errors.New("bootstrap page size must be positive"))
	}
	if o.BootstrapMaxElapsed <= 0 {
		// zero makes the bootstrap retry forever
		errs = append(errs, errors.New("bootstrap max elapsed must be positive"))
	}
	if o.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache TTL must be positive"))
	}
	if o.EmailVerification && o.PublicBaseURL == "" {
		errs = append(errs, errors.New("public base URL is required when email verification is enabled"))
	}
	return errors.Join(errs...)
}
