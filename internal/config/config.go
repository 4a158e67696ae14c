package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sendgrab/sendgrab/internal/failure"
	"github.com/sendgrab/sendgrab/internal/links"
)

const envPrefix = "SENDGRAB"

// Config holds all application configuration.
type Config struct {
	Host      string `mapstructure:"host"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`

	Dest        string        `mapstructure:"dest"`
	Verbose     bool          `mapstructure:"verbose"`
	Workers     int           `mapstructure:"workers"`
	Retries     int           `mapstructure:"retries"`
	KeepGoing   bool          `mapstructure:"keep_going"`
	Timeout     time.Duration `mapstructure:"timeout"`
	LogFile     string        `mapstructure:"log_file"`
	MetricsFile string        `mapstructure:"metrics_file"`
	Report      string        `mapstructure:"report"`

	Link   string `mapstructure:"link"`
	Text   string `mapstructure:"text"`
	Input  string `mapstructure:"input"`
	Format string `mapstructure:"format"`

	Logging LoggingConfig `mapstructure:"logging"`

	// Args are the positional arguments left after flag parsing.
	Args []string `mapstructure:"-"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Host:    EmbeddedHost,
		Workers: 1,
		Timeout: 30 * time.Minute,
		Format:  string(links.FormatAuto),
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// NewFlagSet declares every command-line flag.
func NewFlagSet() *pflag.FlagSet {
	d := Default()
	flags := pflag.NewFlagSet("sendgrab", pflag.ContinueOnError)
	flags.SortFlags = false
	// The caller prints usage; pflag would otherwise print it on every parse error.
	flags.Usage = func() {}

	flags.String("host", d.Host, "service host, e.g. acme.sendsafely.com")
	flags.String("api-key", "", "API key")
	flags.String("api-secret", "", "API secret")
	flags.StringP("dest", "d", "", "destination directory (default: current directory)")
	flags.String("link", "", "a single package link")
	flags.String("text", "", "free text containing package links")
	flags.StringP("input", "i", "", "file with free text containing package links, - for stdin")
	flags.String("format", d.Format, "input format: auto, text or html")
	flags.Int("workers", d.Workers, "files downloaded concurrently")
	flags.Int("retries", 0, "retries for failed file transfers")
	flags.Bool("keep-going", false, "continue with the remaining links after a failure")
	flags.Duration("timeout", d.Timeout, "timeout for a single HTTP request")
	flags.BoolP("verbose", "v", false, "log progress and skipped files")
	flags.String("config", "", "path to config file")
	flags.String("log-file", "", "also write logs to this file, rotated")
	flags.String("metrics-file", "", "write Prometheus metrics to this file")
	flags.String("report", "", "write a YAML run report to this file")

	return flags
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"host":         "host",
	"api-key":      "api_key",
	"api-secret":   "api_secret",
	"dest":         "dest",
	"link":         "link",
	"text":         "text",
	"input":        "input",
	"format":       "format",
	"workers":      "workers",
	"retries":      "retries",
	"keep-going":   "keep_going",
	"timeout":      "timeout",
	"verbose":      "verbose",
	"log-file":     "log_file",
	"metrics-file": "metrics_file",
	"report":       "report",
}

// LoadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load parses args and merges them with the config file and environment.
// Priority: flags > environment variables > config file > defaults
func Load(args []string) (*Config, error) {
	flags := NewFlagSet()
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, failure.New(failure.Argument, "parse flags", err)
	}
	return FromFlags(flags)
}

// FromFlags builds the configuration from an already parsed flag set.
func FromFlags(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	configPath, _ := flags.GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sendgrab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/sendgrab")
	}

	// Environment variable settings
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, failure.New(failure.Argument, "read config file", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, failure.New(failure.Argument, "unmarshal config", err)
	}

	cfg.applyArgs(flags.Args())

	if cfg.Dest == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, failure.New(failure.Filesystem, "resolve destination", err)
		}
		cfg.Dest = wd
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	d := Default()

	// Credentials
	v.SetDefault("host", d.Host)
	v.SetDefault("api_key", "")
	v.SetDefault("api_secret", "")

	// Run behaviour
	v.SetDefault("dest", "")
	v.SetDefault("verbose", false)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("retries", 0)
	v.SetDefault("keep_going", false)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("log_file", "")
	v.SetDefault("metrics_file", "")
	v.SetDefault("report", "")

	// Input
	v.SetDefault("link", "")
	v.SetDefault("text", "")
	v.SetDefault("input", "")
	v.SetDefault("format", d.Format)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// applyArgs interprets positional arguments. Four arguments whose last one is
// a package link are read as HOST KEY SECRET LINK; anything else is free text.
func (c *Config) applyArgs(args []string) {
	c.Args = args
	if len(args) == 0 || c.Link != "" || c.Text != "" || c.Input != "" {
		return
	}

	if isLegacyForm(args) {
		c.Host, c.APIKey, c.APISecret = args[0], args[1], args[2]
		c.Link = args[3]
		return
	}
	c.Text = strings.Join(args, " ")
}

func isLegacyForm(args []string) bool {
	if len(args) != 4 || !strings.Contains(args[3], "#") {
		return false
	}
	for _, a := range args[:3] {
		if a == "" || strings.ContainsAny(a, "# \t\n") {
			return false
		}
	}
	return true
}

// Validate checks the configuration before any network call.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Host) == "" {
		missing = append(missing, "host")
	}
	if c.APIKey == "" {
		missing = append(missing, "api key")
	}
	if c.APISecret == "" {
		missing = append(missing, "api secret")
	}
	if len(missing) > 0 {
		return failure.Newf(failure.Argument, "validate config", "%w: %s", failure.ErrMissingCredentials, strings.Join(missing, ", "))
	}

	sources := 0
	for _, s := range []string{c.Link, c.Text, c.Input} {
		if s != "" {
			sources++
		}
	}
	if sources > 1 {
		return failure.Newf(failure.Argument, "validate config", "--link, --text and --input are mutually exclusive")
	}

	if _, ok := links.ParseFormat(c.Format); !ok {
		return failure.Newf(failure.Argument, "validate config", "unknown format %q", c.Format)
	}
	if c.Workers < 1 {
		return failure.Newf(failure.Argument, "validate config", "workers must be at least 1, got %d", c.Workers)
	}
	if c.Retries < 0 {
		return failure.Newf(failure.Argument, "validate config", "retries must not be negative, got %d", c.Retries)
	}
	if c.Timeout <= 0 {
		return failure.Newf(failure.Argument, "validate config", "timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// LogLevel returns the effective log level: debug when verbose, otherwise the
// configured level.
func (c *Config) LogLevel() string {
	if c.Verbose {
		return "debug"
	}
	return c.Logging.Level
}
