// Package config loads ETL settings from an optional YAML file, an optional
// .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissing marks a required setting that is not set.
var ErrMissing = errors.New("missing required setting")

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
	Parser   ParserConfig   `yaml:"parser"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
	AWS      AWSConfig      `yaml:"aws"`
}

type DatabaseConfig struct {
	Driver        string `yaml:"driver"` // mysql, postgres, sqlite3
	DSN           string `yaml:"dsn"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	PasswordParam string `yaml:"password_param"` // SSM SecureString name
	Host          string `yaml:"host"`
	Name          string `yaml:"name"`
	SSLMode       string `yaml:"sslmode"`
	Table         string `yaml:"table"`
	CreateTable   bool   `yaml:"create_table"`
}

type SourceConfig struct {
	Store      string `yaml:"store"` // s3 or minio
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	Suffix     string `yaml:"suffix"`
	KeyPattern string `yaml:"key_pattern"`
	Endpoint   string `yaml:"endpoint"`
	UseSSL     bool   `yaml:"use_ssl"`
}

type ParserConfig struct {
	Timezone string `yaml:"timezone"`
}

// ArchiveConfig is off unless Bucket is set. Table turns on partition repair.
type ArchiveConfig struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	GlueDatabase string `yaml:"glue_database"`
	Table        string `yaml:"table"`
	Workgroup    string `yaml:"workgroup"`
	Output       string `yaml:"output"`
}

type LedgerConfig struct {
	Table   string `yaml:"table"`
	TTLDays int    `yaml:"ttl_days"`
}

type NotifyConfig struct {
	TopicArn string `yaml:"topic_arn"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

func Default() Config {
	return Config{
		Database: DatabaseConfig{Driver: "mysql", Table: "elb_log_data", CreateTable: true},
		Source:   SourceConfig{Store: "s3", Suffix: ".gz", UseSSL: true},
		Parser:   ParserConfig{Timezone: "America/New_York"},
		Archive:  ArchiveConfig{Prefix: "elb_logs/", Workgroup: "primary"},
		Metrics:  MetricsConfig{Job: "elb_etl"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads and validates the configuration. Call LoadDotEnv first to pick
// up a .env file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read applies defaults, then the YAML file at path (if any), then the
// environment. It does not validate.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads .env style files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	// an empty file leaves the defaults
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := []struct {
		dst *string
		key string
	}{
		{&c.Database.Driver, "DB_DRIVER"},
		{&c.Database.DSN, "DB_DSN"},
		{&c.Database.User, "DB_USER"},
		{&c.Database.Password, "DB_PASS"},
		{&c.Database.PasswordParam, "DB_PASS_PARAM"},
		{&c.Database.Host, "DB_HOST"},
		{&c.Database.Name, "DB_NAME"},
		{&c.Database.SSLMode, "DB_SSLMODE"},
		{&c.Database.Table, "DB_TABLE"},
		{&c.Source.Store, "OBJECT_STORE"},
		{&c.Source.Bucket, "S3_BUCKET"},
		{&c.Source.Prefix, "S3_PREFIX"},
		{&c.Source.Suffix, "S3_SUFFIX"},
		{&c.Source.KeyPattern, "S3_KEY_PATTERN"},
		{&c.Source.Endpoint, "S3_ENDPOINT"},
		{&c.Parser.Timezone, "ETL_TIMEZONE"},
		{&c.Archive.Bucket, "ARCHIVE_BUCKET"},
		{&c.Archive.Prefix, "ARCHIVE_PREFIX"},
		{&c.Archive.GlueDatabase, "GLUE_DATABASE"},
		{&c.Archive.Table, "ATHENA_TABLE"},
		{&c.Archive.Workgroup, "ATHENA_WORKGROUP"},
		{&c.Archive.Output, "ATHENA_OUTPUT"},
		{&c.Ledger.Table, "RUN_LEDGER_TABLE"},
		{&c.Notify.TopicArn, "RUN_TOPIC_ARN"},
		{&c.Metrics.PushgatewayURL, "PUSHGATEWAY_URL"},
		{&c.Metrics.Job, "METRICS_JOB"},
		{&c.Log.Level, "LOG_LEVEL"},
		{&c.Log.Format, "LOG_FORMAT"},
		{&c.AWS.Region, "AWS_REGION"},
		{&c.AWS.Region, "AWS_DEFAULT_REGION"},
		{&c.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID"},
		{&c.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY"},
	}
	for _, s := range strs {
		if v := getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	var errs []error
	for _, b := range []struct {
		dst *bool
		key string
	}{
		{&c.Database.CreateTable, "DB_CREATE_TABLE"},
		{&c.Source.UseSSL, "S3_USE_SSL"},
	} {
		if v := getenv(b.key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", b.key, err))
				continue
			}
			*b.dst = parsed
		}
	}
	if v := getenv("RUN_LEDGER_TTL_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RUN_LEDGER_TTL_DAYS: %w", err))
		} else {
			c.Ledger.TTLDays = n
		}
	}
	return errors.Join(errs...)
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Validate reports every invalid or missing setting at once.
func (c *Config) Validate() error { return c.validate(true) }

// ValidateEventDriven is Validate for runs whose bucket comes from an S3 event.
func (c *Config) ValidateEventDriven() error { return c.validate(false) }

func (c *Config) validate(needBucket bool) error {
	var errs []error
	missing := func(name string) { errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, name)) }

	if needBucket && c.Source.Bucket == "" {
		missing("S3_BUCKET")
	}
	switch c.Source.Store {
	case "s3":
	case "minio":
		if c.Source.Endpoint == "" {
			missing("S3_ENDPOINT")
		}
	default:
		errs = append(errs, fmt.Errorf("OBJECT_STORE: unsupported store %q", c.Source.Store))
	}

	if c.Database.DSN == "" {
		switch strings.ToLower(c.Database.Driver) {
		case "sqlite", "sqlite3":
			if c.Database.Name == "" {
				missing("DB_NAME")
			}
		default:
			for _, kv := range [][2]string{
				{c.Database.User, "DB_USER"},
				{c.Database.Host, "DB_HOST"},
				{c.Database.Name, "DB_NAME"},
			} {
				if kv[0] == "" {
					missing(kv[1])
				}
			}
		}
	}

	if c.Archive.Table != "" {
		if c.Archive.Bucket == "" {
			missing("ARCHIVE_BUCKET")
		}
		if c.Archive.GlueDatabase == "" {
			missing("GLUE_DATABASE")
		}
		if !strings.HasPrefix(c.Archive.Output, "s3://") {
			errs = append(errs, fmt.Errorf("ATHENA_OUTPUT must start with s3://"))
		}
	}
	if c.Ledger.TTLDays < 0 {
		errs = append(errs, fmt.Errorf("RUN_LEDGER_TTL_DAYS must not be negative"))
	}
	return errors.Join(errs...)
}
