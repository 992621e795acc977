// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when --config is not given; a missing default file is not an error.
const DefaultConfigFile = "target-ldif.yaml"

// Config holds all configuration for the LDIF target.
type Config struct {
	// Entry construction
	DNTemplate          string            `yaml:"dn_template" validate:"required"`
	AttributeMapping    AttributeMapping  `yaml:"attribute_mapping" validate:"required,min=1,dive"`
	StaticObjectClasses []string          `yaml:"static_object_classes" default:"[\"inetOrgPerson\",\"person\"]" validate:"dive,required"`
	ValueTransforms     map[string]string `yaml:"value_transforms" validate:"dive,keys,ldapattr,endkeys,transform"`
	Streams             map[string]Stream `yaml:"streams" validate:"dive"`

	// LDIF formatting
	LineLength            int    `yaml:"line_length" default:"78" validate:"gte=0"`
	ForceBase64           bool   `yaml:"force_base64"`
	StrictASCII           bool   `yaml:"strict_ascii"`
	MaxValueBytes         int    `yaml:"max_value_bytes" validate:"gte=0"`
	IncludeVersion        bool   `yaml:"include_version" default:"true"`
	IncludeTimestamp      bool   `yaml:"include_timestamp" default:"true"`
	IncludeHeaderComment  bool   `yaml:"include_header_comment" default:"true"`
	IncludeTrailerComment bool   `yaml:"include_trailer_comment" default:"true"`
	HeaderComment         string `yaml:"header_comment"`
	BatchFlushCount       int    `yaml:"batch_flush_count" default:"500" validate:"gt=0"`
	BatchFlushBytes       int    `yaml:"batch_flush_bytes" default:"1048576" validate:"gt=0"`

	// Plumbing
	Output       Output  `yaml:"output"`
	Source       Source  `yaml:"source"`
	StreamBuffer int     `yaml:"stream_buffer" default:"256" validate:"gt=0"`
	Log          Log     `yaml:"log"`
	Metrics      Metrics `yaml:"metrics"`
	Quiet        bool    `yaml:"quiet"`

	// Keys accepted for compatibility with Singer target configs.
	OutputPath        string       `yaml:"output_path"`
	FileNamingPattern string       `yaml:"file_naming_pattern"`
	LDIFOptions       *LDIFOptions `yaml:"ldif_options"`
}

// Stream overrides entry construction for one source stream.
type Stream struct {
	DNTemplate          string            `yaml:"dn_template" validate:"omitempty,dntemplate"`
	AttributeMapping    AttributeMapping  `yaml:"attribute_mapping" validate:"omitempty,dive"`
	StaticObjectClasses []string          `yaml:"static_object_classes" validate:"dive,required"`
	ValueTransforms     map[string]string `yaml:"value_transforms" validate:"dive,keys,ldapattr,endkeys,transform"`
}

// LDIFOptions is the nested option block of Singer LDIF target configs.
type LDIFOptions struct {
	LineLength        *int  `yaml:"line_length"`
	Base64Encode      *bool `yaml:"base64_encode"`
	IncludeTimestamps *bool `yaml:"include_timestamps"`
}

// Output selects where LDIF goes.
type Output struct {
	Type              string `yaml:"type" default:"file" validate:"oneof=file stdout s3"`
	Path              string `yaml:"path" default:"./output"`
	FileNamingPattern string `yaml:"file_naming_pattern" default:"{stream_name}_{timestamp}.ldif"`
	S3                S3     `yaml:"s3"`
}

// S3 configures the S3 sink.
type S3 struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix" default:"ldif"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Mode            string `yaml:"mode" default:"stream" validate:"oneof=stream upload"`
	PartSizeMB      int    `yaml:"part_size_mb" default:"10" validate:"gte=5"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// Source selects where records come from.
type Source struct {
	Type       string `yaml:"type" default:"singer" validate:"oneof=singer jsonl mysql"`
	Path       string `yaml:"path"`
	StreamName string `yaml:"stream_name"`
	MySQL      MySQL  `yaml:"mysql"`
}

// MySQL configures the table source.
type MySQL struct {
	Host         string   `yaml:"host"`
	User         string   `yaml:"user"`
	Password     string   `yaml:"password"`
	PasswordFile string   `yaml:"password_file"`
	SecretName   string   `yaml:"secret_name"`
	Region       string   `yaml:"region"`
	Database     string   `yaml:"database"`
	Flavor       string   `yaml:"flavor" default:"mariadb" validate:"oneof=mariadb aws-aurora"`
	Table        string   `yaml:"table"`
	KeyColumn    string   `yaml:"key_column" default:"id"`
	Columns      []string `yaml:"columns"`
	BatchSize    int      `yaml:"batch_size" default:"1000" validate:"gt=0"`
	Timeout      int      `yaml:"timeout" default:"5" validate:"gt=0"`
	TLS          string   `yaml:"tls"`
}

// Log configures the zap logger.
type Log struct {
	Dir     string `yaml:"dir"`
	Name    string `yaml:"name" default:"target-ldif"`
	Debug   bool   `yaml:"debug"`
	Console bool   `yaml:"console" default:"true"`
}

// Metrics configures the Prometheus textfile output.
type Metrics struct {
	Textfile string `yaml:"textfile"`
}

// LoadConfig builds the configuration from, in increasing priority:
// defaults, the config file (YAML or JSON), LDIF_TARGET_* environment
// variables and command line flags.
func LoadConfig(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("target-ldif", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", DefaultConfigFile, "Config file path (YAML or JSON)")
	dnTemplate := fs.String("dn-template", "", "DN template, e.g. uid={uid},ou=people,dc=example,dc=com")
	outputType := fs.String("output-type", "", "Output type: file, stdout or s3")
	outputPath := fs.StringP("output-path", "o", "", "Output directory for file output")
	sourceType := fs.String("source-type", "", "Source type: singer, jsonl or mysql")
	input := fs.StringP("input", "i", "", "Input file (default: stdin)")
	streamName := fs.String("stream-name", "", "Stream name for jsonl and mysql sources")
	lineLength := fs.Int("line-length", 0, "LDIF line folding width")
	forceBase64 := fs.Bool("force-base64", false, "Base64-encode every value")
	s3Bucket := fs.String("s3-bucket", "", "S3 bucket name")
	s3Prefix := fs.String("s3-prefix", "", "S3 key prefix")
	awsRegion := fs.String("aws-region", "", "AWS region")
	mysqlHost := fs.String("mysql-host", "", "MySQL host:port")
	mysqlTable := fs.String("mysql-table", "", "MySQL table to export")
	logDir := fs.String("log-dir", "", "Directory for the JSON log file")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsTextfile := fs.String("metrics-textfile", "", "Write Prometheus metrics to this file")
	quiet := fs.BoolP("quiet", "q", false, "Do not print the run summary")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if *configFile != "" {
		if err := loadFromFile(cfg, *configFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) || fs.Changed("config") {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Flags override only when given.
	if fs.Changed("dn-template") {
		cfg.DNTemplate = *dnTemplate
	}
	if fs.Changed("output-type") {
		cfg.Output.Type = *outputType
	}
	if fs.Changed("output-path") {
		cfg.Output.Path = *outputPath
	}
	if fs.Changed("source-type") {
		cfg.Source.Type = *sourceType
	}
	if fs.Changed("input") {
		cfg.Source.Path = *input
	}
	if fs.Changed("stream-name") {
		cfg.Source.StreamName = *streamName
	}
	if fs.Changed("line-length") {
		cfg.LineLength = *lineLength
	}
	if fs.Changed("force-base64") {
		cfg.ForceBase64 = *forceBase64
	}
	if fs.Changed("s3-bucket") {
		cfg.Output.S3.Bucket = *s3Bucket
	}
	if fs.Changed("s3-prefix") {
		cfg.Output.S3.Prefix = *s3Prefix
	}
	if fs.Changed("aws-region") {
		cfg.Output.S3.Region = *awsRegion
		if cfg.Source.MySQL.Region == "" {
			cfg.Source.MySQL.Region = *awsRegion
		}
	}
	if fs.Changed("mysql-host") {
		cfg.Source.MySQL.Host = *mysqlHost
	}
	if fs.Changed("mysql-table") {
		cfg.Source.MySQL.Table = *mysqlTable
	}
	if fs.Changed("log-dir") {
		cfg.Log.Dir = *logDir
	}
	if fs.Changed("debug") {
		cfg.Log.Debug = *debug
	}
	if fs.Changed("metrics-textfile") {
		cfg.Metrics.Textfile = *metricsTextfile
	}
	if fs.Changed("quiet") {
		cfg.Quiet = *quiet
	}

	cfg.applyCompat()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads a YAML or JSON document over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyCompat()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile decodes a YAML file (JSON is valid YAML) over cfg.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(cfg *Config) error {
	if val := os.Getenv("LDIF_TARGET_DN_TEMPLATE"); val != "" {
		cfg.DNTemplate = val
	}
	if val := os.Getenv("LDIF_TARGET_OUTPUT_TYPE"); val != "" {
		cfg.Output.Type = val
	}
	if val := os.Getenv("LDIF_TARGET_OUTPUT_PATH"); val != "" {
		cfg.Output.Path = val
	}
	if val := os.Getenv("LDIF_TARGET_FILE_NAMING_PATTERN"); val != "" {
		cfg.Output.FileNamingPattern = val
	}
	if val := os.Getenv("LDIF_TARGET_SOURCE_TYPE"); val != "" {
		cfg.Source.Type = val
	}
	if val := os.Getenv("LDIF_TARGET_STREAM_NAME"); val != "" {
		cfg.Source.StreamName = val
	}
	if val := os.Getenv("LDIF_TARGET_S3_BUCKET"); val != "" {
		cfg.Output.S3.Bucket = val
	}
	if val := os.Getenv("LDIF_TARGET_S3_PREFIX"); val != "" {
		cfg.Output.S3.Prefix = val
	}
	if val := os.Getenv("LDIF_TARGET_AWS_REGION"); val != "" {
		cfg.Output.S3.Region = val
	}
	if val := os.Getenv("LDIF_TARGET_MYSQL_HOST"); val != "" {
		cfg.Source.MySQL.Host = val
	}
	if val := os.Getenv("LDIF_TARGET_MYSQL_USER"); val != "" {
		cfg.Source.MySQL.User = val
	}
	if val := os.Getenv("LDIF_TARGET_MYSQL_PASSWORD"); val != "" {
		cfg.Source.MySQL.Password = val
	}
	if val := os.Getenv("LDIF_TARGET_MYSQL_DATABASE"); val != "" {
		cfg.Source.MySQL.Database = val
	}
	if val := os.Getenv("LDIF_TARGET_MYSQL_SECRET"); val != "" {
		cfg.Source.MySQL.SecretName = val
	}
	if val := os.Getenv("LDIF_TARGET_LOG_DIR"); val != "" {
		cfg.Log.Dir = val
	}
	if val := os.Getenv("LDIF_TARGET_METRICS_TEXTFILE"); val != "" {
		cfg.Metrics.Textfile = val
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"LDIF_TARGET_LINE_LENGTH", &cfg.LineLength},
		{"LDIF_TARGET_MAX_VALUE_BYTES", &cfg.MaxValueBytes},
		{"LDIF_TARGET_BATCH_FLUSH_COUNT", &cfg.BatchFlushCount},
		{"LDIF_TARGET_BATCH_FLUSH_BYTES", &cfg.BatchFlushBytes},
		{"LDIF_TARGET_STREAM_BUFFER", &cfg.StreamBuffer},
	}
	for _, e := range ints {
		if val := os.Getenv(e.name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s: %w", e.name, err)
			}
			*e.dst = n
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"LDIF_TARGET_FORCE_BASE64", &cfg.ForceBase64},
		{"LDIF_TARGET_STRICT_ASCII", &cfg.StrictASCII},
		{"LDIF_TARGET_INCLUDE_VERSION", &cfg.IncludeVersion},
		{"LDIF_TARGET_INCLUDE_TIMESTAMP", &cfg.IncludeTimestamp},
		{"LDIF_TARGET_INCLUDE_HEADER_COMMENT", &cfg.IncludeHeaderComment},
		{"LDIF_TARGET_INCLUDE_TRAILER_COMMENT", &cfg.IncludeTrailerComment},
		{"LDIF_TARGET_DEBUG", &cfg.Log.Debug},
		{"LDIF_TARGET_QUIET", &cfg.Quiet},
	}
	for _, e := range bools {
		if val := os.Getenv(e.name); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%s: %w", e.name, err)
			}
			*e.dst = b
		}
	}

	if val := os.Getenv("LDIF_TARGET_STATIC_OBJECT_CLASSES"); val != "" {
		cfg.StaticObjectClasses = splitList(val)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// applyCompat folds the Singer-style top-level keys into their new homes.
func (c *Config) applyCompat() {
	if c.OutputPath != "" {
		c.Output.Path = c.OutputPath
	}
	if c.FileNamingPattern != "" {
		c.Output.FileNamingPattern = c.FileNamingPattern
	}
	if o := c.LDIFOptions; o != nil {
		if o.LineLength != nil {
			c.LineLength = *o.LineLength
		}
		if o.Base64Encode != nil {
			c.ForceBase64 = *o.Base64Encode
		}
		if o.IncludeTimestamps != nil {
			c.IncludeTimestamp = *o.IncludeTimestamps
		}
	}
}

// ForStream returns the entry settings for stream with overrides applied.
func (c *Config) ForStream(stream string) Stream {
	s := Stream{
		DNTemplate:          c.DNTemplate,
		AttributeMapping:    c.AttributeMapping,
		StaticObjectClasses: c.StaticObjectClasses,
		ValueTransforms:     c.ValueTransforms,
	}
	o, ok := c.Streams[stream]
	if !ok {
		return s
	}
	if o.DNTemplate != "" {
		s.DNTemplate = o.DNTemplate
	}
	if len(o.AttributeMapping) > 0 {
		s.AttributeMapping = o.AttributeMapping
	}
	if o.StaticObjectClasses != nil {
		s.StaticObjectClasses = o.StaticObjectClasses
	}
	if o.ValueTransforms != nil {
		s.ValueTransforms = o.ValueTransforms
	}
	return s
}
