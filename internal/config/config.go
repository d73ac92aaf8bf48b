// Package config reads the service configuration from the environment and
// an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"

	"github.com/stefando/partupload/internal/upload"
)

// MaxSinglePutBytes is the largest object a single put request may store.
const MaxSinglePutBytes int64 = 5 * 1024 * 1024 * 1024

// Config holds everything read once at process start.
type Config struct {
	ListenAddr string

	BucketName string
	Region     string
	AccessKey  string
	SecretKey  string

	// Endpoint points the client at an S3-compatible store and switches to
	// path-style addressing
	Endpoint      string
	AssumeRoleARN string

	PartSize           int64
	MultipartThreshold int64
	Concurrency        int
	VerifyParts        bool

	KeyPrefix           string
	DatePartitionedKeys bool

	UploadTimeout time.Duration
	MaxUploadSize int64
	UploadRetries uint
	RetryWait     time.Duration

	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("PART_SIZE", upload.DefaultPartSize)
	v.SetDefault("MULTIPART_THRESHOLD", "")
	v.SetDefault("UPLOAD_CONCURRENCY", 5)
	v.SetDefault("VERIFY_PARTS", false)
	v.SetDefault("KEY_PREFIX", "")
	v.SetDefault("DATE_PARTITIONED_KEYS", false)
	v.SetDefault("UPLOAD_TIMEOUT", "10m")
	v.SetDefault("MAX_UPLOAD_SIZE", "5GiB")
	v.SetDefault("UPLOAD_RETRIES", 0)
	v.SetDefault("RETRY_WAIT", "1s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	// Keys without a default must still be known to AutomaticEnv lookups
	for _, key := range []string{"BUCKET_NAME", "ACCESS_KEY", "SECRET_KEY", "S3_ENDPOINT", "ASSUME_ROLE_ARN"} {
		v.SetDefault(key, "")
	}
}

// Load reads the configuration from the environment. When CONFIG_FILE is
// set, the file it names is read first and environment variables override it.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ListenAddr:          v.GetString("LISTEN_ADDR"),
		BucketName:          v.GetString("BUCKET_NAME"),
		Region:              v.GetString("AWS_REGION"),
		AccessKey:           v.GetString("ACCESS_KEY"),
		SecretKey:           v.GetString("SECRET_KEY"),
		Endpoint:            v.GetString("S3_ENDPOINT"),
		AssumeRoleARN:       v.GetString("ASSUME_ROLE_ARN"),
		Concurrency:         v.GetInt("UPLOAD_CONCURRENCY"),
		VerifyParts:         v.GetBool("VERIFY_PARTS"),
		KeyPrefix:           v.GetString("KEY_PREFIX"),
		DatePartitionedKeys: v.GetBool("DATE_PARTITIONED_KEYS"),
		UploadRetries:       v.GetUint("UPLOAD_RETRIES"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
	}

	var err error
	if cfg.PartSize, err = parseSize(v, "PART_SIZE"); err != nil {
		return nil, err
	}
	if cfg.MaxUploadSize, err = parseSize(v, "MAX_UPLOAD_SIZE"); err != nil {
		return nil, err
	}
	cfg.MultipartThreshold = cfg.PartSize
	if v.GetString("MULTIPART_THRESHOLD") != "" {
		if cfg.MultipartThreshold, err = parseSize(v, "MULTIPART_THRESHOLD"); err != nil {
			return nil, err
		}
	}
	if cfg.UploadTimeout, err = parseDuration(v, "UPLOAD_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.RetryWait, err = parseDuration(v, "RETRY_WAIT"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseSize accepts plain byte counts as well as human sizes like "5MiB"
// or "8mb". Both units are interpreted as powers of 1024.
func parseSize(v *viper.Viper, key string) (int64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	size, err := units.RAMInBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return size, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

// Validate checks the configuration against the store's limits.
func (c *Config) Validate() error {
	var errs []error
	if c.BucketName == "" {
		errs = append(errs, errors.New("BUCKET_NAME environment variable is required"))
	}
	if c.PartSize < upload.MinPartSize {
		errs = append(errs, fmt.Errorf("PART_SIZE %s is below the %s store minimum",
			units.BytesSize(float64(c.PartSize)), units.BytesSize(float64(upload.MinPartSize))))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("UPLOAD_CONCURRENCY must be at least 1, got %d", c.Concurrency))
	}
	if c.MultipartThreshold < 0 || c.MultipartThreshold > MaxSinglePutBytes {
		errs = append(errs, fmt.Errorf("MULTIPART_THRESHOLD must be between 0 and %s",
			units.BytesSize(float64(MaxSinglePutBytes))))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_SIZE must be positive"))
	}
	if c.UploadTimeout <= 0 {
		errs = append(errs, errors.New("UPLOAD_TIMEOUT must be positive"))
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		errs = append(errs, errors.New("ACCESS_KEY and SECRET_KEY must be set together"))
	}
	return errors.Join(errs...)
}
