package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sashko-guz/spacer/internal/storage"
	"github.com/sashko-guz/spacer/internal/storage/drivers"
)

type Config struct {
	StorageConfigPath string
	ModelsBucket      string
	LocalModelPath    string
	TmpPath           string
	LogLevel          string

	AWSRegion   string
	S3BaseURL   string
	S3AccessKey string
	S3SecretKey string

	// HasS3ModelAccess defaults to true when MODELS_BUCKET is set.
	HasS3ModelAccess bool
	// URLFetchTimeout bounds a whole URL transfer. 0 means no limit.
	URLFetchTimeout  time.Duration
	VipsConcurrency  int
}

func Load() *Config {
	modelsBucket := getEnv("MODELS_BUCKET", "")

	return &Config{
		StorageConfigPath: getEnv("STORAGE_CONFIG_PATH", ""),
		ModelsBucket:      modelsBucket,
		LocalModelPath:    getEnv("LOCAL_MODEL_PATH", ""),
		TmpPath:           getEnv("TMP_PATH", os.TempDir()),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		AWSRegion:         getEnv("AWS_REGION", "us-west-2"),
		S3BaseURL:         getEnv("S3_BASE_URL", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		HasS3ModelAccess:  getEnvBool("HAS_S3_MODEL_ACCESS", modelsBucket != ""),
		URLFetchTimeout:   getEnvDurationSeconds("URL_FETCH_TIMEOUT_SECONDS", 0),
		VipsConcurrency:   getEnvInt("VIPS_CONCURRENCY", 0),
	}
}

// HasLocalModelPath reports whether LocalModelPath names an existing directory.
func (c *Config) HasLocalModelPath() bool {
	if c.LocalModelPath == "" {
		return false
	}
	info, err := os.Stat(c.LocalModelPath)
	return err == nil && info.IsDir()
}

// StorageOptions merges the environment with the optional storage file.
// Values from the file win over the environment.
func (c *Config) StorageOptions(file *storage.FileConfig) storage.Options {
	opts := storage.Options{
		TmpDir: c.TmpPath,
		URLHTTP: &drivers.HTTPConfig{
			RequestTimeout: int(c.URLFetchTimeout / time.Second),
		},
	}

	s3cfg := &drivers.S3ClientConfig{
		Region:    c.AWSRegion,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		BaseURL:   c.S3BaseURL,
	}
	enableS3 := c.HasS3ModelAccess || c.S3BaseURL != "" || c.S3AccessKey != ""

	if file != nil && file.S3 != nil {
		enableS3 = true
		if file.S3.Region != "" {
			s3cfg.Region = file.S3.Region
		}
		if file.S3.AccessKey != "" {
			s3cfg.AccessKey = file.S3.AccessKey
		}
		if file.S3.SecretKey != "" {
			s3cfg.SecretKey = file.S3.SecretKey
		}
		if file.S3.BaseURL != "" {
			s3cfg.BaseURL = file.S3.BaseURL
		}
		s3cfg.HTTP = file.S3.HTTP
		opts.S3Cache = file.S3.Cache
	}
	if file != nil && file.URL != nil {
		if file.URL.TmpDir != "" {
			opts.TmpDir = file.URL.TmpDir
		}
		if file.URL.HTTP != nil {
			opts.URLHTTP = file.URL.HTTP
		}
	}

	if enableS3 {
		opts.S3 = s3cfg
	}
	return opts
}

// LoadDotEnv loads the nearest .env file found in the working directory or
// up to four of its parents. Variables already set in the environment win.
// It returns the file used, or "" when there is none.
func LoadDotEnv() (string, error) {
	path := findEnvFile()
	if path == "" {
		return "", nil
	}
	return path, godotenv.Load(path)
}

func findEnvFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for range 5 {
		envPath := filepath.Join(cwd, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}

	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvDurationSeconds accepts 0 so a limit can be switched off.
func getEnvDurationSeconds(key string, defaultSeconds int) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return time.Duration(defaultSeconds) * time.Second
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return time.Duration(defaultSeconds) * time.Second
	}
	return time.Duration(parsed) * time.Second
}
