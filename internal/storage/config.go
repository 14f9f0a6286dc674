package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sashko-guz/spacer/internal/storage/drivers"
	"gopkg.in/yaml.v3"
)

// FileConfig is the optional storage configuration file, in JSON or YAML:
//
//	{
//	  "s3": {
//	    "region": "us-west-2",
//	    "base_url": "http://minio:9000",
//	    "access_key": "...", "secret_key": "...",
//	    "http": {"connect_timeout_sec": 5},
//	    "cache": {
//	      "memory": {"enabled": true, "max_size_mb": 256},
//	      "disk": {"enabled": true, "dir": "/var/cache/spacer", "ttl_seconds": 3600}
//	    }
//	  },
//	  "url": {"tmp_dir": "/tmp/spacer", "http": {"request_timeout_sec": 120}}
//	}
type FileConfig struct {
	S3  *S3FileConfig  `json:"s3,omitempty" yaml:"s3,omitempty"`
	URL *URLFileConfig `json:"url,omitempty" yaml:"url,omitempty"`
}

type S3FileConfig struct {
	Region    string              `json:"region,omitempty" yaml:"region,omitempty"`
	AccessKey string              `json:"access_key,omitempty" yaml:"access_key,omitempty"`
	SecretKey string              `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`
	BaseURL   string              `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	HTTP      *drivers.HTTPConfig `json:"http,omitempty" yaml:"http,omitempty"`
	Cache     *CacheConfig        `json:"cache,omitempty" yaml:"cache,omitempty"`
}

type URLFileConfig struct {
	TmpDir string              `json:"tmp_dir,omitempty" yaml:"tmp_dir,omitempty"`
	HTTP   *drivers.HTTPConfig `json:"http,omitempty" yaml:"http,omitempty"`
}

// CacheConfig enables the read-through layers in front of S3 loads.
// The disk layer is required whenever the memory layer is enabled.
type CacheConfig struct {
	Memory *MemoryCacheOptions `json:"memory,omitempty" yaml:"memory,omitempty"`
	Disk   *DiskCacheOptions   `json:"disk,omitempty" yaml:"disk,omitempty"`
}

type MemoryCacheOptions struct {
	Enabled   *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MaxSizeMB int   `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxItems  int   `json:"max_items,omitempty" yaml:"max_items,omitempty"`
}

type DiskCacheOptions struct {
	Enabled        *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Dir            string `json:"dir,omitempty" yaml:"dir,omitempty"`
	TTLSeconds     int    `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
	MaxSizeMB      int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"` // 0 = unlimited
	ClearOnStartup *bool  `json:"clear_on_startup,omitempty" yaml:"clear_on_startup,omitempty"`
}

func (c *CacheConfig) memoryEnabled() bool {
	return c != nil && c.Memory != nil && c.Memory.Enabled != nil && *c.Memory.Enabled
}

func (c *CacheConfig) diskEnabled() bool {
	return c != nil && c.Disk != nil && c.Disk.Enabled != nil && *c.Disk.Enabled
}

// LoadFileConfig reads a storage config. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON. An empty path yields an empty config.
func LoadFileConfig(path string) (*FileConfig, error) {
	if path == "" {
		return &FileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage config: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse storage config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse storage config JSON: %w", err)
		}
	}
	return &cfg, nil
}
