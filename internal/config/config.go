// Package config loads the cluster's YAML configuration file and applies
// the System Parameters defaults from spec.md §6.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// NodeCount is the fixed fleet size. RAID-5-style single-parity striping
// with N-1 data members per stripe only makes sense for this exact N; it
// is not a tunable.
const NodeCount = 4

// DataPerStripe is D = N-1, the number of data blocks per stripe.
const DataPerStripe = NodeCount - 1

// NodeEndpoint is one entry of the cluster's fixed node list.
type NodeEndpoint struct {
	ID       int    `yaml:"id"`
	Endpoint string `yaml:"endpoint"`
}

// Config is the coordinator's process-wide configuration, loaded once at
// startup from a YAML file.
type Config struct {
	Nodes []NodeEndpoint `yaml:"nodes"`

	BlockSize            int64 `yaml:"blockSize"`
	MaxFileSize          int64 `yaml:"maxFileSize"`
	MaxNodeStorage       int64 `yaml:"maxNodeStorage"`
	RequestTimeoutSec    int   `yaml:"requestTimeout"`
	MaxRetryAttempts     int   `yaml:"maxRetryAttempts"`
	RetryDelaySec        int   `yaml:"retryDelay"`
	HealthCheckIntervalS int   `yaml:"healthCheckInterval"`
	NodeFailureThreshold int   `yaml:"nodeFailureThreshold"` // minutes
	CompressionEnabled   bool  `yaml:"compressionEnabled"`
	CompressionThreshold int64 `yaml:"compressionThreshold"`

	CatalogPath string `yaml:"catalogPath"`
}

const (
	defaultBlockSize            = 64 * 1024
	minBlockSize                = 1024
	maxBlockSize                = 1024 * 1024
	defaultMaxFileSize          = 100 * 1024 * 1024
	defaultMaxNodeStorage       = 10 * 1024 * 1024 * 1024
	defaultRequestTimeoutSec    = 10
	defaultMaxRetryAttempts     = 3
	defaultRetryDelaySec        = 1
	defaultHealthCheckInterval  = 30
	defaultNodeFailureThreshold = 2
	defaultCompressionThreshold = 8 * 1024
	defaultCatalogPath          = "./data/catalog"
)

// Load reads and validates a YAML config file, filling in defaults for
// any field left unset.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BlockSize == 0 {
		c.BlockSize = defaultBlockSize
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.MaxNodeStorage == 0 {
		c.MaxNodeStorage = defaultMaxNodeStorage
	}
	if c.RequestTimeoutSec == 0 {
		c.RequestTimeoutSec = defaultRequestTimeoutSec
	}
	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = defaultMaxRetryAttempts
	}
	if c.RetryDelaySec == 0 {
		c.RetryDelaySec = defaultRetryDelaySec
	}
	if c.HealthCheckIntervalS == 0 {
		c.HealthCheckIntervalS = defaultHealthCheckInterval
	}
	if c.NodeFailureThreshold == 0 {
		c.NodeFailureThreshold = defaultNodeFailureThreshold
	}
	if c.CompressionThreshold == 0 {
		c.CompressionThreshold = defaultCompressionThreshold
	}
	if c.CatalogPath == "" {
		c.CatalogPath = defaultCatalogPath
	}
}

// Validate enforces spec.md §7's InvalidConfig preconditions: exactly
// NodeCount nodes and a blockSize within the allowed range. It is fatal at
// startup — callers should treat a non-nil error as unrecoverable.
func (c Config) Validate() error {
	if len(c.Nodes) != NodeCount {
		return fmt.Errorf("config: invalid cluster: need exactly %d nodes, got %d", NodeCount, len(c.Nodes))
	}
	seen := make(map[int]bool, NodeCount)
	for _, n := range c.Nodes {
		if n.ID < 1 || n.ID > NodeCount {
			return fmt.Errorf("config: invalid node id %d, must be in [1..%d]", n.ID, NodeCount)
		}
		if seen[n.ID] {
			return fmt.Errorf("config: duplicate node id %d", n.ID)
		}
		seen[n.ID] = true
		if n.Endpoint == "" {
			return fmt.Errorf("config: node %d has an empty endpoint", n.ID)
		}
	}
	if c.BlockSize < minBlockSize || c.BlockSize > maxBlockSize {
		return fmt.Errorf("config: blockSize %d out of range [%d,%d]", c.BlockSize, minBlockSize, maxBlockSize)
	}
	if c.MaxRetryAttempts < 0 {
		return fmt.Errorf("config: maxRetryAttempts must be >= 0")
	}
	if c.RequestTimeoutSec <= 0 {
		return fmt.Errorf("config: requestTimeout must be > 0")
	}
	return nil
}

// RequestTimeout returns the per-operation transport timeout as a Duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// RetryDelay returns the fixed inter-retry wait as a Duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

// HealthCheckInterval returns the Health Monitor's probe interval.
func (c Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalS) * time.Second
}

// NodeFailureWindow returns how long a node may go silent before the
// Health Monitor's staleness check considers it offline.
func (c Config) NodeFailureWindow() time.Duration {
	return time.Duration(c.NodeFailureThreshold) * time.Minute
}
