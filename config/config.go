package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Shared holds the configuration keys every role (Master, Node, Client) reads
// in common, mirroring the enumerated configuration in the system design.
type Shared struct {
	MasterHost        string        `mapstructure:"master_host"`
	MasterPort        int           `mapstructure:"master_port"`
	NodePortsStart    int           `mapstructure:"node_ports_start"`
	BlockSize         int64         `mapstructure:"block_size"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	NodeTimeout       time.Duration `mapstructure:"node_timeout"`
	StorageRoot       string        `mapstructure:"storage_root"`
	LogLevel          string        `mapstructure:"log_level"`
	Env               string        `mapstructure:"env"`
	ChunkCompression  bool          `mapstructure:"chunk_compression"`
}

// MasterConfig is the configuration read by cmd/master.
type MasterConfig struct {
	Shared         `mapstructure:",squash"`
	MetadataPath   string `mapstructure:"metadata_path"`
	FailureTickMS  int    `mapstructure:"failure_tick_ms"`
}

// NodeConfig is the configuration read by cmd/node.
type NodeConfig struct {
	Shared   `mapstructure:",squash"`
	NodeID   string `mapstructure:"node_id"`
	NodeHost string `mapstructure:"node_host"`
	NodePort int    `mapstructure:"node_port"`
}

// ClientConfig is the configuration read by cmd/client.
type ClientConfig struct {
	Shared `mapstructure:",squash"`
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("DFS")
	v.AutomaticEnv()

	v.SetDefault("master_host", "127.0.0.1")
	v.SetDefault("master_port", 5000)
	v.SetDefault("node_ports_start", 6000)
	v.SetDefault("block_size", 1<<20) // 1 MiB
	v.SetDefault("replication_factor", 2)
	v.SetDefault("heartbeat_interval", 2*time.Second)
	v.SetDefault("node_timeout", 6*time.Second)
	v.SetDefault("storage_root", "dfs_storage")
	v.SetDefault("log_level", "info")
	v.SetDefault("env", "development")
	v.SetDefault("chunk_compression", true)
	v.SetDefault("metadata_path", "dfs_metadata.json")
	v.SetDefault("failure_tick_ms", 1000)
	v.SetDefault("node_id", "")
	v.SetDefault("node_host", "127.0.0.1")
	v.SetDefault("node_port", 0)

	return v
}

// readInto reads the config file (if present — absence is not fatal, the
// defaults and environment stand in for it) and unmarshals into out.
func readInto(configPath string, out interface{}) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	return nil
}

func LoadMaster(configPath string) (*MasterConfig, error) {
	cfg := &MasterConfig{}
	if err := readInto(configPath, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadNode(configPath string) (*NodeConfig, error) {
	cfg := &NodeConfig{}
	if err := readInto(configPath, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadClient(configPath string) (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := readInto(configPath, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MasterAddr returns the "host:port" the Master listens/dials on.
func (s Shared) MasterAddr() string {
	return fmt.Sprintf("%s:%d", s.MasterHost, s.MasterPort)
}
