package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// NodeConfig is the static, advertised description of one remote worker
// node. The registry built from these entries never changes at runtime —
// there is no discovery mechanism for remote nodes, only for the
// dispatcher process itself (see ConsulAddress below).
type NodeConfig struct {
	ID     string  `yaml:"id"`
	Host   string  `yaml:"host"`
	Port   int     `yaml:"port"`
	CPU    float64 `yaml:"cpu_cores"`
	RAM    float64 `yaml:"ram_gb"`
	GPU    float64 `yaml:"gpu_units"`
	Active bool    `yaml:"active"`
}

// LocalResources describes the fog device's own uncommitted capacity,
// the ledger's initial values.
type LocalResources struct {
	CPU float64 `yaml:"cpu_cores"`
	RAM float64 `yaml:"ram_gb"`
	GPU float64 `yaml:"gpu_units"`
}

// Config holds the application configuration for the dispatcher process.
type Config struct {
	Port           string        `yaml:"port"`
	LogLevel       string        `yaml:"log_level"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Consul configuration. This registers the dispatcher process itself
	// for operational discovery; it has nothing to do with the static
	// remote node registry below.
	ConsulAddress       string        `yaml:"consul_address"`
	ServiceName         string        `yaml:"service_name"`
	ServiceIDPrefix     string        `yaml:"service_id_prefix"`
	ServiceTags         []string      `yaml:"service_tags"`
	HealthCheckPath     string        `yaml:"health_check_path"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"`

	// Scheduling engine configuration.
	LocalResources           LocalResources    `yaml:"local_resources"`
	Nodes                    []NodeConfig      `yaml:"nodes"`
	ImageMap                 map[string]string `yaml:"image_map"`
	DefaultImage             string            `yaml:"default_image"`
	MaxConcurrentTasks       int               `yaml:"max_concurrent_tasks"`
	AdmissionQueueCapacity   int               `yaml:"admission_queue_capacity"`
	RemoteDispatchTimeoutPad time.Duration     `yaml:"remote_dispatch_timeout_pad"`

	// Local container execution.
	DockerHost   string `yaml:"docker_host"`
	ScratchDir   string `yaml:"scratch_dir"`
	ContainerTag string `yaml:"container_tag_prefix"`
}

// LoadConfig reads configuration from the given YAML file path.
// It creates a default config file if it doesn't exist.
func LoadConfig(path string) (*Config, error) {
	defaultConfig := &Config{
		Port:                ":8080",
		LogLevel:            "info",
		RequestTimeout:      30 * time.Second,
		ConsulAddress:       "localhost:8500",
		ServiceName:         "fog-dispatcher",
		ServiceIDPrefix:     "fog-dispatcher-",
		ServiceTags:         []string{"fog", "dispatcher"},
		HealthCheckPath:     "/health",
		HealthCheckInterval: 10 * time.Second,
		HealthCheckTimeout:  2 * time.Second,

		LocalResources: LocalResources{CPU: 4, RAM: 8, GPU: 0},
		Nodes:          []NodeConfig{},
		ImageMap: map[string]string{
			"image_processing": "fog/image-processing:latest",
			"text_analysis":    "fog/text-analysis:latest",
			"ml_training":      "fog/ml-training:latest",
		},
		DefaultImage:             "fog/default-runner:latest",
		MaxConcurrentTasks:       8,
		AdmissionQueueCapacity:   1024,
		RemoteDispatchTimeoutPad: 10 * time.Second,

		DockerHost:   "unix:///var/run/docker.sock",
		ScratchDir:   filepath.Join(os.TempDir(), "fog_dispatcher_scratch"),
		ContainerTag: "fog-task-",
	}

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		data, marshalErr := yaml.Marshal(defaultConfig)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", marshalErr)
		}
		if mkdirErr := os.MkdirAll(filepath.Dir(path), 0755); mkdirErr != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", mkdirErr)
		}
		if writeErr := os.WriteFile(path, data, 0644); writeErr != nil {
			return nil, fmt.Errorf("failed to write default config file: %w", writeErr)
		}
		return defaultConfig, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to check config file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	applyDefaultsIfNotSet(&cfg, defaultConfig)

	return &cfg, nil
}

func applyDefaultsIfNotSet(cfg *Config, defaults *Config) {
	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.ConsulAddress == "" {
		cfg.ConsulAddress = defaults.ConsulAddress
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaults.ServiceName
	}
	if cfg.ServiceIDPrefix == "" {
		cfg.ServiceIDPrefix = defaults.ServiceIDPrefix
	}
	if len(cfg.ServiceTags) == 0 {
		cfg.ServiceTags = defaults.ServiceTags
	}
	if cfg.HealthCheckPath == "" {
		cfg.HealthCheckPath = defaults.HealthCheckPath
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if cfg.HealthCheckTimeout == 0 {
		cfg.HealthCheckTimeout = defaults.HealthCheckTimeout
	}
	if len(cfg.ImageMap) == 0 {
		cfg.ImageMap = defaults.ImageMap
	}
	if cfg.DefaultImage == "" {
		cfg.DefaultImage = defaults.DefaultImage
	}
	if cfg.MaxConcurrentTasks == 0 {
		cfg.MaxConcurrentTasks = defaults.MaxConcurrentTasks
	}
	if cfg.AdmissionQueueCapacity == 0 {
		cfg.AdmissionQueueCapacity = defaults.AdmissionQueueCapacity
	}
	if cfg.RemoteDispatchTimeoutPad == 0 {
		cfg.RemoteDispatchTimeoutPad = defaults.RemoteDispatchTimeoutPad
	}
	if cfg.DockerHost == "" {
		cfg.DockerHost = defaults.DockerHost
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = defaults.ScratchDir
	}
	if cfg.ContainerTag == "" {
		cfg.ContainerTag = defaults.ContainerTag
	}
}

// GenerateServiceID returns a unique Consul service instance ID.
func GenerateServiceID(prefix string) string {
	return prefix + uuid.New().String()
}
