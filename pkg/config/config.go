package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Manager holds manager-side configuration
type Manager struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	MetricsAddr      string `yaml:"metrics_addr"`
	DBPath           string `yaml:"db_path"`
	OutputDir        string `yaml:"output_dir"`
	HeartbeatTimeout int    `yaml:"heartbeat_timeout"` // seconds
	SessionTimeout   int    `yaml:"session_timeout"`   // seconds, socket read deadline
	StartingCredits  int    `yaml:"starting_credits"`
	MinJobCost       int    `yaml:"min_job_cost"`
	MaxJobRetries    int    `yaml:"max_job_retries"` // re-queue budget for orphaned jobs
}

// Worker holds worker-side configuration
type Worker struct {
	ManagerHost       string `yaml:"manager_host"`
	ManagerPort       int    `yaml:"manager_port"`
	Name              string `yaml:"name"`
	OwnerToken        string `yaml:"owner_token"`
	HeartbeatInterval int    `yaml:"heartbeat_interval"` // seconds
	MaxJobTimeout     int    `yaml:"max_job_timeout"`    // seconds, clamp applied to dispatched jobs
	UseDocker         bool   `yaml:"use_docker"`
	DockerImage       string `yaml:"docker_image"`
	DockerMemoryMB    int    `yaml:"docker_memory_mb"`
}

// Config is the root configuration for both roles
type Config struct {
	Manager  Manager `yaml:"manager"`
	Worker   Worker  `yaml:"worker"`
	LogLevel string  `yaml:"log_level"`
	LogJSON  bool    `yaml:"log_json"`
}

// Default returns the configuration with all documented defaults applied
func Default() *Config {
	return &Config{
		Manager: Manager{
			Host:             "0.0.0.0",
			Port:             9999,
			MetricsAddr:      "127.0.0.1:9090",
			DBPath:           "campus_compute.db",
			OutputDir:        "job_outputs",
			HeartbeatTimeout: 60,
			SessionTimeout:   120,
			StartingCredits:  100,
			MinJobCost:       5,
			MaxJobRetries:    3,
		},
		Worker: Worker{
			ManagerHost:       "localhost",
			ManagerPort:       9999,
			Name:              fmt.Sprintf("worker-%d", os.Getpid()),
			OwnerToken:        "",
			HeartbeatInterval: 30,
			MaxJobTimeout:     600,
			UseDocker:         true,
			DockerImage:       "python:3.11-slim",
			DockerMemoryMB:    1024,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file on top of the defaults, then applies
// environment overrides. A missing file is not an error; env always wins.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr(&c.Manager.Host, "MANAGER_HOST")
	envInt(&c.Manager.Port, "MANAGER_PORT")
	envStr(&c.Manager.DBPath, "DB_PATH")
	envInt(&c.Manager.HeartbeatTimeout, "HEARTBEAT_TIMEOUT")
	envInt(&c.Manager.StartingCredits, "STARTING_CREDITS")
	envInt(&c.Manager.MinJobCost, "MIN_JOB_COST")

	envStr(&c.Worker.ManagerHost, "MANAGER_HOST")
	envInt(&c.Worker.ManagerPort, "MANAGER_PORT")
	envStr(&c.Worker.Name, "WORKER_NAME")
	envStr(&c.Worker.OwnerToken, "OWNER_TOKEN")
	envInt(&c.Worker.MaxJobTimeout, "MAX_JOB_TIMEOUT")
	envBool(&c.Worker.UseDocker, "USE_DOCKER")
	envStr(&c.Worker.DockerImage, "DOCKER_IMAGE")

	envStr(&c.LogLevel, "LOG_LEVEL")
}

// HeartbeatTimeoutDuration returns the manager heartbeat timeout
func (m Manager) HeartbeatTimeoutDuration() time.Duration {
	return time.Duration(m.HeartbeatTimeout) * time.Second
}

// SessionTimeoutDuration returns the per-session socket read deadline
func (m Manager) SessionTimeoutDuration() time.Duration {
	return time.Duration(m.SessionTimeout) * time.Second
}

// HeartbeatIntervalDuration returns the worker heartbeat cadence
func (w Worker) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(w.HeartbeatInterval) * time.Second
}

// ManagerAddr returns the host:port the worker dials
func (w Worker) ManagerAddr() string {
	return fmt.Sprintf("%s:%d", w.ManagerHost, w.ManagerPort)
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
