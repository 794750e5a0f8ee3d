// Package config holds the manager's tunables (spec §6) as a plain struct
// loaded from an optional YAML file and overridable by CLI flags, the way
// cmd/taskforge-manager wires cobra flags over a config.Config.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every named tunable from spec §6. Durations are written in
// YAML as Go duration strings ("30s", "2m") and decoded into
// time.Duration; a bare number is not accepted for them.
type Config struct {
	KeepaliveInterval   time.Duration `yaml:"keepalive_interval"`
	KeepaliveTimeout    time.Duration `yaml:"keepalive_timeout"`
	ShortTimeout        time.Duration `yaml:"short_timeout"`
	LongTimeout         time.Duration `yaml:"long_timeout"`
	MinTransferTimeout  time.Duration `yaml:"min_transfer_timeout"`
	ForemanTransferTimeout time.Duration `yaml:"foreman_transfer_timeout"`

	DefaultTransferRate  int64   `yaml:"default_transfer_rate"` // bytes/sec
	TransferOutlierFactor float64 `yaml:"transfer_outlier_factor"`
	BandwidthLimit       int64   `yaml:"bandwidth_limit"` // bytes/sec, 0 = unlimited

	ResourceSubmitMultiplier float64 `yaml:"resource_submit_multiplier"`
	HungryMinimum            int     `yaml:"hungry_minimum"`
	WaitForWorkers            int     `yaml:"wait_for_workers"`

	FastAbortMultiplier     float64       `yaml:"fast_abort_multiplier"`
	FastAbortBlockTimeout   time.Duration `yaml:"fast_abort_block_timeout"`
	ProportionalResources   bool    `yaml:"proportional_resources"`
	ProportionalWholeTasks  bool    `yaml:"proportional_whole_tasks"`
	CategorySteadyNTasks    int     `yaml:"category_steady_n_tasks"`

	AttemptScheduleDepth  int `yaml:"attempt_schedule_depth"`
	TempReplicaCount      int `yaml:"temp_replica_count"`
	WorkerSourceMaxTransfers int `yaml:"worker_source_max_transfers"`
	FileSourceMaxTransfers   int `yaml:"file_source_max_transfers"`

	CatalogUpdateInterval time.Duration `yaml:"catalog_update_interval"`
	CatalogHosts          []string      `yaml:"catalog_hosts"`
	ProjectName           string        `yaml:"project_name"`

	StdoutCapBytes int `yaml:"stdout_cap_bytes"`

	QueueLogPath string `yaml:"queue_log_path"`
	TxnLogPath   string `yaml:"txn_log_path"`

	// WorkDir is the local root each retrieved task's outputs are staged
	// under, one subdirectory per task id.
	WorkDir string `yaml:"work_dir"`

	Password string `yaml:"password"`
	KeyFile  string `yaml:"key_file"`
	CertFile string `yaml:"cert_file"`
}

// Default returns the tunables at their documented defaults, loosely
// following cctools' work_queue defaults.
func Default() *Config {
	return &Config{
		KeepaliveInterval:       120 * time.Second,
		KeepaliveTimeout:        30 * time.Second,
		ShortTimeout:            5 * time.Second,
		LongTimeout:             60 * time.Second,
		MinTransferTimeout:      10 * time.Second,
		ForemanTransferTimeout:  60 * time.Second,
		DefaultTransferRate:     1 << 20, // 1 MiB/s
		TransferOutlierFactor:   10,
		BandwidthLimit:          0,
		ResourceSubmitMultiplier: 1.0,
		HungryMinimum:           10,
		WaitForWorkers:          0,
		FastAbortMultiplier:     0, // disabled by default
		FastAbortBlockTimeout:   10 * time.Minute,
		ProportionalResources:   true,
		ProportionalWholeTasks:  false,
		CategorySteadyNTasks:    25,
		AttemptScheduleDepth:    10,
		TempReplicaCount:        1,
		WorkerSourceMaxTransfers: 1,
		FileSourceMaxTransfers:   3,
		CatalogUpdateInterval:   5 * time.Minute,
		StdoutCapBytes:          1 << 20, // 1 MiB
		WorkDir:                 "./taskforge-data",
	}
}

// Load reads a YAML tunables file over the defaults. A missing path is
// not an error — the manager simply runs with Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
