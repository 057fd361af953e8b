package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the self-healing engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Sources     SourcesConfig     `yaml:"sources"`
	Probes      ProbesConfig      `yaml:"probes"`
	Thresholds  ThresholdsConfig  `yaml:"thresholds"`
	Engine      EngineConfig      `yaml:"engine"`
	Remediation RemediationConfig `yaml:"remediation"`
	Storage     StorageConfig     `yaml:"storage"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Logging     LoggingConfig     `yaml:"logging"`
	Rules       RulesConfig       `yaml:"rules"`
	Cache       CacheConfig       `yaml:"cache"`
}

// ServerConfig controls the gRPC control surface and metrics listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// SourcesConfig selects where log lines and metric samples come from.
type SourcesConfig struct {
	Lookback time.Duration    `yaml:"lookback"`
	Timeout  time.Duration    `yaml:"timeout"`
	Docker   DockerConfig     `yaml:"docker"`
	Core     CoreClientConfig `yaml:"core"`
	Host     HostConfig       `yaml:"host"`
}

// DockerConfig reads container logs through the docker CLI.
type DockerConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Binary     string   `yaml:"binary"`
	Containers []string `yaml:"containers"`
}

// CoreClientConfig configures access to a remote log/metric aggregation API.
type CoreClientConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	LogsPath    string        `yaml:"logsPath"`
	MetricsPath string        `yaml:"metricsPath"`
	Services    []string      `yaml:"services"`
	Timeout     time.Duration `yaml:"timeout"`
}

// HostConfig enables /proc based host metrics.
type HostConfig struct {
	Enabled  bool   `yaml:"enabled"`
	ProcRoot string `yaml:"procRoot"`
	DiskPath string `yaml:"diskPath"`
}

// ProbesConfig lists dependency health probes. They share sources.timeout.
type ProbesConfig struct {
	HTTP     []HTTPProbe   `yaml:"http"`
	Database DatabaseProbe `yaml:"database"`
	Cache    CacheProbe    `yaml:"cache"`
}

// HTTPProbe checks an endpoint; any status below 500 counts as healthy.
type HTTPProbe struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Critical bool   `yaml:"critical"`
}

// DatabaseProbe checks Postgres reachability.
type DatabaseProbe struct {
	DSN      string `yaml:"dsn"`
	Critical bool   `yaml:"critical"`
}

// CacheProbe checks Valkey/Redis reachability.
type CacheProbe struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Critical bool   `yaml:"critical"`
}

// ThresholdsConfig decides when collected signals require action.
type ThresholdsConfig struct {
	MaxErrors       int           `yaml:"maxErrors"`
	MaxRecentErrors int           `yaml:"maxRecentErrors"`
	RecentWindow    time.Duration `yaml:"recentWindow"`
	CPUWarning      float64       `yaml:"cpuWarning"`
	CPUCritical     float64       `yaml:"cpuCritical"`
	MemoryWarning   float64       `yaml:"memoryWarning"`
	MemoryCritical  float64       `yaml:"memoryCritical"`
	DiskWarning     float64       `yaml:"diskWarning"`
	DiskCritical    float64       `yaml:"diskCritical"`
}

// EngineConfig controls the coordinator decisions.
type EngineConfig struct {
	AutoApplyThreshold int           `yaml:"autoApplyThreshold"`
	ValidationCooldown time.Duration `yaml:"validationCooldown"`
	ValidationFailAt   int           `yaml:"validationFailAt"`
	AllowSourcePatches bool          `yaml:"allowSourcePatches"`
}

// RemediationConfig points fix builders at the managed application.
type RemediationConfig struct {
	AppRoot           string            `yaml:"appRoot"`
	ContainerRoot     string            `yaml:"containerRoot"`
	SettingsFile      string            `yaml:"settingsFile"`
	MigrationsDir     string            `yaml:"migrationsDir"`
	RequirementsFile  string            `yaml:"requirementsFile"`
	ModelReplacements map[string]string `yaml:"modelReplacements"`
	RestartService    string            `yaml:"restartService"`
	RestartDelay      time.Duration     `yaml:"restartDelay"`
	DockerBinary      string            `yaml:"dockerBinary"`
	CommandTimeout    time.Duration     `yaml:"commandTimeout"`
}

// StorageConfig locates persisted state.
type StorageConfig struct {
	BackupDir      string `yaml:"backupDir"`
	LearningLedger string `yaml:"learningLedger"`
	ReportJournal  string `yaml:"reportJournal"`
}

// ScheduleConfig controls the periodic trigger.
type ScheduleConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	LockTTL  time.Duration `yaml:"lockTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls rule-pack loading for the classifier.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls the Valkey connection used for the distributed run lock.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_SELFHEAL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Sources: SourcesConfig{
			Lookback: 5 * time.Minute,
			Timeout:  30 * time.Second,
			Docker: DockerConfig{
				Binary:     "docker",
				Containers: []string{"product-trend-celery", "product-trend-backend"},
			},
			Core: CoreClientConfig{
				LogsPath:    "/api/v1/logs/lines",
				MetricsPath: "/api/v1/metrics/host",
				Timeout:     5 * time.Second,
			},
			Host: HostConfig{Enabled: true, ProcRoot: "/proc", DiskPath: "/"},
		},
		Thresholds: ThresholdsConfig{
			MaxErrors:       50,
			MaxRecentErrors: 20,
			RecentWindow:    time.Minute,
			CPUWarning:      70,
			CPUCritical:     90,
			MemoryWarning:   70,
			MemoryCritical:  90,
			DiskWarning:     80,
			DiskCritical:    90,
		},
		Engine: EngineConfig{
			AutoApplyThreshold: 80,
			ValidationCooldown: 120 * time.Second,
			ValidationFailAt:   5,
		},
		Remediation: RemediationConfig{
			AppRoot:          ".",
			ContainerRoot:    "/app",
			SettingsFile:     "config/settings.yaml",
			MigrationsDir:    "migrations",
			RequirementsFile: "requirements.txt",
			ModelReplacements: map[string]string{
				"llama3-70b-8192":    "llama-3.3-70b-versatile",
				"llama3-8b-8192":     "llama-3.1-8b-instant",
				"mixtral-8x7b-32768": "llama-3.3-70b-versatile",
				"gemma-7b-it":        "gemma2-9b-it",
			},
			RestartService: "product-trend-celery",
			RestartDelay:   150 * time.Second,
			DockerBinary:   "docker",
			CommandTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			BackupDir:      "data/backups",
			LearningLedger: "data/fix_history.jsonl",
			ReportJournal:  "data/monitoring_reports.jsonl",
		},
		Schedule: ScheduleConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
			LockTTL:  15 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

func (c Config) validate() error {
	if c.Engine.AutoApplyThreshold < 0 || c.Engine.AutoApplyThreshold > 100 {
		return fmt.Errorf("engine.autoApplyThreshold must be within [0,100], got %d", c.Engine.AutoApplyThreshold)
	}
	if c.Engine.ValidationFailAt <= 0 {
		return fmt.Errorf("engine.validationFailAt must be positive")
	}
	if c.Remediation.RestartDelay <= c.Engine.ValidationCooldown {
		return fmt.Errorf("remediation.restartDelay (%s) must outlast engine.validationCooldown (%s)",
			c.Remediation.RestartDelay, c.Engine.ValidationCooldown)
	}
	if c.Storage.BackupDir == "" || c.Storage.LearningLedger == "" {
		return fmt.Errorf("storage.backupDir and storage.learningLedger are required")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_SELFHEAL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_CORE_BASE_URL"); v != "" {
		cfg.Sources.Core.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_DOCKER_ENABLED"); v != "" {
		cfg.Sources.Docker.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_CONTAINERS"); v != "" {
		cfg.Sources.Docker.Containers = splitList(v)
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_LOOKBACK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sources.Lookback = d
		}
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_DATABASE_DSN"); v != "" {
		cfg.Probes.Database.DSN = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_PROBE_CACHE_ADDR"); v != "" {
		cfg.Probes.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_AUTO_APPLY_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.AutoApplyThreshold = n
		}
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_VALIDATION_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.ValidationCooldown = d
		}
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_ALLOW_SOURCE_PATCHES"); v != "" {
		cfg.Engine.AllowSourcePatches = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_APP_ROOT"); v != "" {
		cfg.Remediation.AppRoot = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_RESTART_SERVICE"); v != "" {
		cfg.Remediation.RestartService = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_RESTART_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remediation.RestartDelay = d
		}
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_BACKUP_DIR"); v != "" {
		cfg.Storage.BackupDir = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_LEARNING_LEDGER"); v != "" {
		cfg.Storage.LearningLedger = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_SCHEDULE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Schedule.Interval = d
		}
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_SELFHEAL_CACHE_TLS"); parseBool(v) {
		cfg.Cache.TLS = true
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
