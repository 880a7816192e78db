package config

import (
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory = "memory"
	DriverMySQL  = "mysql"
)

const (
	defaultLogPath         = "log/limsflow.log"
	defaultLogLevel        = "info"
	defaultLogMaxAge       = 7
	defaultLogRotationTime = 6
	defaultLogRotationSize = 100
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// 环境变量覆盖项
const (
	EnvLogPath         = "LIMSFLOW_LOG_PATH"
	EnvLogLevel        = "LIMSFLOW_LOG_LEVEL"
	EnvLogConsole      = "LIMSFLOW_LOG_CONSOLE"
	EnvStoreDriver     = "LIMSFLOW_STORE_DRIVER"
	EnvMySQLDSN        = "LIMSFLOW_MYSQL_DSN"
	EnvWorkflowsFile   = "LIMSFLOW_WORKFLOWS_FILE"
	EnvEnforceRoles    = "LIMSFLOW_ENFORCE_ROLES"
	EnvTracingEnabled  = "LIMSFLOW_TRACING_ENABLED"
	EnvMetricsDisabled = "LIMSFLOW_METRICS_DISABLED"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LogConfig 日志切割配置, 单位与 wlogging.LogConfig 一致
type LogConfig struct {
	Path         string `yaml:"path"`
	Level        string `yaml:"level"`
	MaxAge       int    `yaml:"maxAge"`       // 天
	RotationTime int    `yaml:"rotationTime"` // 小时
	RotationSize int64  `yaml:"rotationSize"` // MB
	Console      bool   `yaml:"console"`
}

type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

type WorkflowConfig struct {
	// DefinitionsFile 为空时使用内置流程
	DefinitionsFile string `yaml:"definitionsFile"`
	// EnforceRoles 审批人必须持有当前级别的角色
	EnforceRoles bool `yaml:"enforceRoles"`
	// RoleAssignments 审批人 -> 角色, EnforceRoles 打开时使用
	RoleAssignments map[string][]string `yaml:"roleAssignments"`
}

type TracingConfig struct {
	Enabled     bool `yaml:"enabled"`
	PrettyPrint bool `yaml:"prettyPrint"`
}

type MetricsConfig struct {
	Disabled bool `yaml:"disabled"`
}

// Default 默认配置: 未指定存储驱动, 内置流程. 驱动在 Load 中按是否配置了 DSN 确定.
func Default() Config {
	return Config{
		Log: LogConfig{
			Path:         defaultLogPath,
			Level:        defaultLogLevel,
			MaxAge:       defaultLogMaxAge,
			RotationTime: defaultLogRotationTime,
			RotationSize: defaultLogRotationSize,
			Console:      true,
		},
		Store: StoreConfig{
			MaxOpenConns:    defaultMaxOpenConns,
			MaxIdleConns:    defaultMaxIdleConns,
			ConnMaxLifetime: defaultConnMaxLifetime,
		},
	}
}

// Load 依次应用默认值, 配置文件 (path 非空时), .env 与环境变量
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Wrap(err, "load .env")
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.resolveDriver()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvLogPath); v != "" {
		c.Log.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvStoreDriver); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv(EnvMySQLDSN); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv(EnvWorkflowsFile); v != "" {
		c.Workflow.DefinitionsFile = v
	}
	bools := []struct {
		key    string
		target *bool
	}{
		{EnvLogConsole, &c.Log.Console},
		{EnvEnforceRoles, &c.Workflow.EnforceRoles},
		{EnvTracingEnabled, &c.Tracing.Enabled},
		{EnvMetricsDisabled, &c.Metrics.Disabled},
	}
	for _, b := range bools {
		v := os.Getenv(b.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", b.key)
		}
		*b.target = parsed
	}
	return nil
}

// resolveDriver 未指定驱动时, 配置了 DSN 就使用 MySQL, 否则使用内存存储
func (c *Config) resolveDriver() {
	if c.Store.Driver != "" {
		return
	}
	if c.Store.DSN != "" {
		c.Store.Driver = DriverMySQL
		return
	}
	c.Store.Driver = DriverMemory
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverMySQL:
		if c.Store.DSN == "" {
			return errors.Errorf("store.dsn is required for driver %q", DriverMySQL)
		}
	default:
		return errors.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Log.Path == "" {
		return errors.New("log.path is required")
	}
	if c.Log.MaxAge <= 0 || c.Log.RotationTime <= 0 {
		return errors.New("log.maxAge and log.rotationTime must be positive")
	}
	return nil
}
