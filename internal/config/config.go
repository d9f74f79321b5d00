package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service   ServiceConfig   `yaml:"service" json:"service"`
	Postgres  PostgresConfig  `yaml:"postgres" json:"postgres"`
	Queue     QueueConfig     `yaml:"queue" json:"queue"`
	Identity  IdentityConfig  `yaml:"identity" json:"identity"`
	Solana    SolanaConfig    `yaml:"solana" json:"solana"`
	Consumer  ConsumerConfig  `yaml:"consumer" json:"consumer"`
	Processor ProcessorConfig `yaml:"processor" json:"processor"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name        string `yaml:"name" json:"name"`
	Env         string `yaml:"env" json:"env"`
	MetricsPort int    `yaml:"metrics_port" json:"metrics_port"`
	OpsPort     int    `yaml:"ops_port" json:"ops_port"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// QueueConfig 消息队列 (SQS) 配置
type QueueConfig struct {
	Region    string     `yaml:"region" json:"region"`
	Endpoint  string     `yaml:"endpoint" json:"endpoint"`
	AccessKey string     `yaml:"access_key" json:"access_key"`
	SecretKey string     `yaml:"secret_key" json:"secret_key"`
	Queues    QueueNames `yaml:"queues" json:"queues"`
	WaitTime  int        `yaml:"wait_time" json:"wait_time"`
}

// QueueNames 各指令类型对应的队列名
type QueueNames struct {
	// Notifications 账本下发的通知队列 (入站)
	Notifications string `yaml:"notifications" json:"notifications"`
	// Transaction 交易创建指令队列 (出站)
	Transaction string `yaml:"transaction" json:"transaction"`
	// StatusUpdate 状态更新指令队列 (出站)
	StatusUpdate string `yaml:"status_update" json:"status_update"`
	// PaymentConfirmation 付款确认指令队列 (出站)
	PaymentConfirmation string `yaml:"payment_confirmation" json:"payment_confirmation"`
	// Correction 更正指令队列 (出站)
	Correction string `yaml:"correction" json:"correction"`
}

// IdentityConfig 身份服务配置
type IdentityConfig struct {
	Host      string `yaml:"host" json:"host"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"`
}

// SolanaConfig Solana 链配置
type SolanaConfig struct {
	RPCURL                 string `yaml:"rpc_url" json:"rpc_url"`
	DistributionPrivateKey string `yaml:"distribution_private_key" json:"distribution_private_key"`
	// Mints 货币代码到 SPL token mint 地址的静态映射
	Mints map[string]string `yaml:"mints" json:"mints"`
	// TokenDecimals SPL token 精度 (EURC/USDC 均为 6)
	TokenDecimals int `yaml:"token_decimals" json:"token_decimals"`
}

// ConsumerConfig 收件箱消费者配置
type ConsumerConfig struct {
	PollInterval int `yaml:"poll_interval" json:"poll_interval"`
	MaxMessages  int `yaml:"max_messages" json:"max_messages"`
}

// ProcessorConfig 交易处理器配置
type ProcessorConfig struct {
	PollInterval int `yaml:"poll_interval" json:"poll_interval"`
	BatchSize    int `yaml:"batch_size" json:"batch_size"`
	// ReapAfter 卡在 processing 状态超过该秒数的消息会被重置为 pending
	ReapAfter int `yaml:"reap_after" json:"reap_after"`
	// MaintenanceSpec cron 表达式, 控制 reaper 与 nonce 清理的执行频率
	MaintenanceSpec string `yaml:"maintenance_spec" json:"maintenance_spec"`
}

// RetryConfig 重发工作器配置
type RetryConfig struct {
	Interval   int `yaml:"interval" json:"interval"`
	BatchLimit int `yaml:"batch_limit" json:"batch_limit"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// 环境变量替换
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	// 设置默认值
	setDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "anchor-solana"
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}
	if cfg.Service.MetricsPort == 0 {
		cfg.Service.MetricsPort = 9091
	}
	if cfg.Service.OpsPort == 0 {
		cfg.Service.OpsPort = 8085
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Queue.WaitTime == 0 {
		cfg.Queue.WaitTime = 10
	}

	if cfg.Identity.TimeoutMs == 0 {
		cfg.Identity.TimeoutMs = 5000
	}

	if cfg.Solana.TokenDecimals == 0 {
		cfg.Solana.TokenDecimals = 6
	}

	if cfg.Consumer.PollInterval == 0 {
		cfg.Consumer.PollInterval = 5
	}
	if cfg.Consumer.MaxMessages == 0 {
		cfg.Consumer.MaxMessages = 10
	}

	if cfg.Processor.PollInterval == 0 {
		cfg.Processor.PollInterval = 5
	}
	if cfg.Processor.BatchSize == 0 {
		cfg.Processor.BatchSize = 10
	}
	if cfg.Processor.ReapAfter == 0 {
		cfg.Processor.ReapAfter = 600
	}
	if cfg.Processor.MaintenanceSpec == "" {
		cfg.Processor.MaintenanceSpec = "@every 5m"
	}

	if cfg.Retry.Interval == 0 {
		cfg.Retry.Interval = 300
	}
	if cfg.Retry.BatchLimit == 0 {
		cfg.Retry.BatchLimit = 100
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
