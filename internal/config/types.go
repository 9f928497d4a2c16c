package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Queue    QueueConfig    `json:"queue"`
	Workflow WorkflowConfig `json:"workflow"`
	Database Database       `json:"database"`
	Archive  ArchiveConfig  `json:"archive"`
	Sentry   SentryConfig   `json:"sentry"`
}

type ServerConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type Database struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	Password            string        `json:"password"`
	DatabaseID          int           `json:"database_id"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	DialTimeout         time.Duration `json:"dial_timeout"`
	ReadTimeout         time.Duration `json:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout"`
	PoolSize            int           `json:"pool_size"`
	Nodes               []RedisNode   `json:"nodes"`
}

type RedisNode struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (n RedisNode) Addr() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

type QueueConfig struct {
	Stream           string        `json:"stream"`             // primary dispatch stream
	Group            string        `json:"group"`              // consumer group name
	Consumer         string        `json:"consumer"`           // consumer name; generated when empty
	DeadLetterStream string        `json:"dead_letter_stream"` // terminal store for exhausted messages
	ScheduledSet     string        `json:"scheduled_set"`      // zset holding delayed retries
	MaxRetries       int           `json:"max_retries"`        // retry budget before dead-letter
	BatchSize        int64         `json:"batch_size"`         // messages per XREADGROUP
	MaxLen           int64         `json:"max_len"`            // stream max length before trim
	BlockTimeout     time.Duration `json:"block_timeout"`      // XREADGROUP block timeout
	PumpInterval     time.Duration `json:"pump_interval"`      // scheduled-set promotion interval
}

type WorkflowConfig struct {
	APIBase            string        `json:"api_base"`
	Owner              string        `json:"owner"`
	Repo               string        `json:"repo"`
	Ref                string        `json:"ref"`
	ScreenshotWorkflow string        `json:"screenshot_workflow"`
	ConversionWorkflow string        `json:"conversion_workflow"`
	RequestTimeout     time.Duration `json:"request_timeout"`

	// Token comes from the environment (GITHUB_TOKEN), never from the file.
	Token string `json:"-"`
}

type ArchiveConfig struct {
	AccountID   string `json:"account_id"`
	BucketName  string `json:"bucket_name"`
	AccessKeyID string `json:"access_key_id"`
	SecretKey   string `json:"secret_key"`
	Prefix      string `json:"prefix"`
}

type SentryConfig struct {
	SentryDSN   string `json:"sentry_dsn"`
	Environment string `json:"environment"`
}
