package config

import (
	"encoding/json"
	"os"
	"time"
)

// Create new config instance
func NewConfig() *Config {
	return &Config{}
}

// Load configuration file in json format, then apply environment
// overrides for secrets and fill defaults.
func (c *Config) Read(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	c.overrideFromEnv()
	c.applyDefaults()
	return nil
}

// Secrets never live in the config file.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.Workflow.Token = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("R2_ACCESS_KEY_ID"); v != "" {
		c.Archive.AccessKeyID = v
	}
	if v := os.Getenv("R2_SECRET_ACCESS_KEY"); v != "" {
		c.Archive.SecretKey = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		c.Sentry.SentryDSN = v
	}
}

func (c *Config) applyDefaults() {
	if c.Queue.Stream == "" {
		c.Queue.Stream = "dispatchhub:queue"
	}
	if c.Queue.Group == "" {
		c.Queue.Group = "dispatchhub"
	}
	if c.Queue.DeadLetterStream == "" {
		c.Queue.DeadLetterStream = "dispatchhub:dlq"
	}
	if c.Queue.ScheduledSet == "" {
		c.Queue.ScheduledSet = "dispatchhub:scheduled"
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = 10
	}
	if c.Queue.BlockTimeout <= 0 {
		c.Queue.BlockTimeout = 5 * time.Second
	}
	if c.Queue.PumpInterval <= 0 {
		c.Queue.PumpInterval = time.Second
	}

	if c.Workflow.APIBase == "" {
		c.Workflow.APIBase = "https://api.github.com"
	}
	if c.Workflow.Ref == "" {
		c.Workflow.Ref = "main"
	}
	if c.Workflow.ScreenshotWorkflow == "" {
		c.Workflow.ScreenshotWorkflow = "screenshot-capture.yml"
	}
	if c.Workflow.ConversionWorkflow == "" {
		c.Workflow.ConversionWorkflow = "image-conversion.yml"
	}
	if c.Workflow.RequestTimeout <= 0 {
		c.Workflow.RequestTimeout = 30 * time.Second
	}

	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "dead-letters"
	}
}
