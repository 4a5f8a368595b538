package app

import (
	"fmt"
	"strings"
)

// Config holds everything an App needs to execute one workflow run.
type Config struct {
	WorkflowPath string
	Event        string
	Ref          string
	Actor        string
	Inputs       map[string]string
	SecretsFile  string
	MaxParallel  int
	AutoApprove  bool
	LogFormat    string
	LogLevel     string
}

// NewConfig validates a Config and fills in defaults.
func NewConfig(c Config) (*Config, error) {
	if c.WorkflowPath == "" {
		return nil, fmt.Errorf("workflow path is required")
	}
	if c.Event == "" {
		c.Event = "workflow_dispatch"
	}
	if c.Ref == "" {
		c.Ref = "refs/heads/main"
	}
	if c.MaxParallel < 0 {
		return nil, fmt.Errorf("max-parallel must not be negative")
	}

	c.LogFormat = strings.ToLower(c.LogFormat)
	switch c.LogFormat {
	case "":
		c.LogFormat = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log-format: must be 'text' or 'json'")
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	switch c.LogLevel {
	case "":
		c.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	return &c, nil
}
