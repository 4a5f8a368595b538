// Package app wires the engine together for the CLI: logger, workflow
// document, secret store, event stream, and the run itself.
package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/flowgrid/internal/sandbox"
	"github.com/vk/flowgrid/internal/secrets"
	"github.com/vk/flowgrid/internal/workflow"
)

// ExitError is an error carrying a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	workflow *workflow.Workflow
	secrets  secrets.Resolver
	// sandbox overrides the local sandbox when set; tests use this.
	sandbox sandbox.Sandbox
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App with its own isolated logger, the workflow document
// loaded, and the secret store read.
func NewApp(outW io.Writer, config *Config) (*App, error) {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	w, err := workflow.Load(config.WorkflowPath)
	if err != nil {
		return nil, fmt.Errorf("loading workflow: %w", err)
	}
	logger.Debug("Workflow loaded.", "path", config.WorkflowPath, "jobs", len(w.Jobs))

	store, err := loadSecrets(config.SecretsFile)
	if err != nil {
		return nil, err
	}

	return &App{
		outW:     outW,
		logger:   logger,
		config:   config,
		workflow: w,
		secrets:  store,
	}, nil
}

// Workflow returns the loaded workflow document. This is primarily for
// testing.
func (a *App) Workflow() *workflow.Workflow {
	return a.workflow
}
