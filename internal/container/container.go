// Package container wires the sandbox, file services, transfer log and
// caller-facing FileUtil from configuration, and owns their lifecycle.
package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/mailfiles/internal/config"
	"github.com/garyjia/mailfiles/internal/fileutil"
	"github.com/garyjia/mailfiles/internal/lifecycle"
	"github.com/garyjia/mailfiles/internal/repository"
	"github.com/garyjia/mailfiles/internal/storage"
	"github.com/garyjia/mailfiles/internal/transfer"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Initialization is ordered and teardown runs in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure
	database *DatabaseBundle
	storage  *StorageBundle
	viewer   lifecycle.Viewer

	// Application
	services *ServiceBundle
	fileUtil *fileutil.FileUtil

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// SetViewer replaces the platform viewer. Must be called before Start.
func (c *Container) SetViewer(v lifecycle.Viewer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewer = v
}

// Start initializes all components in dependency order:
// 1. Transfer log database
// 2. Sandbox storage
// 3. File and transfer services
// 4. FileUtil
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Step 2: Initialize storage
	if err := c.initStorage(); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Step 3: Initialize services
	if err := c.initServices(); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	// Step 4: Caller-facing operations
	c.fileUtil = fileutil.New(
		c.storage.Resolver,
		c.storage.FolderManager,
		c.services.Metadata,
		c.services.Lifecycle,
		c.services.Transfer,
		c.logger,
	)

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Swap(true) {
		return fmt.Errorf("container already closed")
	}
	c.ready.Store(false)

	c.logger.Info("Closing container")

	if err := c.closeDatabase(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	c.logger.Info("Container closed")
	return nil
}

// Ready returns true if the container is started and not closed.
func (c *Container) Ready() bool {
	return c.ready.Load() && !c.closed.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	switch {
	case c.database == nil:
		status.Components["database"] = ComponentHealth{Healthy: true, Message: "disabled"}
	default:
		if err := c.database.DB.PingContext(ctx); err != nil {
			status.Components["database"] = ComponentHealth{Healthy: false, Message: err.Error()}
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	}

	if c.storage != nil {
		for _, role := range []storage.Role{storage.RoleEncrypted, storage.RoleDecrypted} {
			h := ComponentHealth{Healthy: true}
			if !c.storage.FolderManager.FolderExists(role) {
				// created on first use
				h.Message = "not created yet"
			}
			status.Components[role.String()+"_folder"] = h
		}
	} else {
		status.Components["storage"] = ComponentHealth{Healthy: false, Message: "not initialized"}
	}

	for _, h := range status.Components {
		if !h.Healthy {
			status.Overall = false
		}
	}
	if !c.Ready() {
		status.Overall = false
	}
	return status
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database = bundle
	if bundle != nil {
		c.logger.Info("Database initialized")
	}
	return nil
}

func (c *Container) initStorage() error {
	bundle, err := ProvideStorage(&c.config.Storage, c.logger)
	if err != nil {
		return err
	}
	c.storage = bundle
	c.logger.Info("Storage initialized")
	return nil
}

func (c *Container) initServices() error {
	viewer := c.viewer
	if viewer == nil {
		viewer = lifecycle.NewExecViewer(c.logger)
	}

	var recorder transfer.Recorder
	if c.database != nil {
		recorder = c.database.Transfers
	}

	bundle, err := ProvideServices(&ServiceDeps{
		Transfer: &c.config.Transfer,
		Storage:  c.storage,
		Viewer:   viewer,
		Recorder: recorder,
		Logger:   c.logger,
	})
	if err != nil {
		return err
	}
	c.services = bundle
	c.logger.Info("Application services initialized")
	return nil
}

func (c *Container) closeDatabase() error {
	if c.database == nil {
		return nil
	}
	err := c.database.DB.Close()
	c.database = nil
	return err
}

// FileUtil returns the caller-facing operation set.
func (c *Container) FileUtil() *fileutil.FileUtil {
	return c.fileUtil
}

// TransferLog returns the transfer repository, or nil when the log is disabled.
func (c *Container) TransferLog() *repository.TransferRepository {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.database == nil {
		return nil
	}
	return c.database.Transfers
}

// Storage returns the sandbox components.
func (c *Container) Storage() *StorageBundle {
	return c.storage
}

// Services returns the application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}
