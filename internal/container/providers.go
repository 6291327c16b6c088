package container

import (
	"fmt"

	"github.com/garyjia/mailfiles/internal/config"
	"github.com/garyjia/mailfiles/internal/lifecycle"
	"github.com/garyjia/mailfiles/internal/metadata"
	"github.com/garyjia/mailfiles/internal/repository"
	"github.com/garyjia/mailfiles/internal/storage"
	"github.com/garyjia/mailfiles/internal/transfer"
	"github.com/garyjia/mailfiles/pkg/database"
	"go.uber.org/zap"
)

// DatabaseBundle holds the transfer log connection and repository.
type DatabaseBundle struct {
	DB        *database.DB
	Transfers *repository.TransferRepository
}

// StorageBundle holds the sandbox components.
type StorageBundle struct {
	Resolver      *storage.PathResolver
	FolderManager *storage.FolderManager
	FileStorage   *storage.FileStorage
}

// ServiceBundle groups the file and transfer services.
type ServiceBundle struct {
	Metadata  *metadata.Service
	Lifecycle *lifecycle.Service
	Transfer  *transfer.Service
}

// ProvideDatabase opens the transfer log and runs pending migrations.
// It returns nil when the database path is empty.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if cfg.Path == "" {
		logger.Info("Transfer log disabled")
		return nil, nil
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		BusyTimeout:     cfg.BusyTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if _, err := database.NewMigrator(db, logger).RunMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:        db,
		Transfers: repository.NewTransferRepository(db.DB, logger),
	}, nil
}

// ProvideStorage validates the sandbox layout and builds the folder and file
// components. Folders are created lazily on first use.
func ProvideStorage(cfg *config.StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}

	resolver, err := storage.NewPathResolver(storage.Layout{
		Root:         cfg.SandboxRoot,
		EncryptedDir: cfg.EncryptedDir,
		DecryptedDir: cfg.DecryptedDir,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Sandbox configured",
		zap.String("root", resolver.Root()),
		zap.String("encrypted", resolver.FolderPath(storage.RoleEncrypted)),
		zap.String("decrypted", resolver.FolderPath(storage.RoleDecrypted)))

	return &StorageBundle{
		Resolver:      resolver,
		FolderManager: storage.NewFolderManager(resolver, logger),
		FileStorage:   storage.NewFileStorage(logger),
	}, nil
}

// ServiceDeps holds dependencies for ProvideServices.
type ServiceDeps struct {
	Transfer *config.TransferConfig
	Storage  *StorageBundle
	Viewer   lifecycle.Viewer
	Recorder transfer.Recorder
	Logger   *zap.Logger
}

// ProvideServices builds the metadata, lifecycle and transfer services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Storage == nil || deps.Transfer == nil {
		return nil, fmt.Errorf("service dependencies are incomplete")
	}

	meta := metadata.NewService(deps.Logger)
	life := lifecycle.NewService(deps.Viewer, meta, deps.Storage.FileStorage, deps.Logger)

	transfers := transfer.NewService(
		transfer.NewHTTPClient(deps.Transfer.Timeout),
		deps.Storage.FolderManager,
		deps.Storage.FileStorage,
		transfer.Config{
			UploadMethod: deps.Transfer.UploadMethod,
			UserAgent:    deps.Transfer.UserAgent,
		},
		deps.Logger,
	)
	if deps.Recorder != nil {
		transfers.SetRecorder(deps.Recorder)
	}

	return &ServiceBundle{
		Metadata:  meta,
		Lifecycle: life,
		Transfer:  transfers,
	}, nil
}
