package app

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"github.com/uploadkit/uploadkit/internal/config"
	"github.com/uploadkit/uploadkit/internal/db"
	"github.com/uploadkit/uploadkit/internal/queue"
	"github.com/uploadkit/uploadkit/internal/repository"
	"github.com/uploadkit/uploadkit/internal/storage"
	"github.com/uploadkit/uploadkit/internal/uploader"
)

type App struct {
	Cfg       *config.Config
	DB        *sqlx.DB
	Storage   storage.Storage
	Temporary storage.Storage
	Uploads   repository.UploadRepository
	Uploader  *uploader.Uploader
	Lifecycle *uploader.Lifecycle
	Queue     *queue.Memory
	Resolvers *uploader.ResolverRegistry
}

func New(cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	// Storage
	fileStorage, err := newStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %v", err)
	}
	tmpStorage := storage.NewLocal(afero.NewOsFs(), storage.LocalConfig{
		Root: cfg.TemporaryRoot,
	})

	// Repositories. The upload repository resolves disks lazily so it can
	// cascade hard deletes to storage before the uploader exists.
	disks := map[string]storage.Storage{}
	uploads := repository.NewUploadRepository(database, func(tag string) storage.Storage {
		if tag == "" {
			return fileStorage
		}
		return disks[tag]
	})
	owners := repository.NewOwnerRows(database)

	// Uploader
	up := uploader.New(uploader.Config{
		DB:        database,
		Uploads:   uploads,
		Storage:   fileStorage,
		Temporary: tmpStorage,
		Disks:     disks,
		Owners:    owners,
		Defaults:  uploader.DefaultOptions(cfg),
	})

	// Queue
	resolvers := uploader.NewResolverRegistry()
	q := queue.NewMemory(up, tmpStorage, resolvers, cfg.QueueBuffer)

	return &App{
		Cfg:       cfg,
		DB:        database,
		Storage:   fileStorage,
		Temporary: tmpStorage,
		Uploads:   uploads,
		Uploader:  up,
		Lifecycle: uploader.NewLifecycle(up, q),
		Queue:     q,
		Resolvers: resolvers,
	}, nil
}

func newStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case "s3":
		return storage.NewS3(storage.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Endpoint:  cfg.S3Endpoint,
		})
	case "local", "":
		return storage.NewLocal(afero.NewOsFs(), storage.LocalConfig{
			Root:          cfg.LocalRoot,
			PublicURL:     cfg.PublicURL,
			SignedURLPath: cfg.TemporaryURLPath,
			SigningSecret: cfg.SigningSecret,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
