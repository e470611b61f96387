package sqlmodel

import (
	"context"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/wrogo/wro/assets"
	"github.com/wrogo/wro/pkg/logger"
)

// MigrationConfig selects the database and the target schema version.
// A zero TargetVersion migrates to the latest version.
type MigrationConfig struct {
	Engine        string
	URI           string
	Username      string
	Password      string
	TargetVersion uint
	Timeout       time.Duration
	Logger        logger.Logger
}

func dialect(engine string) (goose.Dialect, error) {
	switch engine {
	case EngineSqlite:
		return goose.DialectSQLite3, nil
	case EnginePostgres:
		return goose.DialectPostgres, nil
	case EngineMySQL:
		return goose.DialectMySQL, nil
	default:
		return "", fmt.Errorf("%w '%s'", ErrUnsupportedEngine, engine)
	}
}

func newProvider(ctx context.Context, cfg MigrationConfig) (*goose.Provider, func() error, error) {
	d, err := dialect(cfg.Engine)
	if err != nil {
		return nil, nil, err
	}

	db, err := open(ctx, Config{
		Engine:         cfg.Engine,
		URI:            cfg.URI,
		Username:       cfg.Username,
		Password:       cfg.Password,
		ConnectTimeout: cfg.Timeout,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, nil, err
	}

	migrationsFS, err := assets.Migrations(cfg.Engine)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to create %s migrations filesystem: %w", cfg.Engine, err)
	}

	provider, err := goose.NewProvider(d, db, migrationsFS)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to create goose provider: %w", err)
	}
	return provider, db.Close, nil
}

// Migrate brings the schema to cfg.TargetVersion.
func Migrate(ctx context.Context, cfg MigrationConfig) error {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}

	provider, closeDB, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeDB()
	}()

	currentVersion, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get %s db version: %w", cfg.Engine, err)
	}
	log.Info("current schema version", zap.String("engine", cfg.Engine), zap.Int64("version", currentVersion))

	if cfg.TargetVersion == 0 {
		if _, err := provider.Up(ctx); err != nil {
			return fmt.Errorf("failed to run %s migrations: %w", cfg.Engine, err)
		}
		log.Info("migration done", zap.String("engine", cfg.Engine))
		return nil
	}

	target := int64(cfg.TargetVersion)
	switch {
	case target < currentVersion:
		if _, err := provider.DownTo(ctx, target); err != nil {
			return fmt.Errorf("failed to run %s migrations down to %v: %w", cfg.Engine, target, err)
		}
	case target > currentVersion:
		if _, err := provider.UpTo(ctx, target); err != nil {
			return fmt.Errorf("failed to run %s migrations up to %v: %w", cfg.Engine, target, err)
		}
	default:
		log.Info("nothing to do", zap.String("engine", cfg.Engine))
		return nil
	}

	log.Info("migration done", zap.String("engine", cfg.Engine))
	return nil
}

// CurrentVersion returns the schema version of the database.
func CurrentVersion(ctx context.Context, cfg MigrationConfig) (int64, error) {
	provider, closeDB, err := newProvider(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = closeDB()
	}()
	return provider.GetDBVersion(ctx)
}
