package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/internal/core/ports"
	badgerdb "github.com/lockforge/lockd/internal/infrastructure/db/badger"
	pgdb "github.com/lockforge/lockd/internal/infrastructure/db/postgres"
	sqlitedb "github.com/lockforge/lockd/internal/infrastructure/db/sqlite"
	watermilldb "github.com/lockforge/lockd/internal/infrastructure/db/watermill"
	log "github.com/sirupsen/logrus"
)

//go:embed sqlite/migration/*
var migrations embed.FS

//go:embed postgres/migration/*
var pgMigration embed.FS

var (
	eventStoreTypes = map[string]func(...interface{}) (domain.EventStore, error){
		"badger":   badgerdb.NewEventStore,
		"sqlite":   sqlitedb.NewEventStore,
		"postgres": pgdb.NewEventStore,
	}
	eventBusTypes = map[string]func(...interface{}) (message.Publisher, error){
		"gochannel": newGoChannelPublisher,
		"postgres":  newPostgresPublisher,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

type ServiceConfig struct {
	EventStoreType string
	EventBusType   string

	EventStoreConfig []interface{}
	EventBusConfig   []interface{}
}

type service struct {
	eventStore domain.EventRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	eventStoreFactory, ok := eventStoreTypes[config.EventStoreType]
	if !ok {
		return nil, fmt.Errorf("event store type not supported")
	}
	eventBusFactory, ok := eventBusTypes[config.EventBusType]
	if !ok {
		return nil, fmt.Errorf("event bus type not supported")
	}

	var store domain.EventStore
	var err error

	switch config.EventStoreType {
	case "badger":
		store, err = eventStoreFactory(config.EventStoreConfig...)
		if err != nil {
			return nil, fmt.Errorf("failed to open event store: %s", err)
		}
	case "postgres":
		db, err := openPostgres(config.EventStoreConfig)
		if err != nil {
			return nil, err
		}
		if err := migratePostgres(db); err != nil {
			return nil, err
		}
		if store, err = eventStoreFactory(db); err != nil {
			return nil, fmt.Errorf("failed to open event store: %s", err)
		}
	case "sqlite":
		if len(config.EventStoreConfig) != 1 {
			return nil, fmt.Errorf("invalid event store config")
		}

		baseDir, ok := config.EventStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}

		dbFile := ":memory:"
		if len(baseDir) > 0 {
			dbFile = filepath.Join(baseDir, sqliteDbFile)
		}
		db, err := sqlitedb.OpenDb(dbFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %s", err)
		}
		if err := migrateSqlite(db); err != nil {
			return nil, err
		}
		if store, err = eventStoreFactory(db); err != nil {
			return nil, fmt.Errorf("failed to open event store: %s", err)
		}
	default:
		return nil, fmt.Errorf("unknown event store db type")
	}

	publisher, err := eventBusFactory(config.EventBusConfig...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open event bus: %s", err)
	}

	log.Debugf("event store %s ready, publishing on %s bus", config.EventStoreType, config.EventBusType)

	return &service{
		eventStore: watermilldb.NewEventRepository(store, publisher),
	}, nil
}

func (s *service) Events() domain.EventRepository {
	return s.eventStore
}

func (s *service) Close() {
	s.eventStore.Close()
}

func openPostgres(config []interface{}) (*sql.DB, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config for postgres")
	}

	dsn, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid DSN for postgres")
	}

	autoCreate, ok := config[1].(bool)
	if !ok {
		return nil, fmt.Errorf("invalid autocreate flag for postgres")
	}

	db, err := pgdb.OpenDb(dsn, autoCreate)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %s", err)
	}
	return db, nil
}

func migratePostgres(db *sql.DB) error {
	pgDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to init postgres migration driver: %s", err)
	}

	source, err := iofs.New(pgMigration, "postgres/migration")
	if err != nil {
		return fmt.Errorf("failed to embed postgres migrations: %s", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", pgDriver)
	if err != nil {
		return fmt.Errorf("failed to create postgres migration instance: %s", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run postgres migrations: %s", err)
	}
	return nil
}

func migrateSqlite(db *sql.DB) error {
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to init driver: %s", err)
	}

	source, err := iofs.New(migrations, "sqlite/migration")
	if err != nil {
		return fmt.Errorf("failed to embed migrations: %s", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "lockdb", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %s", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %s", err)
	}
	return nil
}

func newGoChannelPublisher(config ...interface{}) (message.Publisher, error) {
	var bufferSize int64
	if len(config) > 0 {
		size, ok := config[0].(int64)
		if !ok {
			return nil, fmt.Errorf("invalid buffer size for gochannel bus")
		}
		bufferSize = size
	}
	return watermilldb.NewGoChannelPublisher(bufferSize), nil
}

func newPostgresPublisher(config ...interface{}) (message.Publisher, error) {
	db, err := openPostgres(config)
	if err != nil {
		return nil, err
	}
	return watermilldb.NewPostgresPublisher(db)
}
