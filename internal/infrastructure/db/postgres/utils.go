package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const (
	driverName     = "postgres"
	rootDatabase   = "postgres"
	maxRetries     = 5
	connectTimeout = 5 * time.Second
)

// OpenDb connects to the event db. With autoCreate, a missing database is
// created on the same server and the connection is retried once.
func OpenDb(dsn string, autoCreate bool) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	err = db.PingContext(ctx)
	if isMissingDatabase(err) && autoCreate {
		if err = createDB(ctx, dsn); err == nil {
			err = db.PingContext(ctx)
		}
	}
	if err != nil {
		// nolint
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres db: %w", err)
	}
	return db, nil
}

// isMissingDatabase matches 3D000 invalid_catalog_name.
func isMissingDatabase(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "3D000"
}

func createDB(ctx context.Context, dsn string) error {
	dbName, rootDSN, err := splitDSN(dsn)
	if err != nil {
		return fmt.Errorf("cannot auto-create database: %w", err)
	}

	rootDB, err := sql.Open(driverName, rootDSN)
	if err != nil {
		return err
	}
	// nolint
	defer rootDB.Close()

	log.WithField("db", dbName).Info("creating postgres event db")
	_, err = rootDB.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName))
	return err
}

// splitDSN returns the database name of a URL or key/value dsn, and a
// key/value dsn pointing to the default database of the same server.
// Quoted values containing spaces are not supported.
func splitDSN(dsn string) (dbName, rootDSN string, err error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if dsn, err = pq.ParseURL(dsn); err != nil {
			return "", "", err
		}
	}

	params := make([]string, 0)
	for _, field := range strings.Fields(dsn) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return "", "", fmt.Errorf("invalid dsn param %q", field)
		}
		if key == "dbname" {
			dbName = strings.Trim(value, "'")
			continue
		}
		params = append(params, field)
	}
	if dbName == "" {
		return "", "", fmt.Errorf("missing database name")
	}
	return dbName, strings.Join(append(params, "dbname="+rootDatabase), " "), nil
}

func execTx(ctx context.Context, db *sql.DB, txBody func(*sql.Tx) error) error {
	var lastErr error
	for range maxRetries {
		tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := txBody(tx); err != nil {
			//nolint:all
			tx.Rollback()

			if isSerializationError(err) {
				lastErr = err
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isSerializationError(err) {
				lastErr = err
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}

	return lastErr
}

// 40001: serialization_failure, 40P01: deadlock_detected.
func isSerializationError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// 23505: unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
