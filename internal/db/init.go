package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"path"
	"sort"

	"github.com/RezaEskandarii/firequeue/internal/constants"
	"github.com/RezaEskandarii/firequeue/internal/lock"
)

const (
	baseDir = "migrations"
	Schema  = constants.DefaultSchema
)

//go:embed migrations/*.sql
var migrations embed.FS

// Init creates the schema and applies the embedded migration scripts.
// It ensures that only one instance runs the migration logic at a time by using a
// distributed lock.
//
// The function performs the following steps:
//  1. Acquires the migration lock.
//  2. Pings the database to verify the connection.
//  3. Creates the schema if it does not exist.
//  4. Executes every script under migrations/ in file name order.
//
// Scripts are written to be idempotent, so running Init on every start is safe.
func Init(ctx context.Context, db *sql.DB, distributedLock lock.DistributedLockManager) error {
	migrationLock := constants.MigrationLock

	if err := distributedLock.Acquire(ctx, migrationLock); err != nil {
		return err
	}
	defer func() {
		if err := distributedLock.Release(context.WithoutCancel(ctx), migrationLock); err != nil {
			log.Printf("migrations: release lock: %v", err)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", Schema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	scripts, err := readSQLScripts()
	if err != nil {
		return err
	}
	for _, script := range scripts {
		log.Printf("migrations: applying %s", script.name)
		if _, err := db.ExecContext(ctx, script.body); err != nil {
			return fmt.Errorf("apply %s: %w", script.name, err)
		}
	}

	return nil
}

type sqlScript struct {
	name string
	body string
}

func readSQLScripts() ([]sqlScript, error) {
	entries, err := migrations.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var scripts []sqlScript
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		content, err := migrations.ReadFile(path.Join(baseDir, entry.Name()))
		if err != nil {
			return nil, err
		}

		scripts = append(scripts, sqlScript{name: entry.Name(), body: string(content)})
	}

	return scripts, nil
}
