package db

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"

	"github.com/n0rdy/tableq/configs"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// busy_timeout makes concurrent writers wait for the lock instead of failing right away,
// WAL lets readers run next to the single writer.
const sqliteDSNFormat = "file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

func NewSQLiteRepo(ctx context.Context, dbPath string, schema *configs.SchemaConfig, opts ...RepoOption) (*MessageRepo, error) {
	sqlDB, err := OpenSQLite(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return NewMessageRepo(NewSQLExecutor(sqlDB, ClassifierFor(configs.SQLiteDialect)), schema, opts...), nil
}

func NewPostgresRepo(ctx context.Context, dsn string, schema *configs.SchemaConfig, opts ...RepoOption) (*MessageRepo, error) {
	sqlDB, err := OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return NewMessageRepo(NewSQLExecutor(sqlDB, ClassifierFor(configs.PostgresDialect)), schema, opts...), nil
}

// NewRepo opens the storage configured in storageConfig for schema.
func NewRepo(ctx context.Context, storageConfig configs.StorageConfig, schema *configs.SchemaConfig, opts ...RepoOption) (*MessageRepo, error) {
	switch schema.Dialect() {
	case configs.SQLiteDialect:
		return NewSQLiteRepo(ctx, storageConfig.DSN, schema, opts...)
	case configs.PostgresDialect:
		return NewPostgresRepo(ctx, storageConfig.DSN, schema, opts...)
	default:
		return nil, fmt.Errorf("no storage driver for dialect %q", schema.Dialect())
	}
}

func OpenSQLite(ctx context.Context, dbPath string) (*sql.DB, error) {
	sqlDB, err := sql.Open("sqlite", fmt.Sprintf(sqliteDSNFormat, dbPath))
	if err != nil {
		return nil, err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return sqlDB, nil
}

func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(4 * runtime.GOMAXPROCS(0))
	sqlDB.SetMaxIdleConns(runtime.GOMAXPROCS(0))

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return sqlDB, nil
}
