package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/n0rdy/tableq/common"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Executor runs parametrized statements against one storage backend.
// Failures come back as *common.QueueError: ErrTransientStorage when the classifier
// deems them recoverable, ErrStorage otherwise, with the driver error as the cause.
type Executor interface {
	Exec(ctx context.Context, text string, args ...any) (int64, error)
	Query(ctx context.Context, text string, args ...any) ([]Row, error)
	Reconnect(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

type SQLExecutor struct {
	db          *sql.DB
	isTransient Classifier
}

func NewSQLExecutor(db *sql.DB, isTransient Classifier) *SQLExecutor {
	if isTransient == nil {
		isTransient = IsTransientGeneric
	}
	return &SQLExecutor{
		db:          db,
		isTransient: isTransient,
	}
}

func (se *SQLExecutor) Exec(ctx context.Context, text string, args ...any) (int64, error) {
	result, err := se.db.ExecContext(ctx, text, args...)
	if err != nil {
		return 0, se.classify(err, "exec")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, se.classify(err, "rows affected")
	}
	return affected, nil
}

func (se *SQLExecutor) Query(ctx context.Context, text string, args ...any) ([]Row, error) {
	rows, err := se.db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, se.classify(err, "query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, se.classify(err, "columns")
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, se.classify(err, "scan")
		}

		row := make(Row, len(columns))
		for i, column := range columns {
			// drivers may reuse the byte slice on the next Scan
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, se.classify(err, "rows")
	}
	return out, nil
}

// Reconnect makes the pool drop broken connections and dial a fresh one.
func (se *SQLExecutor) Reconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := se.db.PingContext(ctx); err != nil {
		return se.classify(err, "reconnect")
	}
	return nil
}

func (se *SQLExecutor) Ping(ctx context.Context) error {
	if err := se.db.PingContext(ctx); err != nil {
		return se.classify(err, "ping")
	}
	return nil
}

func (se *SQLExecutor) Close() error {
	return se.db.Close()
}

func (se *SQLExecutor) classify(err error, op string) error {
	if se.isTransient(err) {
		return common.NewTransientStorageError(err, "%s failed", op)
	}
	return common.NewStorageError(err, "%s failed", op)
}
