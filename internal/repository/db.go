package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"homework-reminder/pkg/metrics"
	"homework-reminder/pkg/otel"
)

// DBTX is the part of pgxpool.Pool and pgx.Tx the repositories use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB can also open transactions. *pgxpool.Pool satisfies it.
type DB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// observe opens a DB span and returns a func that records duration and ends the span.
func observe(ctx context.Context, operation, table string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.DBSpan(ctx, operation, table)
	return ctx, func(err error) {
		metrics.RecordDBQueryDuration(operation, table, time.Since(start))
		otel.End(span, err)
	}
}
