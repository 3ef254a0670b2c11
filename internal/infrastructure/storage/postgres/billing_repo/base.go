// Package billing_repo provides PostgreSQL implementations of the billing repositories.
// Every query is scoped by tenant_id: tenants share one database.
package billing_repo

import (
	"context"
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"fiscalcore/internal/infrastructure/storage/postgres"
)

const uniqueViolation = "23505"

type base struct {
	txManager *postgres.TxManager
}

// builder returns a squirrel builder with $n placeholders.
func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (b base) querier(ctx context.Context) postgres.Querier {
	return b.txManager.GetQuerier(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
