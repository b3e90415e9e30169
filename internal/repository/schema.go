package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// pgUniqueViolation - код ошибки PostgreSQL для нарушения UNIQUE
const pgUniqueViolation = "23505"

// schema - таблицы журнала решений и черного списка
var schema = []string{
	`CREATE TABLE IF NOT EXISTS blacklist (
		id SERIAL PRIMARY KEY,
		symbol VARCHAR(30) UNIQUE NOT NULL,
		reason TEXT DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS decisions (
		id VARCHAR(64) PRIMARY KEY,
		signal_id VARCHAR(64) NOT NULL,
		symbol VARCHAR(30) NOT NULL,
		side VARCHAR(10) NOT NULL,
		action VARCHAR(10) NOT NULL,
		stage VARCHAR(20) NOT NULL,
		reason TEXT DEFAULT '',
		entry_price DOUBLE PRECISION DEFAULT 0,
		take_profit_price DOUBLE PRECISION DEFAULT 0,
		stop_loss_price DOUBLE PRECISION DEFAULT 0,
		size_multiplier DOUBLE PRECISION DEFAULT 0,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS decisions_created_at_idx ON decisions (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS decisions_symbol_idx ON decisions (symbol, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS trade_outcomes (
		decision_id VARCHAR(64) PRIMARY KEY,
		symbol VARCHAR(30) NOT NULL,
		result VARCHAR(10) NOT NULL,
		pnl NUMERIC(20, 8) NOT NULL,
		closed_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate создаёт таблицы, если их ещё нет
func Migrate(db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, pgUniqueViolation)
}

// expectAffected возвращает notFound, если запрос не затронул ни одной строки
func expectAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
