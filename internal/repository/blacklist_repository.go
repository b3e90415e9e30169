package repository

import (
	"database/sql"
	"errors"
	"time"

	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// Ошибки репозитория черного списка
var (
	ErrBlacklistEntryNotFound = errors.New("blacklist entry not found")
	ErrBlacklistEntryExists   = errors.New("symbol already in blacklist")
)

// BlacklistRepository - работа с таблицей blacklist
//
// Символы хранятся нормализованными (BTCUSDT), поиск по любой записи
// символа: btc/usdt, BTC-USDT.
type BlacklistRepository struct {
	db *sql.DB
}

// NewBlacklistRepository создает новый экземпляр репозитория
func NewBlacklistRepository(db *sql.DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

// Create добавляет символ в черный список
func (r *BlacklistRepository) Create(entry *models.BlacklistEntry) error {
	query := `
		INSERT INTO blacklist (symbol, reason, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`

	entry.Symbol = utils.NormalizeSymbol(entry.Symbol)
	entry.CreatedAt = time.Now().UTC()

	err := r.db.QueryRow(query, entry.Symbol, entry.Reason, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrBlacklistEntryExists
		}
		return err
	}

	return nil
}

// GetAll возвращает весь черный список, новые первыми
func (r *BlacklistRepository) GetAll() ([]*models.BlacklistEntry, error) {
	query := `
		SELECT id, symbol, reason, created_at
		FROM blacklist
		ORDER BY created_at DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.BlacklistEntry, 0)
	for rows.Next() {
		entry := &models.BlacklistEntry{}
		if err := rows.Scan(&entry.ID, &entry.Symbol, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// Symbols возвращает только символы черного списка (для кэша)
func (r *BlacklistRepository) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT symbol FROM blacklist`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// GetBySymbol возвращает запись по символу
func (r *BlacklistRepository) GetBySymbol(symbol string) (*models.BlacklistEntry, error) {
	query := `
		SELECT id, symbol, reason, created_at
		FROM blacklist
		WHERE symbol = $1`

	entry := &models.BlacklistEntry{}
	err := r.db.QueryRow(query, utils.NormalizeSymbol(symbol)).Scan(
		&entry.ID,
		&entry.Symbol,
		&entry.Reason,
		&entry.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBlacklistEntryNotFound
		}
		return nil, err
	}

	return entry, nil
}

// UpdateReason обновляет причину добавления в черный список
func (r *BlacklistRepository) UpdateReason(symbol string, reason string) error {
	query := `
		UPDATE blacklist
		SET reason = $1
		WHERE symbol = $2`

	result, err := r.db.Exec(query, reason, utils.NormalizeSymbol(symbol))
	if err != nil {
		return err
	}
	return expectAffected(result, ErrBlacklistEntryNotFound)
}

// Delete удаляет символ из черного списка
func (r *BlacklistRepository) Delete(symbol string) error {
	result, err := r.db.Exec(`DELETE FROM blacklist WHERE symbol = $1`, utils.NormalizeSymbol(symbol))
	if err != nil {
		return err
	}
	return expectAffected(result, ErrBlacklistEntryNotFound)
}

// Count возвращает количество записей в черном списке
func (r *BlacklistRepository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM blacklist`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
