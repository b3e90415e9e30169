package repository

import (
	"database/sql"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"riskgate/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки журнала
var (
	ErrDecisionNotFound = errors.New("decision not found")
)

// Лимиты выборки решений
const (
	DefaultDecisionLimit = 50
	MaxDecisionLimit     = 500
)

// JournalRepository - журнал решений гейта и исходов сделок
//
// Решения пишутся целиком в payload (JSONB), ключевые поля
// дублируются в колонки для фильтрации. Исход сделки уникален
// по decision_id: повторная запись игнорируется.
type JournalRepository struct {
	db *sql.DB
}

// NewJournalRepository создает новый экземпляр репозитория
func NewJournalRepository(db *sql.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// SaveDecision записывает решение; повтор по тому же ID игнорируется
func (r *JournalRepository) SaveDecision(d *models.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO decisions (id, signal_id, symbol, side, action, stage, reason,
			entry_price, take_profit_price, stop_loss_price, size_multiplier, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	_, err = r.db.Exec(
		query,
		d.ID,
		d.Signal.ID,
		d.Signal.Symbol,
		string(d.Signal.Side),
		string(d.Action),
		d.Stage,
		d.Reason,
		d.EntryPrice,
		d.TakeProfitPrice,
		d.StopLossPrice,
		d.PositionSizeMultiplier,
		payload,
		d.CreatedAt,
	)
	return err
}

// GetDecision возвращает решение по ID
func (r *JournalRepository) GetDecision(id string) (*models.Decision, error) {
	var payload []byte
	err := r.db.QueryRow(`SELECT payload FROM decisions WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDecisionNotFound
		}
		return nil, err
	}

	d := &models.Decision{}
	if err := json.Unmarshal(payload, d); err != nil {
		return nil, err
	}
	return d, nil
}

// RecentDecisions возвращает последние решения, новые первыми
//
// symbol == "" - по всем символам.
func (r *JournalRepository) RecentDecisions(symbol string, limit int) ([]*models.Decision, error) {
	if limit <= 0 {
		limit = DefaultDecisionLimit
	}
	if limit > MaxDecisionLimit {
		limit = MaxDecisionLimit
	}

	query := `
		SELECT payload
		FROM decisions
		WHERE ($1::text = '' OR symbol = $1::text)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decisions := make([]*models.Decision, 0, limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		d := &models.Decision{}
		if err := json.Unmarshal(payload, d); err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return decisions, nil
}

// SaveOutcome записывает исход сделки
//
// Возвращает false, если исход по этому decision_id уже записан.
func (r *JournalRepository) SaveOutcome(o *models.TradeOutcome) (bool, error) {
	query := `
		INSERT INTO trade_outcomes (decision_id, symbol, result, pnl, closed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (decision_id) DO NOTHING`

	if o.ClosedAt.IsZero() {
		o.ClosedAt = time.Now().UTC()
	}

	result, err := r.db.Exec(
		query,
		o.DecisionID,
		o.Symbol,
		string(o.Result),
		decimal.NewFromFloat(o.Pnl).String(),
		o.ClosedAt,
	)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// OutcomeSummary возвращает итог закрытых сделок начиная с since
func (r *JournalRepository) OutcomeSummary(since time.Time) (*models.OutcomeSummary, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE result = 'win'),
			COUNT(*) FILTER (WHERE result = 'loss'),
			COALESCE(SUM(pnl), 0)
		FROM trade_outcomes
		WHERE closed_at >= $1`

	summary := &models.OutcomeSummary{Since: since}
	var pnl decimal.Decimal
	err := r.db.QueryRow(query, since).Scan(&summary.Trades, &summary.Wins, &summary.Losses, &pnl)
	if err != nil {
		return nil, err
	}
	summary.RealizedPnl = pnl.InexactFloat64()
	return summary, nil
}
