package bot

import (
	"context"

	"riskgate/internal/models"
)

// MarketDataProvider - источник рыночных данных (биржевой адаптер)
type MarketDataProvider interface {
	// GetSnapshot возвращает текущий снапшот инструмента
	GetSnapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error)
	// GetHistory возвращает lookback последних свечей интервала interval (старые первыми)
	GetHistory(ctx context.Context, symbol, interval string, lookback int) ([]models.Candle, error)
}

// OrderExecutor - адаптер исполнения: получает каждое решение гейта
type OrderExecutor interface {
	Execute(ctx context.Context, d models.Decision) error
}

// DecisionSink - дополнительный приёмник решений (журнал, websocket)
type DecisionSink interface {
	Name() string
	Publish(ctx context.Context, d models.Decision) error
}

// Blacklist - символы, исключённые оператором
type Blacklist interface {
	IsBlacklisted(symbol string) bool
}

// PositionSource - символы с открытыми позициями
type PositionSource interface {
	OpenPositions() []string
}
