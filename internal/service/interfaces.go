package service

import (
	"time"

	"riskgate/internal/models"
	"riskgate/internal/repository"
)

// BlacklistRepositoryInterface определяет интерфейс репозитория черного списка
type BlacklistRepositoryInterface interface {
	Create(entry *models.BlacklistEntry) error
	GetAll() ([]*models.BlacklistEntry, error)
	Symbols() ([]string, error)
	GetBySymbol(symbol string) (*models.BlacklistEntry, error)
	UpdateReason(symbol, reason string) error
	Delete(symbol string) error
	Count() (int, error)
}

// JournalRepositoryInterface определяет интерфейс журнала решений
type JournalRepositoryInterface interface {
	SaveDecision(d *models.Decision) error
	GetDecision(id string) (*models.Decision, error)
	RecentDecisions(symbol string, limit int) ([]*models.Decision, error)
	SaveOutcome(o *models.TradeOutcome) (bool, error)
	OutcomeSummary(since time.Time) (*models.OutcomeSummary, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ BlacklistRepositoryInterface = (*repository.BlacklistRepository)(nil)
var _ JournalRepositoryInterface = (*repository.JournalRepository)(nil)

// ============ Зависимости из торгового ядра ============

// PositionCloser - книга позиций: закрывает позицию по исходу
//
// Close возвращает false для уже учтённого decision_id.
type PositionCloser interface {
	Close(outcome models.TradeOutcome) bool
}

// SafetyRecorder - машина безопасности
type SafetyRecorder interface {
	RecordTradeOutcome(result models.TradeResult, pnl float64) (models.SafetyStatus, error)
}

// SafetyBroadcaster - отправка состояния безопасности через WebSocket
type SafetyBroadcaster interface {
	BroadcastSafetyStatus(status models.SafetyStatus)
}

// ============ Интерфейсы сервисов для Dependency Injection ============

// BlacklistServiceInterface определяет интерфейс сервиса черного списка
type BlacklistServiceInterface interface {
	AddToBlacklist(symbol, reason string) (*models.BlacklistEntry, error)
	GetBlacklist() ([]*models.BlacklistEntry, error)
	RemoveFromBlacklist(symbol string) error
	GetBySymbol(symbol string) (*models.BlacklistEntry, error)
	IsBlacklisted(symbol string) bool
	UpdateReason(symbol, reason string) error
	GetCount() (int, error)
}

// JournalServiceInterface определяет интерфейс чтения журнала
type JournalServiceInterface interface {
	RecentDecisions(symbol string, limit int) ([]*models.Decision, error)
	GetDecision(id string) (*models.Decision, error)
	OutcomeSummary(since time.Time) (*models.OutcomeSummary, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ BlacklistServiceInterface = (*BlacklistService)(nil)
var _ JournalServiceInterface = (*JournalService)(nil)
