package bot

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"riskgate/internal/models"
)

// PositionBook - учёт открытых позиций по одобренным решениям
//
// Функции:
// - Открытие позиции при отправке исполнимого решения
// - Закрытие по исходу сделки (decision_id)
// - Отбрасывание повторных исходов по тому же decision_id
// - Список символов с открытыми позициями для селектора (pinning)
//
// Позиция живёт от одобрения до исхода. Отказ исполнителя
// закрывает позицию без исхода через Discard.
type PositionBook struct {
	mu       sync.RWMutex
	open     map[string]openPosition // decision_id -> позиция
	closed   map[string]time.Time    // decision_id -> время исхода
	closedTT time.Duration           // сколько помнить закрытые id

	// Статистика для мониторинга
	openedCount    int64
	closedCount    int64
	duplicateCount int64
}

type openPosition struct {
	symbol   string
	openedAt time.Time
}

// DefaultClosedRetention - время хранения закрытых decision_id для дедупликации
const DefaultClosedRetention = 24 * time.Hour

// NewPositionBook создаёт пустую книгу позиций
func NewPositionBook() *PositionBook {
	return &PositionBook{
		open:     make(map[string]openPosition),
		closed:   make(map[string]time.Time),
		closedTT: DefaultClosedRetention,
	}
}

// Open регистрирует позицию одобренного решения
func (pb *PositionBook) Open(d models.Decision) {
	if !d.Executable() || d.ID == "" {
		return
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	if _, done := pb.closed[d.ID]; done {
		return
	}
	if _, exists := pb.open[d.ID]; exists {
		return
	}
	pb.open[d.ID] = openPosition{symbol: d.Signal.Symbol, openedAt: d.CreatedAt}
	atomic.AddInt64(&pb.openedCount, 1)
}

// Close закрывает позицию по исходу сделки
//
// Возвращает false если исход по этому decision_id уже был учтён.
// Исход без известной открытой позиции принимается (позиция могла
// открыться до перезапуска процесса).
func (pb *PositionBook) Close(outcome models.TradeOutcome) bool {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if outcome.DecisionID != "" {
		if _, done := pb.closed[outcome.DecisionID]; done {
			atomic.AddInt64(&pb.duplicateCount, 1)
			return false
		}
		at := outcome.ClosedAt
		if at.IsZero() {
			at = time.Now()
		}
		pb.closed[outcome.DecisionID] = at
		delete(pb.open, outcome.DecisionID)
	}

	atomic.AddInt64(&pb.closedCount, 1)
	pb.pruneLocked(outcome.ClosedAt)
	return true
}

// Discard удаляет позицию, которая так и не была открыта (ошибка исполнителя)
func (pb *PositionBook) Discard(decisionID string) {
	pb.mu.Lock()
	delete(pb.open, decisionID)
	pb.mu.Unlock()
}

// OpenPositions возвращает отсортированный список символов с открытыми позициями
func (pb *PositionBook) OpenPositions() []string {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	seen := make(map[string]struct{}, len(pb.open))
	out := make([]string, 0, len(pb.open))
	for _, p := range pb.open {
		if _, ok := seen[p.symbol]; ok {
			continue
		}
		seen[p.symbol] = struct{}{}
		out = append(out, p.symbol)
	}
	sort.Strings(out)
	return out
}

// PositionStats - статистика книги позиций
type PositionStats struct {
	Open       int   `json:"open"`
	Opened     int64 `json:"opened"`
	Closed     int64 `json:"closed"`
	Duplicates int64 `json:"duplicates"`
}

// GetStats возвращает статистику
func (pb *PositionBook) GetStats() PositionStats {
	pb.mu.RLock()
	open := len(pb.open)
	pb.mu.RUnlock()

	return PositionStats{
		Open:       open,
		Opened:     atomic.LoadInt64(&pb.openedCount),
		Closed:     atomic.LoadInt64(&pb.closedCount),
		Duplicates: atomic.LoadInt64(&pb.duplicateCount),
	}
}

// pruneLocked забывает закрытые id старше closedTT
func (pb *PositionBook) pruneLocked(now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-pb.closedTT)
	for id, at := range pb.closed {
		if at.Before(cutoff) {
			delete(pb.closed, id)
		}
	}
}
