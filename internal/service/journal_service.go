package service

import (
	"context"
	"errors"
	"time"

	"riskgate/internal/models"
	"riskgate/internal/repository"
	"riskgate/pkg/utils"
)

// ErrDecisionNotFound - решения с таким ID нет в журнале
var ErrDecisionNotFound = errors.New("decision not found")

// JournalService - чтение журнала решений для admin API
type JournalService struct {
	repo JournalRepositoryInterface
}

// NewJournalService создает новый экземпляр JournalService
func NewJournalService(repo JournalRepositoryInterface) *JournalService {
	return &JournalService{repo: repo}
}

// RecentDecisions возвращает последние решения (новые первыми).
//
// symbol нормализуется; пустой символ - все инструменты.
func (s *JournalService) RecentDecisions(symbol string, limit int) ([]*models.Decision, error) {
	decisions, err := s.repo.RecentDecisions(utils.NormalizeSymbol(symbol), limit)
	if err != nil {
		return nil, err
	}
	if decisions == nil {
		decisions = []*models.Decision{}
	}
	return decisions, nil
}

// GetDecision возвращает решение по ID
func (s *JournalService) GetDecision(id string) (*models.Decision, error) {
	d, err := s.repo.GetDecision(id)
	if errors.Is(err, repository.ErrDecisionNotFound) {
		return nil, ErrDecisionNotFound
	}
	return d, err
}

// OutcomeSummary возвращает итог сделок с начала периода since.
//
// Нулевой since - с начала текущих UTC суток.
func (s *JournalService) OutcomeSummary(since time.Time) (*models.OutcomeSummary, error) {
	if since.IsZero() {
		since = utils.GetDayStart()
	}
	return s.repo.OutcomeSummary(since)
}

// ============================================================
// JournalSink - приёмник решений гейта
// ============================================================

// JournalSink пишет каждое решение гейта в Postgres
type JournalSink struct {
	repo JournalRepositoryInterface
}

// NewJournalSink создает приёмник решений для журнала
func NewJournalSink(repo JournalRepositoryInterface) *JournalSink {
	return &JournalSink{repo: repo}
}

// Name возвращает имя приёмника для метрик
func (s *JournalSink) Name() string { return "journal" }

// Publish сохраняет решение
func (s *JournalSink) Publish(ctx context.Context, d models.Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.repo.SaveDecision(&d)
}
