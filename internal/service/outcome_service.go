package service

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// Ошибки обработки исходов
var (
	ErrOutcomeInvalid   = errors.New("invalid trade outcome")
	ErrOutcomeDuplicate = errors.New("duplicate trade outcome")
)

// OutcomeService применяет исходы закрытых сделок.
//
// Порядок обработки одного исхода:
// 1. Валидация (decision_id, win/loss, конечный PnL)
// 2. Закрытие позиции в книге; повтор по decision_id отбрасывается
// 3. RecordTradeOutcome машины безопасности
// 4. Запись в журнал (ошибка журнала логируется, исход уже применён)
// 5. Рассылка нового состояния безопасности через WebSocket
type OutcomeService struct {
	positions PositionCloser
	safety    SafetyRecorder
	journal   JournalRepositoryInterface // nil - без журнала
	wsHub     SafetyBroadcaster
	log       *utils.Logger

	applied    int64
	duplicates int64
	invalid    int64
}

// NewOutcomeService создает новый экземпляр OutcomeService
func NewOutcomeService(positions PositionCloser, safety SafetyRecorder, journal JournalRepositoryInterface, logger *utils.Logger) *OutcomeService {
	if logger == nil {
		logger = utils.L()
	}
	return &OutcomeService{
		positions: positions,
		safety:    safety,
		journal:   journal,
		log:       logger.WithComponent("outcomes"),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast состояния безопасности.
//
// Вызывается после инициализации Hub в main.go.
func (s *OutcomeService) SetWebSocketHub(hub SafetyBroadcaster) {
	s.wsHub = hub
}

// HandleOutcome применяет исход сделки.
//
// Возвращает ErrOutcomeInvalid для некорректного исхода и
// ErrOutcomeDuplicate если decision_id уже учтён; в обоих случаях
// состояние машины безопасности не меняется.
func (s *OutcomeService) HandleOutcome(outcome models.TradeOutcome) (models.SafetyStatus, error) {
	outcome.Symbol = utils.NormalizeSymbol(outcome.Symbol)
	outcome.Result = models.TradeResult(strings.ToLower(string(outcome.Result)))

	if err := validateOutcome(outcome); err != nil {
		atomic.AddInt64(&s.invalid, 1)
		return models.SafetyStatus{}, err
	}

	log := s.log.WithDecisionID(outcome.DecisionID).WithSymbol(outcome.Symbol)

	if !s.positions.Close(outcome) {
		atomic.AddInt64(&s.duplicates, 1)
		log.Warn("duplicate trade outcome ignored")
		return models.SafetyStatus{}, ErrOutcomeDuplicate
	}

	status, err := s.safety.RecordTradeOutcome(outcome.Result, outcome.Pnl)
	if err != nil {
		return models.SafetyStatus{}, err
	}
	atomic.AddInt64(&s.applied, 1)

	log.Info("trade outcome applied",
		utils.String("result", string(outcome.Result)),
		utils.PNL(outcome.Pnl),
		utils.State(status.State),
		utils.Bool("can_trade", status.CanTrade))

	if s.journal != nil {
		if _, err := s.journal.SaveOutcome(&outcome); err != nil {
			log.Error("failed to journal trade outcome", utils.Err(err))
		}
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastSafetyStatus(status)
	}

	return status, nil
}

func validateOutcome(o models.TradeOutcome) error {
	if strings.TrimSpace(o.DecisionID) == "" {
		return fmt.Errorf("%w: decision_id is required", ErrOutcomeInvalid)
	}
	if o.Result != models.TradeWin && o.Result != models.TradeLoss {
		return fmt.Errorf("%w: result %q", ErrOutcomeInvalid, o.Result)
	}
	if !utils.IsFinite(o.Pnl) {
		return fmt.Errorf("%w: pnl %v", ErrOutcomeInvalid, o.Pnl)
	}
	return nil
}

// OutcomeStats - статистика обработки исходов
type OutcomeStats struct {
	Applied    int64 `json:"applied"`
	Duplicates int64 `json:"duplicates"`
	Invalid    int64 `json:"invalid"`
}

// GetStats возвращает статистику
func (s *OutcomeService) GetStats() OutcomeStats {
	return OutcomeStats{
		Applied:    atomic.LoadInt64(&s.applied),
		Duplicates: atomic.LoadInt64(&s.duplicates),
		Invalid:    atomic.LoadInt64(&s.invalid),
	}
}
