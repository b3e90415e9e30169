package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"riskgate/internal/config"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// ============================================================
// Машина безопасности торговли
// ============================================================
//
// Состояния: NORMAL -> COOLDOWN -> PROBATION -> NORMAL,
// KILL_SWITCHED поглощающее (до перезапуска процесса).
//
// Состояние общее для всех инструментов (риск уровня счёта), поэтому
// все операции сериализованы одним мьютексом. Переход COOLDOWN -> PROBATION
// выполняется лениво при следующем обращении, без таймеров.

// DefaultProbationMultiplier - множитель размера позиции в PROBATION
const DefaultProbationMultiplier = 0.5

// ErrInvalidOutcome - некорректный исход сделки (неизвестный результат, NaN PnL)
var ErrInvalidOutcome = errors.New("invalid trade outcome")

var hundred = decimal.NewFromInt(100)

// SafetyOption - опция конструктора машины безопасности
type SafetyOption func(*SafetyStateMachine)

// WithSafetyClock подменяет источник времени (для тестов и реплея)
func WithSafetyClock(now func() time.Time) SafetyOption {
	return func(s *SafetyStateMachine) {
		s.now = now
	}
}

// SafetyStateMachine - единственный владелец риск-состояния сессии
type SafetyStateMachine struct {
	cfg config.SafetyConfig
	log *utils.Logger
	now func() time.Time

	mu sync.Mutex

	state             string
	consecutiveLosses int
	lossStreak        int // не сбрасывается cooldown'ом, только выигрышем
	tradesThisHour    int
	tradesToday       int
	lastTradeTime     time.Time
	cooldownUntil     time.Time
	probationLeft     int
	killSwitch        bool
	killReason        string

	dayStartCapital  decimal.Decimal
	peakCapital      decimal.Decimal
	lastCapital      decimal.Decimal
	dailyRealizedPnl decimal.Decimal
}

// NewSafetyStateMachine создаёт машину в состоянии NORMAL
func NewSafetyStateMachine(cfg config.SafetyConfig, logger *utils.Logger, opts ...SafetyOption) *SafetyStateMachine {
	if logger == nil {
		logger = utils.L()
	}
	if cfg.ProbationSizeMultiplier <= 0 || cfg.ProbationSizeMultiplier > 1 {
		cfg.ProbationSizeMultiplier = DefaultProbationMultiplier
	}
	if cfg.MaxProbationTrades < 1 {
		cfg.MaxProbationTrades = 1
	}
	if cfg.HardConsecutiveLosses < cfg.MaxConsecutiveLosses {
		cfg.HardConsecutiveLosses = cfg.MaxConsecutiveLosses
	}

	capital := decimal.NewFromFloat(cfg.InitialCapital)
	s := &SafetyStateMachine{
		cfg:             cfg,
		log:             logger.WithComponent("safety"),
		now:             time.Now,
		state:           models.SafetyNormal,
		dayStartCapital: capital,
		peakCapital:     capital,
		lastCapital:     capital,
	}
	for _, opt := range opts {
		opt(s)
	}

	RecordSafetyState(s.state)
	return s
}

// ============================================================
// Проверка перед сделкой
// ============================================================

// CanTrade проверяет можно ли открыть сделку при текущем капитале
//
// Порядок проверок: kill switch -> дневной убыток -> просадка ->
// серия убытков -> cooldown -> интервал между сделками -> лимит в час ->
// лимит в день. Возвращается только первая причина.
//
// Нарушение жёстких лимитов переводит машину в KILL_SWITCHED.
// capital <= 0 означает "неизвестен": используется оценка по реализованному PnL.
func (s *SafetyStateMachine) CanTrade(capital float64) models.SafetyStatus {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance(now)
	s.observeCapital(capital)

	status := s.statusLocked(now)
	block := func(code models.SafetyReason, reason string) models.SafetyStatus {
		status.CanTrade = false
		status.ReasonCode = code
		status.Reason = reason
		status.State = s.state
		status.StateInfo = SafetyStateInfo(s.state)
		status.PositionSizeMultiplier = 0
		status.KillSwitchTriggered = s.killSwitch
		status.KillSwitchReason = s.killReason
		RecordSafetyBlock(code)
		return status
	}

	if s.killSwitch {
		return block(models.SafetyReasonKillSwitch, "kill switch active: "+s.killReason)
	}

	if status.DailyLossPct >= s.cfg.DailyLossLimitPct {
		reason := fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", status.DailyLossPct, s.cfg.DailyLossLimitPct)
		s.trip(reason)
		return block(models.SafetyReasonDailyLoss, reason)
	}

	if status.IntradayDrawdownPct >= s.cfg.DrawdownLimitPct {
		reason := fmt.Sprintf("intraday drawdown %.2f%% reached limit %.2f%%", status.IntradayDrawdownPct, s.cfg.DrawdownLimitPct)
		s.trip(reason)
		return block(models.SafetyReasonDrawdown, reason)
	}

	if s.lossStreak >= s.cfg.HardConsecutiveLosses {
		reason := fmt.Sprintf("%d consecutive losses reached hard limit %d", s.lossStreak, s.cfg.HardConsecutiveLosses)
		s.trip(reason)
		return block(models.SafetyReasonConsecutiveLosses, reason)
	}

	if s.consecutiveLosses >= s.cfg.MaxConsecutiveLosses {
		return block(models.SafetyReasonConsecutiveLosses, fmt.Sprintf(
			"consecutive loss streak %d/%d, cooling down until %s",
			s.consecutiveLosses, s.cfg.MaxConsecutiveLosses, s.cooldownUntil.UTC().Format(time.RFC3339)))
	}

	if s.state == models.SafetyCooldown && now.Before(s.cooldownUntil) {
		return block(models.SafetyReasonCooldown, fmt.Sprintf(
			"cooldown active for %s", utils.FormatDuration(s.cooldownUntil.Sub(now))))
	}

	if !s.lastTradeTime.IsZero() && s.cfg.MinTradeSpacing > 0 {
		if since := now.Sub(s.lastTradeTime); since < s.cfg.MinTradeSpacing {
			return block(models.SafetyReasonTradeSpacing, fmt.Sprintf(
				"last trade %s ago, minimum spacing %s", utils.FormatDuration(since), s.cfg.MinTradeSpacing))
		}
	}

	if s.cfg.MaxTradesPerHour > 0 && s.tradesThisHour >= s.cfg.MaxTradesPerHour {
		return block(models.SafetyReasonHourlyCap, fmt.Sprintf(
			"hourly trade cap reached (%d/%d)", s.tradesThisHour, s.cfg.MaxTradesPerHour))
	}

	if s.cfg.MaxTradesPerDay > 0 && s.tradesToday >= s.cfg.MaxTradesPerDay {
		return block(models.SafetyReasonDailyCap, fmt.Sprintf(
			"daily trade cap reached (%d/%d)", s.tradesToday, s.cfg.MaxTradesPerDay))
	}

	status.CanTrade = true
	return status
}

// ============================================================
// Обратная связь по сделкам
// ============================================================

// RecordTradeOutcome применяет исход закрытой сделки
//
// Единственный мутатор торговых счётчиков. Вызывается ровно один раз
// на сделку, в порядке закрытия.
func (s *SafetyStateMachine) RecordTradeOutcome(result models.TradeResult, pnl float64) (models.SafetyStatus, error) {
	if result != models.TradeWin && result != models.TradeLoss {
		return models.SafetyStatus{}, fmt.Errorf("%w: result %q", ErrInvalidOutcome, result)
	}
	if !utils.IsFinite(pnl) {
		return models.SafetyStatus{}, fmt.Errorf("%w: pnl %v", ErrInvalidOutcome, pnl)
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance(now)

	s.lastTradeTime = now
	s.tradesThisHour++
	s.tradesToday++
	s.dailyRealizedPnl = s.dailyRealizedPnl.Add(decimal.NewFromFloat(pnl))

	if result == models.TradeWin {
		s.consecutiveLosses = 0
		s.lossStreak = 0
	} else {
		s.consecutiveLosses++
		s.lossStreak++
	}

	if s.state == models.SafetyProbation {
		s.probationLeft--
		if result == models.TradeWin || s.probationLeft <= 0 {
			s.probationLeft = 0
			s.setState(models.SafetyNormal)
			s.log.Info("probation completed", utils.String("result", string(result)))
		}
	}

	if !s.killSwitch {
		switch {
		case s.lossStreak >= s.cfg.HardConsecutiveLosses:
			s.trip(fmt.Sprintf("%d consecutive losses reached hard limit %d", s.lossStreak, s.cfg.HardConsecutiveLosses))
		case s.realizedLossPct() >= s.cfg.DailyLossLimitPct:
			s.trip(fmt.Sprintf("realized daily loss %.2f%% reached limit %.2f%%", s.realizedLossPct(), s.cfg.DailyLossLimitPct))
		case s.consecutiveLosses >= s.cfg.MaxConsecutiveLosses && s.state != models.SafetyCooldown:
			s.cooldownUntil = now.Add(s.cfg.CooldownDuration)
			s.setState(models.SafetyCooldown)
			s.log.Warn("entering cooldown",
				utils.Int("consecutive_losses", s.consecutiveLosses),
				utils.String("until", s.cooldownUntil.UTC().Format(time.RFC3339)))
		}
	}

	pnlFloat, _ := s.dailyRealizedPnl.Float64()
	RecordTradeOutcome(result, pnlFloat)

	return s.statusLocked(now), nil
}

// ============================================================
// Сброс счётчиков по расписанию
// ============================================================

// ResetHourlyCounters обнуляет счётчик сделок за час
func (s *SafetyStateMachine) ResetHourlyCounters() {
	s.mu.Lock()
	s.tradesThisHour = 0
	s.mu.Unlock()
}

// ResetDailyCounters начинает новый торговый день с капиталом capital
//
// Kill switch не снимается: он действует до конца сессии.
// capital <= 0 означает "неизвестен": берётся оценка по реализованному PnL.
func (s *SafetyStateMachine) ResetDailyCounters(capital float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.estimatedCapital()
	if utils.IsFinite(capital) && capital > 0 {
		c = decimal.NewFromFloat(capital)
	}

	s.dayStartCapital = c
	s.peakCapital = c
	s.lastCapital = c
	s.dailyRealizedPnl = decimal.Zero
	s.tradesToday = 0
	s.tradesThisHour = 0

	RealizedPnl.Set(0)
	s.log.Info("daily counters reset", utils.Float64("day_start_capital", c.InexactFloat64()))
}

// ============================================================
// Телеметрия
// ============================================================

// GetSafetyStatus возвращает текущий статус без изменения капитала
//
// CanTrade в ответе отражает только состояние машины, без проверки интервалов.
func (s *SafetyStateMachine) GetSafetyStatus() models.SafetyStatus {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance(now)
	status := s.statusLocked(now)
	status.CanTrade = AllowsTrading(s.state)
	return status
}

// State возвращает текущее состояние
func (s *SafetyStateMachine) State() string {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance(now)
	return s.state
}

// CurrentCapital возвращает оценку капитала: начало дня + реализованный PnL
func (s *SafetyStateMachine) CurrentCapital() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimatedCapital().InexactFloat64()
}

// ============================================================
// Внутренние методы (вызываются под s.mu)
// ============================================================

// advance выполняет переходы по времени: COOLDOWN -> PROBATION
func (s *SafetyStateMachine) advance(now time.Time) {
	if s.state != models.SafetyCooldown || now.Before(s.cooldownUntil) {
		return
	}
	s.consecutiveLosses = 0
	s.probationLeft = s.cfg.MaxProbationTrades
	s.cooldownUntil = time.Time{}
	s.setState(models.SafetyProbation)
	s.log.Info("cooldown expired, entering probation", utils.Int("probation_trades", s.probationLeft))
}

// observeCapital обновляет последний и пиковый капитал
func (s *SafetyStateMachine) observeCapital(capital float64) {
	if !utils.IsFinite(capital) || capital <= 0 {
		s.lastCapital = s.estimatedCapital()
	} else {
		s.lastCapital = decimal.NewFromFloat(capital)
	}
	if s.lastCapital.GreaterThan(s.peakCapital) {
		s.peakCapital = s.lastCapital
	}
}

func (s *SafetyStateMachine) estimatedCapital() decimal.Decimal {
	return s.dayStartCapital.Add(s.dailyRealizedPnl)
}

// dailyLossPct - максимум из убытка по капиталу и по реализованному PnL
func (s *SafetyStateMachine) dailyLossPct() float64 {
	if !s.dayStartCapital.IsPositive() {
		return 0
	}
	byCapital := s.dayStartCapital.Sub(s.lastCapital).Div(s.dayStartCapital).Mul(hundred)
	loss := decimal.Max(byCapital, decimal.NewFromFloat(s.realizedLossPct()))
	if loss.IsNegative() {
		return 0
	}
	return loss.InexactFloat64()
}

// realizedLossPct - реализованный убыток дня в % от капитала на начало дня
func (s *SafetyStateMachine) realizedLossPct() float64 {
	if !s.dayStartCapital.IsPositive() || !s.dailyRealizedPnl.IsNegative() {
		return 0
	}
	return s.dailyRealizedPnl.Neg().Div(s.dayStartCapital).Mul(hundred).InexactFloat64()
}

func (s *SafetyStateMachine) drawdownPct() float64 {
	if !s.peakCapital.IsPositive() || s.lastCapital.GreaterThanOrEqual(s.peakCapital) {
		return 0
	}
	return s.peakCapital.Sub(s.lastCapital).Div(s.peakCapital).Mul(hundred).InexactFloat64()
}

// trip переводит машину в KILL_SWITCHED
func (s *SafetyStateMachine) trip(reason string) {
	if s.killSwitch {
		return
	}
	s.killSwitch = true
	s.killReason = reason
	s.probationLeft = 0
	s.setState(models.SafetyKillSwitched)
	s.log.Error("kill switch triggered", utils.Reason(reason))
}

func (s *SafetyStateMachine) setState(state string) {
	if IsTerminal(s.state) {
		return
	}
	if !CanSafetyTransition(s.state, state) {
		s.log.Warn("unexpected safety transition", utils.String("from", s.state), utils.String("to", state))
	}
	s.state = state
	RecordSafetyState(state)
}

func (s *SafetyStateMachine) multiplier() float64 {
	switch s.state {
	case models.SafetyNormal:
		return 1
	case models.SafetyProbation:
		return s.cfg.ProbationSizeMultiplier
	default:
		return 0
	}
}

func (s *SafetyStateMachine) statusLocked(now time.Time) models.SafetyStatus {
	status := models.SafetyStatus{
		State:                  s.state,
		StateInfo:              SafetyStateInfo(s.state),
		PositionSizeMultiplier: s.multiplier(),
		ConsecutiveLosses:      s.consecutiveLosses,
		LossStreak:             s.lossStreak,
		DailyLossPct:           s.dailyLossPct(),
		IntradayDrawdownPct:    s.drawdownPct(),
		DailyRealizedPnl:       s.dailyRealizedPnl.InexactFloat64(),
		TradesThisHour:         s.tradesThisHour,
		TradesToday:            s.tradesToday,
		ProbationMode:          s.state == models.SafetyProbation,
		ProbationTradesLeft:    s.probationLeft,
		KillSwitchTriggered:    s.killSwitch,
		KillSwitchReason:       s.killReason,
		PeakCapital:            s.peakCapital.InexactFloat64(),
		DayStartCapital:        s.dayStartCapital.InexactFloat64(),
		EstimatedCapital:       s.estimatedCapital().InexactFloat64(),
		CheckedAt:              now,
	}
	if !s.lastTradeTime.IsZero() {
		t := s.lastTradeTime
		status.LastTradeTime = &t
	}
	if !s.cooldownUntil.IsZero() {
		t := s.cooldownUntil
		status.CooldownUntil = &t
	}
	return status
}

// ============================================================
// Планировщик сброса счётчиков
// ============================================================

// CapitalSource - источник текущего капитала счёта
type CapitalSource interface {
	CurrentCapital() float64
}

// CounterScheduler вызывает ResetHourlyCounters на каждой границе часа UTC
// и ResetDailyCounters на каждой границе дня UTC
type CounterScheduler struct {
	safety  *SafetyStateMachine
	capital CapitalSource
	log     *utils.Logger
	now     func() time.Time

	lastHour time.Time
	lastDay  time.Time
}

// NewCounterScheduler создаёт планировщик; capital nil - оценка самой машины
func NewCounterScheduler(safety *SafetyStateMachine, capital CapitalSource, logger *utils.Logger) *CounterScheduler {
	if logger == nil {
		logger = utils.L()
	}
	if capital == nil {
		capital = safety
	}
	now := safety.now()
	return &CounterScheduler{
		safety:   safety,
		capital:  capital,
		log:      logger.WithComponent("counter_scheduler"),
		now:      safety.now,
		lastHour: utils.GetHourStartFrom(now),
		lastDay:  utils.GetDayStartFrom(now),
	}
}

// Tick сбрасывает счётчики, если с прошлого вызова пересечена граница
//
// Возвращает какие сбросы выполнены.
func (c *CounterScheduler) Tick(now time.Time) (hourly, daily bool) {
	if day := utils.GetDayStartFrom(now); day.After(c.lastDay) {
		c.lastDay = day
		c.lastHour = utils.GetHourStartFrom(now)
		c.safety.ResetDailyCounters(c.capital.CurrentCapital())
		return true, true
	}
	if hour := utils.GetHourStartFrom(now); hour.After(c.lastHour) {
		c.lastHour = hour
		c.safety.ResetHourlyCounters()
		return true, false
	}
	return false, false
}

// Run ждёт ближайшую границу часа и вызывает Tick до отмены контекста
func (c *CounterScheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(c.untilNextHour())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			hourly, daily := c.Tick(c.now())
			if hourly || daily {
				c.log.Debug("counters reset", utils.Bool("hourly", hourly), utils.Bool("daily", daily))
			}
			timer.Reset(c.untilNextHour())
		}
	}
}

func (c *CounterScheduler) untilNextHour() time.Duration {
	now := c.now()
	// небольшой запас, чтобы проснуться уже после границы
	return utils.GetNextHourStart(now).Sub(now) + 50*time.Millisecond
}
