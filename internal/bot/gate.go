package bot

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"riskgate/internal/config"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// ============================================================
// Гейт исполнения
// ============================================================
//
// Один сигнал проходит стадии строго по порядку и останавливается
// на первом отказе:
//   validation -> selector -> market_data -> filters -> safety -> targets
//
// Каждый сигнал получает ровно одно решение (Decision) с уникальным ID.
// Гейт не размещает ордера: решения уходят в OrderExecutor и приёмники.

// ActiveUniverse - проверка принадлежности символа активному набору
type ActiveUniverse interface {
	IsActive(symbol string) bool
}

// GateDeps - зависимости гейта
type GateDeps struct {
	Provider  MarketDataProvider
	Universe  ActiveUniverse
	Filters   *FilterPipeline
	Safety    *SafetyStateMachine
	Capital   CapitalSource // nil - оценка капитала машиной безопасности
	Executor  OrderExecutor // nil - решения только в приёмники
	Sinks     []DecisionSink
	Positions *PositionBook // nil - учёт открытых позиций отключён
}

// Gate - оркестратор решений по сигналам
type Gate struct {
	deps            GateDeps
	friction        models.FrictionModel
	params          TargetParams
	snapshotTimeout time.Duration
	log             *utils.Logger
	now             func() time.Time
	newID           func() string

	// Статистика для мониторинга
	evaluated int64
	approved  int64
}

// GateOption - опция конструктора гейта
type GateOption func(*Gate)

// WithGateClock подменяет источник времени
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithIDGenerator подменяет генератор ID решений
func WithIDGenerator(newID func() string) GateOption {
	return func(g *Gate) { g.newID = newID }
}

// NewGate создаёт гейт
func NewGate(targets config.TargetsConfig, cfg config.GateConfig, deps GateDeps, logger *utils.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = utils.L()
	}
	if deps.Capital == nil && deps.Safety != nil {
		deps.Capital = deps.Safety
	}

	g := &Gate{
		deps:            deps,
		friction:        NewFrictionModel(targets),
		params:          NewTargetParams(targets),
		snapshotTimeout: cfg.SnapshotTimeout,
		log:             logger.WithComponent("gate"),
		now:             time.Now,
		newID:           func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate принимает решение по сигналу без доставки в приёмники
func (g *Gate) Evaluate(ctx context.Context, sig models.Signal) models.Decision {
	start := time.Now()
	atomic.AddInt64(&g.evaluated, 1)

	d := g.evaluate(ctx, sig)

	if d.Executable() {
		atomic.AddInt64(&g.approved, 1)
	}
	RecordDecision(d.Stage, d.Action, float64(time.Since(start).Microseconds())/1000)
	return d
}

func (g *Gate) evaluate(ctx context.Context, sig models.Signal) models.Decision {
	now := g.now()
	sig.Symbol = utils.NormalizeSymbol(sig.Symbol)
	sig.Side = models.Side(strings.ToLower(strings.TrimSpace(string(sig.Side))))
	if sig.ID == "" {
		sig.ID = g.newID()
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = now
	}

	d := models.Decision{
		ID:        g.newID(),
		Signal:    sig,
		Action:    models.ActionReject,
		CreatedAt: now,
	}

	// 1. Валидация сигнала
	if err := validateSignal(sig); err != nil {
		return reject(d, models.StageValidation, err.Error())
	}

	// 2. Активный набор селектора
	if g.deps.Universe != nil && !g.deps.Universe.IsActive(sig.Symbol) {
		return reject(d, models.StageSelector, "symbol not in active set")
	}

	// 3. Снапшот рынка
	snapCtx := ctx
	if g.snapshotTimeout > 0 {
		var cancel context.CancelFunc
		snapCtx, cancel = context.WithTimeout(ctx, g.snapshotTimeout)
		defer cancel()
	}
	snap, err := g.deps.Provider.GetSnapshot(snapCtx, sig.Symbol)
	if err != nil {
		return reject(d, models.StageMarketData, fmt.Sprintf("snapshot unavailable: %v", err))
	}
	if snap.Symbol == "" {
		snap.Symbol = sig.Symbol
	}

	// 4. Фильтры качества рынка
	verdict := g.deps.Filters.Evaluate(snap)
	d.Verdict = &verdict
	if !verdict.Passed {
		return reject(d, models.StageFilters, string(verdict.Reason))
	}

	// 5. Машина безопасности
	capital := 0.0
	if g.deps.Capital != nil {
		capital = g.deps.Capital.CurrentCapital()
	}
	status := g.deps.Safety.CanTrade(capital)
	d.Safety = &status
	if !status.CanTrade {
		return reject(d, models.StageSafety, status.Reason)
	}

	// 6. Цели TP/SL
	entry := sig.Price
	if entry <= 0 {
		entry = snap.ReferencePrice()
	}
	targets, err := ComputeTargets(entry, snap.ATR, g.friction, g.params)
	if err != nil {
		return reject(d, models.StageTargets, err.Error())
	}

	d.Action = models.ActionExecute
	d.Stage = models.StageApproved
	d.EntryPrice = entry
	d.Targets = &targets
	d.TakeProfitPrice = targets.TakeProfitPrice(sig.Side, entry)
	d.StopLossPrice = targets.StopLossPrice(sig.Side, entry)
	d.PositionSizeMultiplier = status.PositionSizeMultiplier
	return d
}

// Process оценивает сигнал и доставляет решение исполнителю и приёмникам
//
// Ошибки доставки логируются и не меняют решение.
func (g *Gate) Process(ctx context.Context, sig models.Signal) models.Decision {
	d := g.Evaluate(ctx, sig)
	log := g.log.WithDecisionID(d.ID).WithSymbol(d.Signal.Symbol)

	if d.Executable() {
		log.Info("signal approved",
			utils.Side(string(d.Signal.Side)),
			utils.Price(d.EntryPrice),
			utils.Bps("tp", d.Targets.TPBps),
			utils.Bps("sl", d.Targets.SLBps),
			utils.Float64("size_multiplier", d.PositionSizeMultiplier))
	} else {
		log.Debug("signal rejected", utils.Stage(d.Stage), utils.Reason(d.Reason))
	}

	if d.Executable() && g.deps.Positions != nil {
		g.deps.Positions.Open(d)
	}

	if g.deps.Executor != nil {
		if err := g.deps.Executor.Execute(ctx, d); err != nil {
			RecordSinkError("executor")
			log.Error("executor delivery failed", utils.Err(err))
			if d.Executable() && g.deps.Positions != nil {
				g.deps.Positions.Discard(d.ID)
			}
		}
	}

	for _, sink := range g.deps.Sinks {
		if err := sink.Publish(ctx, d); err != nil {
			RecordSinkError(sink.Name())
			log.Warn("decision sink failed", utils.String("sink", sink.Name()), utils.Err(err))
		}
	}
	return d
}

// GateStats - статистика гейта
type GateStats struct {
	Evaluated int64 `json:"evaluated"`
	Approved  int64 `json:"approved"`
}

// GetStats возвращает статистику
func (g *Gate) GetStats() GateStats {
	return GateStats{
		Evaluated: atomic.LoadInt64(&g.evaluated),
		Approved:  atomic.LoadInt64(&g.approved),
	}
}

func reject(d models.Decision, stage, reason string) models.Decision {
	d.Action = models.ActionReject
	d.Stage = stage
	d.Reason = reason
	return d
}

// validateSignal проверяет обязательные поля сигнала
//
// Цена 0 допустима: тогда берётся цена из снапшота. NaN != 0 и отклоняется.
func validateSignal(sig models.Signal) error {
	var errs utils.ValidationErrors
	errs.AddError("symbol", utils.ValidateSymbol(sig.Symbol))
	errs.AddError("side", utils.ValidateSide(string(sig.Side)))
	if sig.Price != 0 {
		errs.AddError("price", utils.ValidatePrice(sig.Price))
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
