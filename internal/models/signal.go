package models

import "time"

// Side - направление сделки
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Signal - кандидат на сделку от стратегии
type Signal struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price,omitempty"` // 0 = брать цену из снапшота
	Strategy  string    `json:"strategy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DecisionAction - итог гейта
type DecisionAction string

const (
	ActionExecute DecisionAction = "execute"
	ActionReject  DecisionAction = "reject"
)

// Стадии гейта, на которых принимается решение
const (
	StageValidation = "validation"
	StageSelector   = "selector"
	StageMarketData = "market_data"
	StageFilters    = "filters"
	StageSafety     = "safety"
	StageTargets    = "targets"
	StageApproved   = "approved"
)

// Decision - решение гейта по одному сигналу
type Decision struct {
	ID                     string         `json:"id" db:"id"`
	Signal                 Signal         `json:"signal"`
	Action                 DecisionAction `json:"action" db:"action"`
	Stage                  string         `json:"stage" db:"stage"`
	Reason                 string         `json:"reason,omitempty" db:"reason"`
	EntryPrice             float64        `json:"entry_price,omitempty" db:"entry_price"`
	TakeProfitPrice        float64        `json:"take_profit_price,omitempty" db:"take_profit_price"`
	StopLossPrice          float64        `json:"stop_loss_price,omitempty" db:"stop_loss_price"`
	Targets                *TradeTargets  `json:"targets,omitempty"`
	Verdict                *FilterVerdict `json:"verdict,omitempty"`
	Safety                 *SafetyStatus  `json:"safety,omitempty"`
	PositionSizeMultiplier float64        `json:"position_size_multiplier" db:"size_multiplier"`
	CreatedAt              time.Time      `json:"created_at" db:"created_at"`
}

// Executable возвращает true если сигнал одобрен к исполнению
func (d *Decision) Executable() bool {
	return d != nil && d.Action == ActionExecute
}
