package models

import "time"

// Состояния машины безопасности
const (
	SafetyNormal       = "NORMAL"        // торговля разрешена в штатном режиме
	SafetyCooldown     = "COOLDOWN"      // пауза после серии убытков
	SafetyProbation    = "PROBATION"     // пробный режим с уменьшенным размером
	SafetyKillSwitched = "KILL_SWITCHED" // торговля остановлена до конца сессии
)

// TradeResult - исход закрытой сделки
type TradeResult string

const (
	TradeWin  TradeResult = "win"
	TradeLoss TradeResult = "loss"
)

// SafetyReason - код причины блокировки торговли
type SafetyReason string

const (
	SafetyReasonNone              SafetyReason = ""
	SafetyReasonKillSwitch        SafetyReason = "kill_switch"
	SafetyReasonDailyLoss         SafetyReason = "daily_loss_limit"
	SafetyReasonDrawdown          SafetyReason = "drawdown_limit"
	SafetyReasonConsecutiveLosses SafetyReason = "consecutive_losses"
	SafetyReasonCooldown          SafetyReason = "cooldown"
	SafetyReasonTradeSpacing      SafetyReason = "min_trade_spacing"
	SafetyReasonHourlyCap         SafetyReason = "hourly_trade_cap"
	SafetyReasonDailyCap          SafetyReason = "daily_trade_cap"
)

// SafetyStatus - ответ CanTrade и снимок состояния для телеметрии
type SafetyStatus struct {
	CanTrade               bool         `json:"can_trade"`
	ReasonCode             SafetyReason `json:"reason_code,omitempty"`
	Reason                 string       `json:"reason,omitempty"`
	State                  string       `json:"state"`
	StateInfo              string       `json:"state_info"`
	PositionSizeMultiplier float64      `json:"position_size_multiplier"`

	ConsecutiveLosses   int        `json:"consecutive_losses"`
	LossStreak          int        `json:"loss_streak"` // убытки подряд с последнего выигрыша (не сбрасывается cooldown'ом)
	DailyLossPct        float64    `json:"daily_loss_pct"`
	IntradayDrawdownPct float64    `json:"intraday_drawdown_pct"`
	DailyRealizedPnl    float64    `json:"daily_realized_pnl"`
	TradesThisHour      int        `json:"trades_this_hour"`
	TradesToday         int        `json:"trades_today"`
	LastTradeTime       *time.Time `json:"last_trade_time,omitempty"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
	ProbationMode       bool       `json:"probation_mode"`
	ProbationTradesLeft int        `json:"probation_trades_remaining"`
	KillSwitchTriggered bool       `json:"kill_switch_triggered"`
	KillSwitchReason    string     `json:"kill_switch_reason,omitempty"`
	PeakCapital         float64    `json:"peak_capital"`
	DayStartCapital     float64    `json:"day_start_capital"`
	EstimatedCapital    float64    `json:"estimated_capital"`
	CheckedAt           time.Time  `json:"checked_at"`
}

// TradeOutcome - обратная связь о закрытой сделке
type TradeOutcome struct {
	DecisionID string      `json:"decision_id" db:"decision_id"`
	Symbol     string      `json:"symbol" db:"symbol"`
	Result     TradeResult `json:"result" db:"result"`
	Pnl        float64     `json:"pnl" db:"pnl"`
	ClosedAt   time.Time   `json:"closed_at" db:"closed_at"`
}

// OutcomeSummary - итог закрытых сделок за период (журнал)
type OutcomeSummary struct {
	Since       time.Time `json:"since"`
	Trades      int       `json:"trades"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	RealizedPnl float64   `json:"realized_pnl"`
}
