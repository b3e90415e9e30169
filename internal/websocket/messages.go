package websocket

import (
	"time"

	"riskgate/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeDecision - решение гейта по сигналу (одобрено или отклонено)
	MessageTypeDecision MessageType = "decision"

	// MessageTypeActiveSet - новый активный набор инструментов после ребаланса
	MessageTypeActiveSet MessageType = "activeSet"

	// MessageTypeSafety - состояние машины безопасности после исхода сделки
	MessageTypeSafety MessageType = "safety"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// DecisionMessage - решение гейта
type DecisionMessage struct {
	BaseMessage
	Data *DecisionData `json:"data"`
}

// DecisionData - компактное представление решения для UI
//
// Полное решение (вердикт фильтров, состояние безопасности) доступно
// через GET /api/v1/decisions.
type DecisionData struct {
	ID         string                `json:"id"`
	SignalID   string                `json:"signal_id"`
	Symbol     string                `json:"symbol"`
	Side       models.Side           `json:"side"`
	Action     models.DecisionAction `json:"action"`
	Stage      string                `json:"stage"`
	Reason     string                `json:"reason,omitempty"`
	EntryPrice float64               `json:"entry_price,omitempty"`
	TakeProfit float64               `json:"take_profit,omitempty"`
	StopLoss   float64               `json:"stop_loss,omitempty"`
	TPBps      float64               `json:"tp_bps,omitempty"`
	SLBps      float64               `json:"sl_bps,omitempty"`
	SizeMult   float64               `json:"size_multiplier"`
}

// ActiveSetMessage - активный набор инструментов
type ActiveSetMessage struct {
	BaseMessage
	Data *models.ActivePairSet `json:"data"`
}

// SafetyMessage - состояние машины безопасности
type SafetyMessage struct {
	BaseMessage
	Data *models.SafetyStatus `json:"data"`
}

// NewDecisionMessage создает сообщение о решении гейта
func NewDecisionMessage(d models.Decision) *DecisionMessage {
	data := &DecisionData{
		ID:         d.ID,
		SignalID:   d.Signal.ID,
		Symbol:     d.Signal.Symbol,
		Side:       d.Signal.Side,
		Action:     d.Action,
		Stage:      d.Stage,
		Reason:     d.Reason,
		EntryPrice: d.EntryPrice,
		TakeProfit: d.TakeProfitPrice,
		StopLoss:   d.StopLossPrice,
		SizeMult:   d.PositionSizeMultiplier,
	}
	if d.Targets != nil {
		data.TPBps = d.Targets.TPBps
		data.SLBps = d.Targets.SLBps
	}

	return &DecisionMessage{
		BaseMessage: BaseMessage{Type: MessageTypeDecision, Timestamp: d.CreatedAt},
		Data:        data,
	}
}

// NewActiveSetMessage создает сообщение об активном наборе
func NewActiveSetMessage(set *models.ActivePairSet) *ActiveSetMessage {
	return &ActiveSetMessage{
		BaseMessage: BaseMessage{Type: MessageTypeActiveSet, Timestamp: time.Now()},
		Data:        set,
	}
}

// NewSafetyMessage создает сообщение о состоянии безопасности
func NewSafetyMessage(status models.SafetyStatus) *SafetyMessage {
	return &SafetyMessage{
		BaseMessage: BaseMessage{Type: MessageTypeSafety, Timestamp: time.Now()},
		Data:        &status,
	}
}
