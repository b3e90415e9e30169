package models

import "riskgate/pkg/utils"

// TargetMode - режим расчёта тейк-профита и стоп-лосса
type TargetMode string

const (
	TargetModeFixedMin   TargetMode = "fixed_min"   // фиксированный минимум TP
	TargetModeAtrDynamic TargetMode = "atr_dynamic" // TP/SL от ATR
)

// FrictionModel - торговые издержки сессии в базисных пунктах
//
// Неизменяема после старта. Round-trip = вход + выход, поэтому комиссия
// учитывается дважды по худшей из ставок maker/taker.
type FrictionModel struct {
	TakerFeeBps float64 `json:"taker_fee_bps"`
	MakerFeeBps float64 `json:"maker_fee_bps"`
	SlippageBps float64 `json:"slippage_bps"`
	BufferBps   float64 `json:"buffer_bps"` // запас сверх безубытка
}

// FrictionBps возвращает полные издержки round-trip: 2 × max(fee) + slippage
func (f FrictionModel) FrictionBps() float64 {
	fee := f.TakerFeeBps
	if f.MakerFeeBps > fee {
		fee = f.MakerFeeBps
	}
	return 2*fee + f.SlippageBps
}

// TPFloorBps возвращает минимально допустимый TP: издержки + буфер
func (f FrictionModel) TPFloorBps() float64 {
	return f.FrictionBps() + f.BufferBps
}

// TradeTargets - результат калькулятора целей
type TradeTargets struct {
	Mode         TargetMode `json:"mode"`
	TPBps        float64    `json:"tp_bps"`
	SLBps        float64    `json:"sl_bps"`
	TPFloorBps   float64    `json:"tp_floor_bps"`
	FrictionBps  float64    `json:"friction_bps"`
	RewardToRisk float64    `json:"reward_to_risk"`
	AtrBps       float64    `json:"atr_bps,omitempty"` // только для atr_dynamic
}

// TakeProfitPrice возвращает цену TP для входа по entry в направлении side
func (t TradeTargets) TakeProfitPrice(side Side, entry float64) float64 {
	if side == SideSell {
		return utils.PriceOffset(entry, -t.TPBps)
	}
	return utils.PriceOffset(entry, t.TPBps)
}

// StopLossPrice возвращает цену SL для входа по entry в направлении side
func (t TradeTargets) StopLossPrice(side Side, entry float64) float64 {
	if side == SideSell {
		return utils.PriceOffset(entry, t.SLBps)
	}
	return utils.PriceOffset(entry, -t.SLBps)
}
