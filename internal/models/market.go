package models

import "time"

// MarketSnapshot - текущее наблюдаемое состояние одного инструмента
//
// Создаётся заново на каждую оценку, ядро его не хранит.
// Нулевые Bid/Ask означают, что котировка недоступна.
// Нулевые латентности означают "не измерено" и фильтрами не отклоняются.
type MarketSnapshot struct {
	Symbol        string    `json:"symbol"`
	Last          float64   `json:"last"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	VolumeUSD     float64   `json:"volume_usd"`      // оборот за 24ч в валюте котировки
	WsLatencyMs   float64   `json:"ws_latency_ms"`   // задержка websocket фида
	RestLatencyMs float64   `json:"rest_latency_ms"` // задержка REST API
	ATR           *float64  `json:"atr,omitempty"`   // оценка ATR в единицах цены (опционально)
	Timestamp     time.Time `json:"timestamp"`
}

// HasQuote возвращает true если есть валидная пара bid/ask
func (s MarketSnapshot) HasQuote() bool {
	return s.Bid > 0 && s.Ask > 0 && s.Ask >= s.Bid
}

// Mid возвращает середину спреда или 0 если котировки нет
func (s MarketSnapshot) Mid() float64 {
	if !s.HasQuote() {
		return 0
	}
	return (s.Bid + s.Ask) / 2
}

// ReferencePrice возвращает цену для расчёта целей: Last, затем Close, затем Mid
func (s MarketSnapshot) ReferencePrice() float64 {
	if s.Last > 0 {
		return s.Last
	}
	if s.Close > 0 {
		return s.Close
	}
	return s.Mid()
}

// Candle - одна OHLCV свеча истории
type Candle struct {
	OpenTime    time.Time `json:"open_time"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	QuoteVolume float64   `json:"quote_volume"`
}
