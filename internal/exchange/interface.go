// Package exchange предоставляет источник рыночных данных для гейта и селектора.
package exchange

import (
	"errors"
	"fmt"
)

// Ошибки провайдера рыночных данных
var (
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrEmptyResponse   = errors.New("empty exchange response")
	ErrInvalidInterval = errors.New("invalid kline interval")
)

// ProviderName - имя провайдера в логах и метриках
const ProviderName = "binance"

// SupportedIntervals - интервалы свечей Binance
var SupportedIntervals = []string{
	"1m", "3m", "5m", "15m", "30m",
	"1h", "2h", "4h", "6h", "8h", "12h",
	"1d", "3d", "1w", "1M",
}

// IsSupportedInterval проверяет, поддерживается ли интервал свечей
func IsSupportedInterval(interval string) bool {
	for _, supported := range SupportedIntervals {
		if interval == supported {
			return true
		}
	}
	return false
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Op       string
	Code     int64
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s %s: code=%d %s", e.Exchange, e.Op, e.Code, e.Message)
	}
	return e.Exchange + " " + e.Op + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

