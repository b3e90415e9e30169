package utils

import (
	"math"
	"sort"
)

// math.go - математические утилиты для риск-гейта
//
// Назначение:
// Вспомогательные функции для расчётов в базисных пунктах (bps)
// и простая статистика по рядам. Все функции чистые.
//
// Функции:
// - ToBps / FromBps: перевод долей в базисные пункты и обратно
// - SpreadBps / RangeBps: спред и дневной диапазон в bps
// - PriceOffset: цена TP/SL по смещению в bps
// - PercentileRank: ранг объёма в выборке кандидатов

// BpsPerUnit - количество базисных пунктов в единице (1 bps = 0.01%)
const BpsPerUnit = 10000.0

// ToBps переводит относительное изменение в базисные пункты.
//
// Пример: ToBps(0.0015) = 15
func ToBps(fraction float64) float64 {
	return fraction * BpsPerUnit
}

// FromBps переводит базисные пункты в долю.
//
// Пример: FromBps(22) = 0.0022
func FromBps(bps float64) float64 {
	return bps / BpsPerUnit
}

// SpreadBps вычисляет спред между bid и ask относительно mid в bps.
//
// Возвращает:
//   - (ask - bid) / mid * 10000
//   - 0 если котировка отсутствует (bid <= 0 или ask <= 0)
//   - 0 если котировка пересечена (ask < bid)
func SpreadBps(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 || ask < bid {
		return 0
	}
	mid := (bid + ask) / 2
	return (ask - bid) / mid * BpsPerUnit
}

// RangeBps вычисляет диапазон (high - low) относительно цены закрытия в bps.
//
// Возвращает 0 если close <= 0 или high < low.
//
// Пример: RangeBps(101, 100, 600) = 16.67
func RangeBps(high, low, close float64) float64 {
	if close <= 0 || high < low {
		return 0
	}
	return (high - low) / close * BpsPerUnit
}

// PriceOffset смещает цену на заданное количество bps (знак задаёт направление).
//
// Пример: PriceOffset(100, 22) = 100.22
func PriceOffset(price, bps float64) float64 {
	return price * (1 + FromBps(bps))
}

// IsFinite проверяет что число не NaN и не ±Inf
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// ============================================================
// Статистика по выборке
// ============================================================

// PercentileRank возвращает долю остальных элементов выборки, строго меньших value,
// в диапазоне [0, 1]. Максимум выборки всегда получает 1, минимум 0.
//
// Для выборки из одного элемента возвращает 1.
func PercentileRank(values []float64, value float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return 1
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	below := sort.SearchFloat64s(sorted, value)
	if value >= sorted[n-1] {
		return 1
	}
	return Clamp(float64(below)/float64(n-1), 0, 1)
}

// ============================================================
// Базовые функции
// ============================================================

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
