package bot

import (
	"math"

	"riskgate/internal/models"
)

// ============================================================
// Индикаторы для оценки кандидатов селектора
// ============================================================
//
// Все функции чистые и работают над срезом свечей в порядке времени
// (старые первыми). При недостатке данных возвращается 0 / false.

// Параметры индикаторов
const (
	AtrPeriod       = 14
	EmaShortPeriod  = 5
	EmaMediumPeriod = 10
	EmaLongPeriod   = 20
	SlopeWindow     = 10
	SlopeNormBps    = 10.0 // наклон регрессии в bps/свечу, дающий полный вклад
)

// Веса trend_score
const (
	trendAlignmentWeight = 0.4
	trendSlopeWeight     = 0.3
	trendVolatilityBonus = 0.3
)

// TrueRange - истинный диапазон свечи относительно предыдущего close
func TrueRange(c models.Candle, prevClose float64) float64 {
	tr := c.High - c.Low
	if prevClose > 0 {
		tr = math.Max(tr, math.Abs(c.High-prevClose))
		tr = math.Max(tr, math.Abs(c.Low-prevClose))
	}
	return tr
}

// ATR - средний истинный диапазон со сглаживанием Уайлдера
//
// Первое значение - простое среднее первых period TR, дальше
// atr = (atr*(period-1) + tr) / period. Нужно минимум period+1 свечей.
func ATR(candles []models.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += TrueRange(candles[i], candles[i-1].Close)
	}
	atr := sum / float64(period)

	for i := period + 1; i < len(candles); i++ {
		tr := TrueRange(candles[i], candles[i-1].Close)
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// EMA - экспоненциальная средняя по ряду, затравка SMA первых period значений
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	var sum float64
	for _, v := range values[:period] {
		sum += v
	}
	ema := sum / float64(period)

	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// RegressionSlope - наклон МНК прямой через последние window значений
//
// Возвращается в единицах значения на шаг.
func RegressionSlope(values []float64, window int) float64 {
	if window < 2 || len(values) < window {
		return 0
	}
	tail := values[len(values)-window:]

	n := float64(window)
	meanX := (n - 1) / 2
	var meanY float64
	for _, y := range tail {
		meanY += y
	}
	meanY /= n

	var num, den float64
	for i, y := range tail {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Returns - относительные приращения close-to-close
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// Correlation - корреляция Пирсона двух рядов, выровненных по хвосту
//
// ok == false если общих точек меньше 3 или один из рядов постоянен.
func Correlation(a, b []float64) (corr float64, ok bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 3 {
		return 0, false
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}

// Normalize линейно отображает v из [lo, hi] в [0, 1] с отсечением
func Normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	switch {
	case v <= lo:
		return 0
	case v >= hi:
		return 1
	default:
		return (v - lo) / (hi - lo)
	}
}

// Closes извлекает цены закрытия
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// WindowRange возвращает max(high) и min(low) по окну
func WindowRange(candles []models.Candle) (high, low float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	high, low = candles[0].High, candles[0].Low
	for _, c := range candles[1:] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	return high, low
}

// EmaAligned проверяет монотонный порядок коротких/средних/длинных EMA
//
// Засчитывается как бычье (short > medium > long), так и медвежье выравнивание.
func EmaAligned(closes []float64) bool {
	if len(closes) < EmaLongPeriod {
		return false
	}
	s := EMA(closes, EmaShortPeriod)
	m := EMA(closes, EmaMediumPeriod)
	l := EMA(closes, EmaLongPeriod)
	return (s > m && m > l) || (s < m && m < l)
}

// SlopeBps - наклон регрессии последних SlopeWindow close в bps на свечу
func SlopeBps(closes []float64) float64 {
	if len(closes) < SlopeWindow {
		return 0
	}
	last := closes[len(closes)-1]
	if last <= 0 {
		return 0
	}
	return RegressionSlope(closes, SlopeWindow) / last * 10000
}

// TrendScore собирает trend_score в [0, 1]
func TrendScore(closes []float64, atrBps, volatilityFloorBps float64) float64 {
	var score float64
	if EmaAligned(closes) {
		score += trendAlignmentWeight
	}
	score += trendSlopeWeight * Normalize(math.Abs(SlopeBps(closes)), 0, SlopeNormBps)
	if atrBps > volatilityFloorBps {
		score += trendVolatilityBonus
	}
	return math.Min(score, 1)
}
