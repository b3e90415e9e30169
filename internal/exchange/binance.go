package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"riskgate/internal/bot"
	"riskgate/internal/config"
	"riskgate/internal/models"
	"riskgate/pkg/ratelimit"
	"riskgate/pkg/retry"
	"riskgate/pkg/utils"
)

// Коды ошибок Binance API
const (
	codeTooManyRequests = -1003
	codeInvalidSymbol   = -1121
)

const (
	// snapshotInterval - свечи для диапазона и ATR снапшота
	snapshotInterval = "1m"
	maxKlineLimit    = 1000
)

// BinanceProvider - MarketDataProvider поверх Binance spot REST API
//
// Снапшот собирается из трёх запросов:
// - 24h статистика: last, оборот в валюте котировки, резервный bid/ask
// - book ticker: текущий bid/ask
// - минутные свечи: диапазон последней закрытой свечи и ATR(14)
//
// Задержка REST - время ответа запроса 24h статистики.
// Задержка WS берётся из LatencyTracker, если он подключён.
type BinanceProvider struct {
	client  *binance.Client
	httpc   *http.Client
	limiter *ratelimit.RateLimiter
	retry   retry.Config
	latency *LatencyTracker
	log     *utils.Logger
	now     func() time.Time
}

// ProviderOption - опция конструктора провайдера
type ProviderOption func(*BinanceProvider)

// WithBaseURL подменяет адрес REST API
func WithBaseURL(url string) ProviderOption {
	return func(p *BinanceProvider) { p.client.BaseURL = url }
}

// WithLatencyTracker подключает трекер задержки websocket
func WithLatencyTracker(t *LatencyTracker) ProviderOption {
	return func(p *BinanceProvider) { p.latency = t }
}

// WithProviderClock подменяет источник времени
func WithProviderClock(now func() time.Time) ProviderOption {
	return func(p *BinanceProvider) { p.now = now }
}

// NewBinanceProvider создаёт провайдера рыночных данных
func NewBinanceProvider(cfg config.ExchangeConfig, logger *utils.Logger, opts ...ProviderOption) *BinanceProvider {
	if logger == nil {
		logger = utils.L()
	}

	// UseTestnet читается в NewClient
	binance.UseTestnet = cfg.Testnet
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	httpc := NewHTTPClient(DefaultHTTPClientConfig(cfg.RequestTimeout))
	client.HTTPClient = httpc

	log := logger.WithComponent("exchange")
	p := &BinanceProvider{
		client:  client,
		httpc:   httpc,
		limiter: ratelimit.NewRateLimiter(float64(cfg.RequestsPerSecond), float64(cfg.Burst)),
		retry: retry.Config{
			MaxRetries:   cfg.MaxRetries + 1,
			InitialDelay: cfg.RetryBackoff,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
			RetryIf: func(err error) bool {
				return retry.RetryIfNotContext(err) && retry.IsRetryable(err)
			},
			OnRetry: func(attempt int, err error, delay time.Duration) {
				log.Debug("retrying exchange request",
					utils.Int("attempt", attempt), utils.Err(err), utils.String("delay", delay.String()))
			},
		},
		log: log,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetSnapshot возвращает текущее состояние инструмента
func (p *BinanceProvider) GetSnapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error) {
	symbol = utils.NormalizeSymbol(symbol)

	var stats []*binance.PriceChangeStats
	rtt, err := p.call(ctx, "ticker_24h", func(ctx context.Context) error {
		var err error
		stats, err = p.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return models.MarketSnapshot{}, err
	}
	if len(stats) == 0 || stats[0] == nil {
		return models.MarketSnapshot{}, &ExchangeError{
			Exchange: ProviderName, Op: "ticker_24h", Message: "no stats for " + symbol, Original: ErrEmptyResponse,
		}
	}
	st := stats[0]

	snap := models.MarketSnapshot{
		Symbol:        symbol,
		Last:          parseFloat(st.LastPrice),
		Bid:           parseFloat(st.BidPrice),
		Ask:           parseFloat(st.AskPrice),
		VolumeUSD:     parseFloat(st.QuoteVolume),
		RestLatencyMs: millis(rtt),
		Timestamp:     p.now(),
	}

	var book []*binance.BookTicker
	_, err = p.call(ctx, "book_ticker", func(ctx context.Context) error {
		var err error
		book, err = p.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
		return err
	})
	switch {
	case err != nil:
		p.log.Debug("book ticker unavailable, using 24h quote", utils.Symbol(symbol), utils.Err(err))
	case len(book) > 0 && book[0] != nil:
		snap.Bid = parseFloat(book[0].BidPrice)
		snap.Ask = parseFloat(book[0].AskPrice)
	}

	candles, err := p.GetHistory(ctx, symbol, snapshotInterval, bot.AtrPeriod+1)
	if err != nil || len(candles) == 0 {
		// Диапазон за 24ч шире минутного, но лучше отсутствующего
		p.log.Debug("recent candles unavailable, using 24h range", utils.Symbol(symbol), utils.Err(err))
		snap.High = parseFloat(st.HighPrice)
		snap.Low = parseFloat(st.LowPrice)
		snap.Close = snap.Last
	} else {
		last := candles[len(candles)-1]
		snap.High = last.High
		snap.Low = last.Low
		snap.Close = last.Close
		if atr := bot.ATR(candles, bot.AtrPeriod); atr > 0 {
			snap.ATR = &atr
		}
	}

	if p.latency != nil {
		if lag, ok := p.latency.Latency(symbol); ok {
			snap.WsLatencyMs = lag
		}
	}

	return snap, nil
}

// GetHistory возвращает до lookback последних закрытых свечей, старые первыми
func (p *BinanceProvider) GetHistory(ctx context.Context, symbol, interval string, lookback int) ([]models.Candle, error) {
	if !IsSupportedInterval(interval) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	symbol = utils.NormalizeSymbol(symbol)
	if lookback < 1 {
		lookback = 1
	}
	// +1 на формирующуюся свечу
	limit := lookback + 1
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	var klines []*binance.Kline
	_, err := p.call(ctx, "klines", func(ctx context.Context) error {
		var err error
		klines, err = p.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	nowMs := p.now().UnixMilli()
	out := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		if k == nil || k.CloseTime >= nowMs {
			continue
		}
		out = append(out, models.Candle{
			OpenTime:    time.UnixMilli(k.OpenTime).UTC(),
			Open:        parseFloat(k.Open),
			High:        parseFloat(k.High),
			Low:         parseFloat(k.Low),
			Close:       parseFloat(k.Close),
			Volume:      parseFloat(k.Volume),
			QuoteVolume: parseFloat(k.QuoteAssetVolume),
		})
	}
	if len(out) == 0 {
		return nil, &ExchangeError{
			Exchange: ProviderName, Op: "klines", Message: "no closed candles for " + symbol, Original: ErrEmptyResponse,
		}
	}
	if len(out) > lookback {
		out = out[len(out)-lookback:]
	}
	return out, nil
}

// Close освобождает соединения провайдера
func (p *BinanceProvider) Close() error {
	closeIdle(p.httpc)
	return nil
}

// call выполняет REST запрос с rate limit и повторами
//
// Возвращает время ответа последней попытки.
func (p *BinanceProvider) call(ctx context.Context, op string, fn func(ctx context.Context) error) (time.Duration, error) {
	var rtt time.Duration
	err := retry.Do(ctx, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		start := time.Now()
		err := fn(ctx)
		rtt = time.Since(start)
		bot.RecordExchangeRequest(op, err, millis(rtt))
		return classifyError(op, err)
	}, p.retry)
	return rtt, err
}

// classifyError оборачивает ошибку Binance и помечает неповторяемые
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return &ExchangeError{Exchange: ProviderName, Op: op, Message: err.Error(), Original: err}
	}

	xe := &ExchangeError{Exchange: ProviderName, Op: op, Code: apiErr.Code, Message: apiErr.Message, Original: err}
	switch {
	case apiErr.Code == codeInvalidSymbol:
		xe.Original = ErrUnknownSymbol
		return retry.Permanent(xe)
	case apiErr.Code == codeTooManyRequests:
		return xe
	case apiErr.Code <= -1100 && apiErr.Code > -1200:
		// ошибки параметров запроса
		return retry.Permanent(xe)
	default:
		return xe
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
