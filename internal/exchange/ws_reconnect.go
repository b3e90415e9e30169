package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2"

	"riskgate/internal/bot"
	"riskgate/pkg/utils"
)

// StreamConfig конфигурация переподключения потока aggTrade
type StreamConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток подряд (0 = бесконечно)
	MaxRetries int
	// Без событий дольше этого задержка считается по возрасту последнего события
	StaleAfter time.Duration
}

// DefaultStreamConfig возвращает конфигурацию по умолчанию: 2s, 4s, 8s, 16s
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     16 * time.Second,
		MaxRetries:   0,
		StaleAfter:   30 * time.Second,
	}
}

// StreamState состояние websocket потока
type StreamState int32

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamConnected
	StreamReconnecting
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamDisconnected:
		return "disconnected"
	case StreamConnecting:
		return "connecting"
	case StreamConnected:
		return "connected"
	case StreamReconnecting:
		return "reconnecting"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// serveFunc - подключение к combined потоку aggTrade
type serveFunc func(symbols []string, handler binance.WsAggTradeHandler, errHandler binance.ErrHandler) (doneC, stopC chan struct{}, err error)

// LatencyTracker измеряет задержку websocket фида по потоку aggTrade
//
// Задержка - разница между локальным временем получения и временем
// события биржи. Если событий нет дольше StaleAfter, задержкой считается
// возраст последнего события: молчащий фид не проходит фильтр латентности.
//
// Набор символов меняется через SetSymbols (обычно по активному набору
// селектора), после чего поток переподключается с новым списком.
type LatencyTracker struct {
	cfg   StreamConfig
	log   *utils.Logger
	serve serveFunc
	now   func() time.Time

	state      int32 // atomic StreamState
	retryCount int32 // atomic

	mu      sync.RWMutex
	symbols []string
	samples map[string]latencySample

	resubscribe chan struct{}
}

type latencySample struct {
	lagMs      float64
	receivedAt time.Time
}

// NewLatencyTracker создаёт трекер задержки
func NewLatencyTracker(cfg StreamConfig, logger *utils.Logger) *LatencyTracker {
	if logger == nil {
		logger = utils.L()
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	return &LatencyTracker{
		cfg:         cfg,
		log:         logger.WithComponent("market_stream"),
		serve:       binance.WsCombinedAggTradeServe,
		now:         time.Now,
		samples:     make(map[string]latencySample),
		resubscribe: make(chan struct{}, 1),
	}
}

// SetSymbols задаёт набор символов потока
func (t *LatencyTracker) SetSymbols(symbols []string) {
	next := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = utils.NormalizeSymbol(s); s != "" {
			next = append(next, s)
		}
	}
	sort.Strings(next)

	t.mu.Lock()
	if equalStrings(t.symbols, next) {
		t.mu.Unlock()
		return
	}
	t.symbols = next
	t.mu.Unlock()

	select {
	case t.resubscribe <- struct{}{}:
	default:
	}
}

// Symbols возвращает текущий набор символов
func (t *LatencyTracker) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.symbols...)
}

// Observe учитывает событие aggTrade
func (t *LatencyTracker) Observe(ev *binance.WsAggTradeEvent) {
	if ev == nil || ev.Symbol == "" {
		return
	}
	now := t.now()
	lag := float64(now.UnixMilli() - ev.Time)
	if lag < 0 {
		// расхождение часов
		lag = 0
	}

	t.mu.Lock()
	t.samples[ev.Symbol] = latencySample{lagMs: lag, receivedAt: now}
	t.mu.Unlock()
}

// Latency возвращает задержку фида символа в мс
//
// false - событий по символу ещё не было.
func (t *LatencyTracker) Latency(symbol string) (float64, bool) {
	t.mu.RLock()
	s, ok := t.samples[utils.NormalizeSymbol(symbol)]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}

	if t.cfg.StaleAfter > 0 {
		if age := t.now().Sub(s.receivedAt); age > t.cfg.StaleAfter {
			return millis(age), true
		}
	}
	return s.lagMs, true
}

// State возвращает состояние потока
func (t *LatencyTracker) State() StreamState {
	return StreamState(atomic.LoadInt32(&t.state))
}

// Run держит поток открытым до отмены контекста
//
// Разрывы и ошибки подключения переподключаются с exponential backoff.
// Возвращает ошибку, если исчерпан MaxRetries подряд неудачных попыток.
func (t *LatencyTracker) Run(ctx context.Context) error {
	delay := t.cfg.InitialDelay

	for {
		// сигнал уже учтён: набор читается ниже
		select {
		case <-t.resubscribe:
		default:
		}

		symbols := t.Symbols()
		if len(symbols) == 0 {
			t.setState(StreamDisconnected)
			select {
			case <-ctx.Done():
				t.setState(StreamClosed)
				return ctx.Err()
			case <-t.resubscribe:
				continue
			}
		}

		t.setState(StreamConnecting)
		doneC, stopC, err := t.serve(symbols, t.Observe, t.onError)
		if err != nil {
			attempt := atomic.AddInt32(&t.retryCount, 1)
			bot.StreamReconnects.Inc()
			if t.cfg.MaxRetries > 0 && int(attempt) > t.cfg.MaxRetries {
				t.setState(StreamDisconnected)
				return fmt.Errorf("market stream: max reconnect attempts (%d) reached: %w", t.cfg.MaxRetries, err)
			}

			t.log.Warn("market stream connect failed",
				utils.Err(err), utils.Int("attempt", int(attempt)), utils.String("retry_in", delay.String()))
			t.setState(StreamReconnecting)
			if !t.sleep(ctx, delay) {
				t.setState(StreamClosed)
				return ctx.Err()
			}
			delay = nextDelay(delay, t.cfg.MaxDelay)
			continue
		}

		t.setState(StreamConnected)
		atomic.StoreInt32(&t.retryCount, 0)
		delay = t.cfg.InitialDelay
		t.log.Info("market stream connected", utils.Symbols(symbols))

		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			t.setState(StreamClosed)
			return ctx.Err()

		case <-t.resubscribe:
			close(stopC)
			<-doneC
			t.log.Debug("market stream resubscribing")

		case <-doneC:
			bot.StreamReconnects.Inc()
			t.setState(StreamReconnecting)
			t.log.Warn("market stream disconnected", utils.String("retry_in", delay.String()))
			if !t.sleep(ctx, delay) {
				t.setState(StreamClosed)
				return ctx.Err()
			}
		}
	}
}

func (t *LatencyTracker) onError(err error) {
	t.log.Warn("market stream error", utils.Err(err))
}

func (t *LatencyTracker) setState(s StreamState) {
	atomic.StoreInt32(&t.state, int32(s))
}

// sleep ждёт d; false если контекст отменён раньше
func (t *LatencyTracker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		d = limit
	}
	return d
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
