package bot

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"riskgate/internal/models"
)

var errNotFound = errors.New("not found")

// ============ MarketDataProvider ============

type fakeProvider struct {
	mu            sync.Mutex
	candles       map[string][]models.Candle
	snapshots     map[string]models.MarketSnapshot
	historyErr    map[string]error
	snapshotErr   error
	delay         time.Duration
	inFlight      int
	maxInFlight   int
	historyCalls  int
	snapshotCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		candles:    make(map[string][]models.Candle),
		snapshots:  make(map[string]models.MarketSnapshot),
		historyErr: make(map[string]error),
	}
}

func (p *fakeProvider) GetHistory(ctx context.Context, symbol, interval string, lookback int) ([]models.Candle, error) {
	p.mu.Lock()
	p.historyCalls++
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	delay := p.delay
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.historyErr[symbol]; err != nil {
		return nil, err
	}
	c, ok := p.candles[symbol]
	if !ok {
		return nil, errNotFound
	}
	if lookback > 0 && len(c) > lookback {
		c = c[len(c)-lookback:]
	}
	return c, nil
}

func (p *fakeProvider) GetSnapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshotCalls++
	if p.snapshotErr != nil {
		return models.MarketSnapshot{}, p.snapshotErr
	}
	s, ok := p.snapshots[symbol]
	if !ok {
		return models.MarketSnapshot{}, errNotFound
	}
	return s, nil
}

// addHealthy регистрирует кандидата, проходящего все дисквалификаторы
func (p *fakeProvider) addHealthy(symbol string, seed int64, volumeUSD float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[symbol] = makeCandles(randomWalk(seed, 24, 100, 0.005), 0.2)
	p.snapshots[symbol] = healthySnapshot(symbol, volumeUSD)
}

func healthySnapshot(symbol string, volumeUSD float64) models.MarketSnapshot {
	return models.MarketSnapshot{
		Symbol:        symbol,
		Last:          100,
		High:          100.5,
		Low:           99.5,
		Close:         100,
		Bid:           99.99,
		Ask:           100.01,
		VolumeUSD:     volumeUSD,
		WsLatencyMs:   50,
		RestLatencyMs: 100,
	}
}

// randomWalk - детерминированное случайное блуждание с шагом ±step
func randomWalk(seed int64, n int, start, step float64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	out[0] = start
	for i := 1; i < n; i++ {
		out[i] = out[i-1] * (1 + step*(2*r.Float64()-1))
	}
	return out
}

// ============ Blacklist / PositionSource ============

type fakeBlacklist map[string]bool

func (b fakeBlacklist) IsBlacklisted(symbol string) bool { return b[symbol] }

type fakeUniverse map[string]bool

func (u fakeUniverse) IsActive(symbol string) bool { return u[symbol] }

type fakePositions []string

func (p fakePositions) OpenPositions() []string { return p }

// ============ OrderExecutor / DecisionSink ============

type fakeExecutor struct {
	mu        sync.Mutex
	decisions []models.Decision
	err       error
}

func (e *fakeExecutor) Execute(ctx context.Context, d models.Decision) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decisions = append(e.decisions, d)
	return e.err
}

func (e *fakeExecutor) Decisions() []models.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Decision(nil), e.decisions...)
}

type fakeSink struct {
	name string
	mu   sync.Mutex
	got  []models.Decision
	err  error
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Publish(ctx context.Context, d models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, d)
	return s.err
}

func (s *fakeSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}
