package bot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"riskgate/internal/config"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// ============================================================
// Селектор торгуемых инструментов
// ============================================================
//
// Цикл ребалансировки:
//  1. Параллельная загрузка истории и снапшота кандидатов (таймаут на загрузку)
//  2. Расчёт метрик и скора, жёсткие дисквалификаторы
//  3. Закреплённые символы с открытыми позициями
//  4. Жадный отбор по скору с исключением коррелированных пар
//  5. Добивка из резервного списка
//  6. Атомарная публикация набора и рассылка подписчикам

// Веса композитного скора
const (
	weightVolumeRank = 0.35
	weightAtr        = 0.25
	weightTrend      = 0.25
	weightRange      = 0.10
	weightSpread     = 0.15
)

// Диапазоны нормализации метрик, bps
const (
	atrNormLo    = 10.0
	atrNormHi    = 50.0
	rangeNormLo  = 20.0
	rangeNormHi  = 200.0
	spreadNormLo = 0.5
	spreadNormHi = 3.0
)

// Исходы ребалансировки для метрик
const (
	RebalanceScored   = "scored"
	RebalanceFallback = "fallback"
	RebalanceAborted  = "aborted"
)

// candidateData - загруженные данные кандидата за цикл
type candidateData struct {
	symbol   string
	candles  []models.Candle
	snapshot *models.MarketSnapshot
	err      error
}

// Selector - выбирает активный набор инструментов
type Selector struct {
	cfg       config.SelectorConfig
	provider  MarketDataProvider
	blacklist Blacklist
	positions PositionSource
	log       *utils.Logger
	now       func() time.Time

	active atomic.Pointer[models.ActivePairSet]

	rebalanceMu sync.Mutex // один цикл ребалансировки за раз

	mu            sync.RWMutex
	scores        []models.PairScore
	lastRebalance time.Time
	rebalances    int64
	generation    int64
	subscribers   []chan *models.ActivePairSet
}

// SelectorOption - опция конструктора селектора
type SelectorOption func(*Selector)

// WithSelectorClock подменяет источник времени
func WithSelectorClock(now func() time.Time) SelectorOption {
	return func(s *Selector) { s.now = now }
}

// WithBlacklist подключает список исключённых символов
func WithBlacklist(b Blacklist) SelectorOption {
	return func(s *Selector) { s.blacklist = b }
}

// WithPositionSource подключает источник открытых позиций для Run
func WithPositionSource(p PositionSource) SelectorOption {
	return func(s *Selector) { s.positions = p }
}

// NewSelector создаёт селектор; до первой ребалансировки набор пуст
func NewSelector(cfg config.SelectorConfig, provider MarketDataProvider, logger *utils.Logger, opts ...SelectorOption) *Selector {
	if logger == nil {
		logger = utils.L()
	}
	if cfg.MaxConcurrentFetches < 1 {
		cfg.MaxConcurrentFetches = 1
	}
	if cfg.LookbackCandles < AtrPeriod+1 {
		cfg.LookbackCandles = AtrPeriod + 1
	}

	s := &Selector{
		cfg:      cfg,
		provider: provider,
		log:      logger.WithComponent("selector"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================
// Публичный API
// ============================================================

// ShouldRebalance решает, пора ли пересчитывать активный набор
//
// false если активный набор содержит символ с открытой позицией
// (при LockOnOpenPosition), либо с прошлой ребалансировки прошло меньше
// RebalanceInterval или MinTimeBetweenSwitches. Первая ребалансировка
// разрешена всегда, если набор не заблокирован.
func (s *Selector) ShouldRebalance(now time.Time, openPositions []string) bool {
	if s.cfg.LockOnOpenPosition {
		active := s.active.Load()
		for _, sym := range openPositions {
			if active.Contains(utils.NormalizeSymbol(sym)) {
				return false
			}
		}
	}

	s.mu.RLock()
	last := s.lastRebalance
	s.mu.RUnlock()

	if last.IsZero() {
		return true
	}
	elapsed := now.Sub(last)
	if elapsed < s.cfg.RebalanceInterval {
		return false
	}
	if elapsed < s.cfg.MinTimeBetweenSwitches {
		return false
	}
	return true
}

// SelectActivePairs оценивает кандидатов, публикует и возвращает новый набор
//
// Размер набора не превышает MaxActivePairs. Ошибки загрузки исключают
// кандидата; если не загрузился ни один, набор собирается из резервного
// списка. При отмене контекста публикация не выполняется и
// возвращается текущий набор.
func (s *Selector) SelectActivePairs(ctx context.Context, candidates, openPositions []string) []string {
	set := s.rebalance(ctx, candidates, openPositions)
	if set == nil {
		return nil
	}
	return append([]string(nil), set.Symbols...)
}

// Rebalance выполняет цикл по кандидатам из конфигурации
func (s *Selector) Rebalance(ctx context.Context) *models.ActivePairSet {
	return s.rebalance(ctx, s.cfg.Candidates, s.openPositions())
}

// Run периодически проверяет ShouldRebalance и ребалансирует до отмены контекста
func (s *Selector) Run(ctx context.Context) error {
	if s.ShouldRebalance(s.now(), s.openPositions()) {
		s.Rebalance(ctx)
	}

	interval := s.cfg.RebalanceInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			positions := s.openPositions()
			if !s.ShouldRebalance(s.now(), positions) {
				s.log.Debug("rebalance skipped", utils.Symbols(positions))
				continue
			}
			s.rebalance(ctx, s.cfg.Candidates, positions)
		}
	}
}

// ActiveSet возвращает опубликованный набор (nil до первой публикации)
func (s *Selector) ActiveSet() *models.ActivePairSet {
	return s.active.Load()
}

// IsActive проверяет входит ли символ в активный набор
func (s *Selector) IsActive(symbol string) bool {
	return s.active.Load().Contains(symbol)
}

// Subscribe возвращает канал новых наборов и функцию отписки
//
// Доставка неблокирующая: медленный подписчик пропускает промежуточные наборы.
func (s *Selector) Subscribe() (<-chan *models.ActivePairSet, func()) {
	ch := make(chan *models.ActivePairSet, 1)

	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subscribers {
				if sub == ch {
					s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, unsubscribe
}

// GetUniverseSnapshot возвращает снимок селектора для телеметрии
func (s *Selector) GetUniverseSnapshot() models.UniverseSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := make([]models.PairScore, len(s.scores))
	copy(scores, s.scores)

	return models.UniverseSnapshot{
		Active:        s.active.Load(),
		Scores:        scores,
		LastRebalance: s.lastRebalance,
		Rebalances:    s.rebalances,
	}
}

// ============================================================
// Цикл ребалансировки
// ============================================================

func (s *Selector) rebalance(ctx context.Context, candidates, openPositions []string) *models.ActivePairSet {
	s.rebalanceMu.Lock()
	defer s.rebalanceMu.Unlock()

	start := time.Now()
	symbols := s.normalizeCandidates(candidates)
	data := s.fetchAll(ctx, symbols)

	if ctx.Err() != nil {
		RecordRebalance(RebalanceAborted, time.Since(start).Seconds(), s.activeCount())
		s.log.Warn("rebalance aborted", utils.Err(ctx.Err()))
		return s.active.Load()
	}

	scores, returns := s.scoreAll(data)
	set := s.selectSet(scores, returns, openPositions)

	outcome := RebalanceScored
	if len(set.Fallback) > 0 && len(set.Symbols) == len(set.Fallback)+len(set.Pinned) {
		outcome = RebalanceFallback
	}
	s.publish(set, scores)

	RecordRebalance(outcome, time.Since(start).Seconds(), len(set.Symbols))
	RecordPairScores(scores)

	s.log.Info("active set published",
		utils.Symbols(set.Symbols),
		utils.String("outcome", outcome),
		utils.Int64("generation", set.Generation),
		utils.Int("candidates", len(symbols)))
	return set
}

// normalizeCandidates нормализует и дедуплицирует кандидатов с сохранением порядка
func (s *Selector) normalizeCandidates(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		sym := utils.NormalizeSymbol(c)
		if !utils.IsValidSymbol(sym) {
			s.log.Warn("invalid candidate skipped", utils.Symbol(c))
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// fetchAll загружает данные кандидатов параллельно с ограничением конкурентности
func (s *Selector) fetchAll(ctx context.Context, symbols []string) []candidateData {
	out := make([]candidateData, len(symbols))
	sem := make(chan struct{}, s.cfg.MaxConcurrentFetches)

	var wg sync.WaitGroup
	for i, sym := range symbols {
		out[i].symbol = sym
		if s.isBlacklisted(sym) {
			continue
		}

		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				out[i].err = ctx.Err()
				return
			}
			defer func() { <-sem }()

			out[i] = s.fetchOne(ctx, sym)
		}(i, sym)
	}
	wg.Wait()
	return out
}

func (s *Selector) fetchOne(ctx context.Context, symbol string) candidateData {
	res := candidateData{symbol: symbol}

	fetchCtx := ctx
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}

	candles, err := s.provider.GetHistory(fetchCtx, symbol, s.cfg.HistoryInterval, s.cfg.LookbackCandles)
	if err != nil {
		res.err = fmt.Errorf("history %s: %w", symbol, err)
		s.log.Warn("candidate fetch failed", utils.Symbol(symbol), utils.Err(err))
		return res
	}
	res.candles = candles

	// Снапшот опционален: без него спред оценивается, оборот берётся из свечей
	snap, err := s.provider.GetSnapshot(fetchCtx, symbol)
	if err != nil {
		s.log.Debug("candidate snapshot unavailable", utils.Symbol(symbol), utils.Err(err))
	} else {
		res.snapshot = &snap
	}
	return res
}

// scoreAll считает метрики и скор всех кандидатов
//
// Возвращает скоры в порядке отбора и ряды доходностей успешно загруженных.
func (s *Selector) scoreAll(data []candidateData) ([]models.PairScore, map[string][]float64) {
	scores := make([]models.PairScore, 0, len(data))
	returns := make(map[string][]float64, len(data))

	// Первый проход: метрики без volume_rank
	type pending struct {
		idx    int
		volume float64
	}
	var loaded []pending

	for _, d := range data {
		ps := models.PairScore{Symbol: d.symbol}

		switch {
		case s.isBlacklisted(d.symbol):
			ps.Disqualified = models.DisqualifiedBlacklisted
		case d.err != nil:
			ps.Disqualified = models.DisqualifiedFetchFailed
		case len(d.candles) < AtrPeriod+1:
			ps.Disqualified = models.DisqualifiedNoHistory
		default:
			m, ok := s.computeMetrics(d)
			if !ok {
				ps.Disqualified = models.DisqualifiedNoHistory
				break
			}
			ps.Metrics = m
			returns[d.symbol] = Returns(Closes(d.candles))
			loaded = append(loaded, pending{idx: len(scores), volume: m.Volume24hUSD})
		}
		scores = append(scores, ps)
	}

	// Второй проход: volume_rank среди загруженных, затем скор
	volumes := make([]float64, len(loaded))
	for i, p := range loaded {
		volumes[i] = p.volume
	}
	for _, p := range loaded {
		ps := &scores[p.idx]
		ps.Metrics.VolumeRank = utils.PercentileRank(volumes, p.volume)
		ps.Score, ps.Disqualified = s.scorePair(ps.Metrics)
	}

	sortScores(scores)
	return scores, returns
}

// sortScores упорядочивает скоры для отбора: скор, затем volume_rank, затем символ
func sortScores(scores []models.PairScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		return rankedBefore(scores[i], scores[j])
	})
}

func rankedBefore(a, b models.PairScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Metrics.VolumeRank != b.Metrics.VolumeRank {
		return a.Metrics.VolumeRank > b.Metrics.VolumeRank
	}
	return a.Symbol < b.Symbol
}

// computeMetrics считает метрики кандидата по свечам и снапшоту
func (s *Selector) computeMetrics(d candidateData) (models.PairMetrics, bool) {
	last := d.candles[len(d.candles)-1].Close
	if !utils.IsFinite(last) || last <= 0 {
		return models.PairMetrics{}, false
	}

	closes := Closes(d.candles)
	atrBps := utils.ToBps(ATR(d.candles, AtrPeriod) / last)
	high, low := WindowRange(d.candles)

	m := models.PairMetrics{
		AtrBps:     atrBps,
		RangeBps:   utils.RangeBps(high, low, last),
		TrendScore: TrendScore(closes, atrBps, s.cfg.VolatilityFloorBps),
		SpreadBps:  s.cfg.SpreadEstimateBps,
	}

	if d.snapshot != nil && d.snapshot.VolumeUSD > 0 {
		m.Volume24hUSD = d.snapshot.VolumeUSD
	} else {
		m.Volume24hUSD = trailingQuoteVolume(d.candles, s.cfg.HistoryInterval)
	}
	if d.snapshot != nil && d.snapshot.HasQuote() {
		m.SpreadBps = utils.SpreadBps(d.snapshot.Bid, d.snapshot.Ask)
	}
	return m, true
}

// scorePair применяет дисквалификаторы и композитную формулу
func (s *Selector) scorePair(m models.PairMetrics) (float64, string) {
	switch {
	case m.Volume24hUSD < s.cfg.MinVolumeUSD:
		return 0, models.DisqualifiedLowVolume
	case m.AtrBps < s.cfg.MinAtrBps:
		return 0, models.DisqualifiedLowATR
	case m.SpreadBps > s.cfg.MaxSpreadBps:
		return 0, models.DisqualifiedHighSpread
	case m.TrendScore < s.cfg.MinTrendScore:
		return 0, models.DisqualifiedWeakTrend
	}

	score := weightVolumeRank*m.VolumeRank +
		weightAtr*Normalize(m.AtrBps, atrNormLo, atrNormHi) +
		weightTrend*m.TrendScore +
		weightRange*Normalize(m.RangeBps, rangeNormLo, rangeNormHi) -
		weightSpread*Normalize(m.SpreadBps, spreadNormLo, spreadNormHi)
	return utils.Clamp(score, 0, 1), ""
}

// selectSet собирает активный набор: pinned, жадный отбор, резерв
func (s *Selector) selectSet(scores []models.PairScore, returns map[string][]float64, openPositions []string) *models.ActivePairSet {
	limit := s.cfg.MaxActivePairs
	set := &models.ActivePairSet{Symbols: make([]string, 0, limit)}
	chosen := make(map[string]struct{}, limit)

	add := func(sym string) {
		set.Symbols = append(set.Symbols, sym)
		chosen[sym] = struct{}{}
	}
	correlated := func(sym string) bool {
		r, ok := returns[sym]
		if !ok {
			return false
		}
		for _, other := range set.Symbols {
			o, ok := returns[other]
			if !ok {
				continue
			}
			if c, ok := Correlation(r, o); ok && c > s.cfg.MaxCorrelation {
				s.log.Debug("candidate skipped: correlated",
					utils.Symbol(sym), utils.String("with", other), utils.Float64("correlation", c))
				return true
			}
		}
		return false
	}

	// 1. Закреплённые символы с открытыми позициями
	if s.cfg.LockOnOpenPosition {
		pinned := append([]string(nil), openPositions...)
		sort.Strings(pinned)
		for _, p := range pinned {
			sym := utils.NormalizeSymbol(p)
			if len(set.Symbols) >= limit {
				s.log.Warn("pinned symbol dropped: active set full", utils.Symbol(sym))
				continue
			}
			if _, dup := chosen[sym]; dup || sym == "" || s.isBlacklisted(sym) {
				continue
			}
			add(sym)
			set.Pinned = append(set.Pinned, sym)
		}
	}

	// 2. Жадный отбор по скору
	for _, sc := range scores {
		if len(set.Symbols) >= limit {
			break
		}
		if sc.Score <= 0 {
			continue
		}
		if _, dup := chosen[sc.Symbol]; dup {
			continue
		}
		if correlated(sc.Symbol) {
			continue
		}
		add(sc.Symbol)
	}

	// 3. Добивка из резервного списка в заданном порядке
	for _, f := range s.cfg.Fallback {
		if len(set.Symbols) >= limit {
			break
		}
		sym := utils.NormalizeSymbol(f)
		if _, dup := chosen[sym]; dup || !utils.IsValidSymbol(sym) || s.isBlacklisted(sym) {
			continue
		}
		if correlated(sym) {
			continue
		}
		add(sym)
		set.Fallback = append(set.Fallback, sym)
	}

	return set
}

// publish атомарно заменяет набор и уведомляет подписчиков
func (s *Selector) publish(set *models.ActivePairSet, scores []models.PairScore) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	set.Generation = s.generation
	set.SelectedAt = now
	s.active.Store(set)

	s.scores = scores
	s.lastRebalance = now
	s.rebalances++

	for _, ch := range s.subscribers {
		select {
		case ch <- set:
		default:
			// вытесняем устаревший набор, чтобы подписчик увидел последний
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- set:
			default:
				RecordBufferOverflow("selector_subscriber")
			}
		}
	}
}

func (s *Selector) isBlacklisted(symbol string) bool {
	return s.blacklist != nil && s.blacklist.IsBlacklisted(symbol)
}

func (s *Selector) activeCount() int {
	if set := s.active.Load(); set != nil {
		return len(set.Symbols)
	}
	return 0
}

func (s *Selector) openPositions() []string {
	if s.positions == nil {
		return nil
	}
	return s.positions.OpenPositions()
}

// trailingQuoteVolume суммирует оборот свечей за последние 24 часа
func trailingQuoteVolume(candles []models.Candle, interval string) float64 {
	n := len(candles)
	if d, err := time.ParseDuration(interval); err == nil && d > 0 && d <= 24*time.Hour {
		if per := int(24 * time.Hour / d); per < n {
			n = per
		}
	}
	var sum float64
	for _, c := range candles[len(candles)-n:] {
		sum += c.QuoteVolume
	}
	return sum
}
