package bot

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"riskgate/internal/config"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func defaultSafetyConfig() config.SafetyConfig {
	return config.SafetyConfig{
		MaxConsecutiveLosses:    2,
		HardConsecutiveLosses:   5,
		CooldownDuration:        180 * time.Second,
		MaxProbationTrades:      1,
		ProbationSizeMultiplier: 0.5,
		DailyLossLimitPct:       3.0,
		DrawdownLimitPct:        5.0,
		MinTradeSpacing:         30 * time.Second,
		MaxTradesPerHour:        10,
		MaxTradesPerDay:         50,
		InitialCapital:          1000,
	}
}

func newTestSafety(cfg config.SafetyConfig) (*SafetyStateMachine, *fakeClock) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC))
	return NewSafetyStateMachine(cfg, utils.NewNopLogger(), WithSafetyClock(clock.Now)), clock
}

func mustRecord(t *testing.T, s *SafetyStateMachine, result models.TradeResult, pnl float64) models.SafetyStatus {
	t.Helper()
	status, err := s.RecordTradeOutcome(result, pnl)
	if err != nil {
		t.Fatalf("RecordTradeOutcome(%s, %v) error = %v", result, pnl, err)
	}
	return status
}

func TestSafety_InitialState(t *testing.T) {
	s, _ := newTestSafety(defaultSafetyConfig())

	status := s.CanTrade(1000)
	if !status.CanTrade {
		t.Fatalf("fresh machine should allow trading, got %s: %s", status.ReasonCode, status.Reason)
	}
	if status.State != models.SafetyNormal {
		t.Errorf("State = %s, want NORMAL", status.State)
	}
	if status.PositionSizeMultiplier != 1 {
		t.Errorf("multiplier = %v, want 1", status.PositionSizeMultiplier)
	}
	if status.LastTradeTime != nil || status.CooldownUntil != nil {
		t.Error("no trades yet: timestamps must be nil")
	}
}

// Пример: 2 убытка подряд -> cooldown, через 180с probation с половинным размером, выигрыш -> NORMAL
func TestSafety_CooldownProbationCycle(t *testing.T) {
	s, clock := newTestSafety(defaultSafetyConfig())

	mustRecord(t, s, models.TradeLoss, -1)
	clock.Advance(time.Minute)
	status := mustRecord(t, s, models.TradeLoss, -1)
	if status.State != models.SafetyCooldown {
		t.Fatalf("State = %s, want COOLDOWN", status.State)
	}

	clock.Advance(time.Minute)
	status = s.CanTrade(0)
	if status.CanTrade {
		t.Fatal("trading must be blocked during cooldown")
	}
	if status.ReasonCode != models.SafetyReasonConsecutiveLosses {
		t.Errorf("ReasonCode = %s, want consecutive_losses", status.ReasonCode)
	}
	if !strings.Contains(status.Reason, "consecutive loss") {
		t.Errorf("Reason = %q, want consecutive-loss text", status.Reason)
	}
	if status.CooldownUntil == nil {
		t.Error("CooldownUntil must be set")
	}

	clock.Advance(2*time.Minute + time.Second)
	status = s.CanTrade(0)
	if !status.CanTrade {
		t.Fatalf("probation should allow trading, got %s: %s", status.ReasonCode, status.Reason)
	}
	if status.State != models.SafetyProbation || !status.ProbationMode {
		t.Errorf("State = %s, want PROBATION", status.State)
	}
	if status.PositionSizeMultiplier != 0.5 {
		t.Errorf("multiplier = %v, want 0.5", status.PositionSizeMultiplier)
	}
	if status.ProbationTradesLeft != 1 {
		t.Errorf("ProbationTradesLeft = %d, want 1", status.ProbationTradesLeft)
	}
	if status.ConsecutiveLosses != 0 {
		t.Errorf("ConsecutiveLosses = %d, want reset to 0", status.ConsecutiveLosses)
	}

	status = mustRecord(t, s, models.TradeWin, 3)
	if status.State != models.SafetyNormal {
		t.Errorf("State after probation win = %s, want NORMAL", status.State)
	}
	if status.PositionSizeMultiplier != 1 {
		t.Errorf("multiplier = %v, want 1", status.PositionSizeMultiplier)
	}
}

// Серия убытков в probation возвращает в COOLDOWN, новый probation начинается с полным счётчиком
func TestSafety_ProbationLossesReturnToCooldown(t *testing.T) {
	cfg := defaultSafetyConfig()
	cfg.MaxProbationTrades = 3
	s, clock := newTestSafety(cfg)

	mustRecord(t, s, models.TradeLoss, -1)
	clock.Advance(time.Minute)
	if status := mustRecord(t, s, models.TradeLoss, -1); status.State != models.SafetyCooldown {
		t.Fatalf("State = %s, want COOLDOWN", status.State)
	}

	clock.Advance(cfg.CooldownDuration + time.Second)
	status := s.CanTrade(0)
	if status.State != models.SafetyProbation || status.ProbationTradesLeft != 3 {
		t.Fatalf("State = %s left = %d, want PROBATION with 3", status.State, status.ProbationTradesLeft)
	}

	clock.Advance(time.Minute)
	status = mustRecord(t, s, models.TradeLoss, -1)
	if status.State != models.SafetyProbation || status.ProbationTradesLeft != 2 {
		t.Fatalf("after first probation loss: State = %s left = %d, want PROBATION with 2",
			status.State, status.ProbationTradesLeft)
	}

	clock.Advance(time.Minute)
	status = mustRecord(t, s, models.TradeLoss, -1)
	if status.State != models.SafetyCooldown {
		t.Fatalf("after second probation loss: State = %s, want COOLDOWN", status.State)
	}
	if s.CanTrade(0).CanTrade {
		t.Error("trading must be blocked after returning to cooldown")
	}
	if status.KillSwitchTriggered {
		t.Fatal("loss streak 4 is below the hard limit")
	}

	clock.Advance(cfg.CooldownDuration + time.Second)
	status = s.GetSafetyStatus()
	if status.State != models.SafetyProbation {
		t.Fatalf("State = %s, want PROBATION after second cooldown", status.State)
	}
	if status.ProbationTradesLeft != 3 {
		t.Errorf("ProbationTradesLeft = %d, want reset to 3", status.ProbationTradesLeft)
	}
	if status.ConsecutiveLosses != 0 {
		t.Errorf("ConsecutiveLosses = %d, want 0", status.ConsecutiveLosses)
	}
	if status.LossStreak != 4 {
		t.Errorf("LossStreak = %d, want 4", status.LossStreak)
	}
}

// Убытки накапливаются через циклы cooldown и упираются в жёсткий лимит
func TestSafety_HardLossLimitAcrossCooldowns(t *testing.T) {
	s, clock := newTestSafety(defaultSafetyConfig())

	loss := func() models.SafetyStatus {
		clock.Advance(time.Minute)
		return mustRecord(t, s, models.TradeLoss, -0.5)
	}

	loss()
	if st := loss(); st.State != models.SafetyCooldown {
		t.Fatalf("State = %s, want COOLDOWN", st.State)
	}

	clock.Advance(4 * time.Minute)
	if st := loss(); st.State != models.SafetyNormal || st.LossStreak != 3 {
		t.Fatalf("after probation loss: State = %s LossStreak = %d, want NORMAL/3", st.State, st.LossStreak)
	}
	if st := loss(); st.State != models.SafetyCooldown {
		t.Fatalf("State = %s, want COOLDOWN", st.State)
	}

	clock.Advance(4 * time.Minute)
	st := loss()
	if st.State != models.SafetyKillSwitched || !st.KillSwitchTriggered {
		t.Fatalf("State = %s, want KILL_SWITCHED after 5 losses", st.State)
	}
	if st.LossStreak != 5 {
		t.Errorf("LossStreak = %d, want 5", st.LossStreak)
	}
}

func TestSafety_KillSwitchIsAbsorbing(t *testing.T) {
	s, clock := newTestSafety(defaultSafetyConfig())

	st := mustRecord(t, s, models.TradeLoss, -35)
	if st.State != models.SafetyKillSwitched {
		t.Fatalf("3.5%% realized loss should trip kill switch, State = %s", st.State)
	}

	clock.Advance(time.Hour)
	mustRecord(t, s, models.TradeWin, 100)
	s.ResetHourlyCounters()
	s.ResetDailyCounters(2000)
	clock.Advance(48 * time.Hour)

	status := s.CanTrade(2000)
	if status.CanTrade {
		t.Fatal("kill switch must stay active until restart")
	}
	if status.ReasonCode != models.SafetyReasonKillSwitch {
		t.Errorf("ReasonCode = %s, want kill_switch", status.ReasonCode)
	}
	if status.State != models.SafetyKillSwitched || s.State() != models.SafetyKillSwitched {
		t.Errorf("State = %s, want KILL_SWITCHED", status.State)
	}
	if !strings.Contains(status.KillSwitchReason, "daily loss") {
		t.Errorf("KillSwitchReason = %q", status.KillSwitchReason)
	}
	if status.StateInfo != SafetyStateInfo(models.SafetyKillSwitched) {
		t.Errorf("StateInfo = %q", status.StateInfo)
	}
	if s.GetSafetyStatus().CanTrade {
		t.Error("GetSafetyStatus must report trading disabled after kill switch")
	}
}

func TestSafety_DailyLossByCapital(t *testing.T) {
	s, _ := newTestSafety(defaultSafetyConfig())

	status := s.CanTrade(975)
	if !status.CanTrade {
		t.Fatalf("2.5%% loss is under limit, got %s", status.ReasonCode)
	}
	if !almostEqual(status.DailyLossPct, 2.5) {
		t.Errorf("DailyLossPct = %v, want 2.5", status.DailyLossPct)
	}

	status = s.CanTrade(965)
	if status.CanTrade {
		t.Fatal("3.5% loss must block")
	}
	if status.ReasonCode != models.SafetyReasonDailyLoss {
		t.Errorf("ReasonCode = %s, want daily_loss_limit", status.ReasonCode)
	}
	if !status.KillSwitchTriggered {
		t.Error("daily loss breach must trip kill switch")
	}

	// Восстановление капитала не снимает kill switch
	if st := s.CanTrade(1100); st.CanTrade || st.ReasonCode != models.SafetyReasonKillSwitch {
		t.Errorf("got can_trade=%v reason=%s, want kill_switch", st.CanTrade, st.ReasonCode)
	}
}

// Дневной убыток берётся как максимум из капитала и реализованного PnL
func TestSafety_DailyLossUsesWorseMeasure(t *testing.T) {
	cfg := defaultSafetyConfig()
	cfg.DailyLossLimitPct = 10
	s, clock := newTestSafety(cfg)

	mustRecord(t, s, models.TradeLoss, -20)
	clock.Advance(time.Minute)

	// капитал говорит 1%, реализованный PnL 2%
	status := s.CanTrade(990)
	if !almostEqual(status.DailyLossPct, 2) {
		t.Errorf("DailyLossPct = %v, want 2", status.DailyLossPct)
	}
	if !almostEqual(status.DailyRealizedPnl, -20) {
		t.Errorf("DailyRealizedPnl = %v, want -20", status.DailyRealizedPnl)
	}
}

func TestSafety_Drawdown(t *testing.T) {
	s, _ := newTestSafety(defaultSafetyConfig())

	if st := s.CanTrade(1100); !st.CanTrade || !almostEqual(st.PeakCapital, 1100) {
		t.Fatalf("CanTrade(1100): can=%v peak=%v", st.CanTrade, st.PeakCapital)
	}

	// (1100-1040)/1100 = 5.45% >= 5%, дневной убыток отрицательный
	status := s.CanTrade(1040)
	if status.CanTrade {
		t.Fatal("drawdown over limit must block")
	}
	if status.ReasonCode != models.SafetyReasonDrawdown {
		t.Errorf("ReasonCode = %s, want drawdown_limit", status.ReasonCode)
	}
	if status.DailyLossPct != 0 {
		t.Errorf("DailyLossPct = %v, want 0 when up on the day", status.DailyLossPct)
	}
}

func TestSafety_TradeSpacing(t *testing.T) {
	s, clock := newTestSafety(defaultSafetyConfig())

	mustRecord(t, s, models.TradeWin, 1)

	clock.Advance(10 * time.Second)
	status := s.CanTrade(0)
	if status.CanTrade || status.ReasonCode != models.SafetyReasonTradeSpacing {
		t.Fatalf("got can_trade=%v reason=%s, want min_trade_spacing", status.CanTrade, status.ReasonCode)
	}

	clock.Advance(21 * time.Second)
	if st := s.CanTrade(0); !st.CanTrade {
		t.Errorf("spacing elapsed, got %s: %s", st.ReasonCode, st.Reason)
	}
}

func TestSafety_TradeCaps(t *testing.T) {
	tests := []struct {
		name    string
		perHour int
		perDay  int
		trades  int
		want    models.SafetyReason
		reset   func(s *SafetyStateMachine)
	}{
		{
			name: "hourly cap", perHour: 3, perDay: 50, trades: 3,
			want: models.SafetyReasonHourlyCap, reset: func(s *SafetyStateMachine) { s.ResetHourlyCounters() },
		},
		{
			name: "daily cap", perHour: 10, perDay: 2, trades: 2,
			want: models.SafetyReasonDailyCap, reset: func(s *SafetyStateMachine) { s.ResetDailyCounters(1000) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultSafetyConfig()
			cfg.MinTradeSpacing = 0
			cfg.MaxTradesPerHour = tt.perHour
			cfg.MaxTradesPerDay = tt.perDay
			s, clock := newTestSafety(cfg)

			for i := 0; i < tt.trades; i++ {
				clock.Advance(time.Second)
				mustRecord(t, s, models.TradeWin, 0.1)
			}

			status := s.CanTrade(0)
			if status.CanTrade || status.ReasonCode != tt.want {
				t.Fatalf("got can_trade=%v reason=%s, want %s", status.CanTrade, status.ReasonCode, tt.want)
			}

			tt.reset(s)
			if st := s.CanTrade(0); !st.CanTrade {
				t.Errorf("after reset: %s: %s", st.ReasonCode, st.Reason)
			}
		})
	}
}

// Отказ CanTrade не меняет торговые счётчики
func TestSafety_CanTradeDoesNotCountTrades(t *testing.T) {
	s, _ := newTestSafety(defaultSafetyConfig())

	for i := 0; i < 20; i++ {
		s.CanTrade(1000)
	}
	status := s.GetSafetyStatus()
	if status.TradesThisHour != 0 || status.TradesToday != 0 {
		t.Errorf("CanTrade must not count trades: hour=%d day=%d", status.TradesThisHour, status.TradesToday)
	}
}

func TestSafety_InvalidOutcome(t *testing.T) {
	s, _ := newTestSafety(defaultSafetyConfig())

	tests := []struct {
		name   string
		result models.TradeResult
		pnl    float64
	}{
		{"unknown result", "breakeven", 0},
		{"empty result", "", 0},
		{"NaN pnl", models.TradeLoss, math.NaN()},
		{"Inf pnl", models.TradeWin, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.RecordTradeOutcome(tt.result, tt.pnl); !errors.Is(err, ErrInvalidOutcome) {
				t.Errorf("error = %v, want ErrInvalidOutcome", err)
			}
		})
	}

	if st := s.GetSafetyStatus(); st.TradesToday != 0 {
		t.Errorf("rejected outcomes must not count, TradesToday = %d", st.TradesToday)
	}
}

func TestSafety_ResetDailyCounters(t *testing.T) {
	cfg := defaultSafetyConfig()
	cfg.MinTradeSpacing = 0
	s, clock := newTestSafety(cfg)

	mustRecord(t, s, models.TradeWin, 12.5)
	clock.Advance(time.Second)
	mustRecord(t, s, models.TradeLoss, -2.5)

	if c := s.CurrentCapital(); !almostEqual(c, 1010) {
		t.Errorf("CurrentCapital = %v, want 1010", c)
	}

	s.ResetDailyCounters(0)
	status := s.GetSafetyStatus()
	if !almostEqual(status.DayStartCapital, 1010) || !almostEqual(status.PeakCapital, 1010) {
		t.Errorf("day start %v peak %v, want 1010", status.DayStartCapital, status.PeakCapital)
	}
	if status.DailyRealizedPnl != 0 || status.TradesToday != 0 || status.TradesThisHour != 0 {
		t.Errorf("daily counters not reset: %+v", status)
	}
	// серия убытков переживает смену дня
	if status.ConsecutiveLosses != 1 {
		t.Errorf("ConsecutiveLosses = %d, want 1", status.ConsecutiveLosses)
	}
}

func TestSafety_ConcurrentAccess(t *testing.T) {
	cfg := defaultSafetyConfig()
	cfg.MinTradeSpacing = 0
	cfg.MaxTradesPerHour = 0
	cfg.MaxTradesPerDay = 0
	s, _ := newTestSafety(cfg)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.CanTrade(1000)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := s.RecordTradeOutcome(models.TradeWin, 0.01); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	if st := s.GetSafetyStatus(); st.TradesToday != 100 {
		t.Errorf("TradesToday = %d, want 100", st.TradesToday)
	}
}

// ============================================================
// CounterScheduler
// ============================================================

func TestCounterScheduler_Tick(t *testing.T) {
	cfg := defaultSafetyConfig()
	cfg.MinTradeSpacing = 0
	s, clock := newTestSafety(cfg)
	sched := NewCounterScheduler(s, nil, utils.NewNopLogger())

	mustRecord(t, s, models.TradeWin, 5)

	if h, d := sched.Tick(clock.Now().Add(10 * time.Minute)); h || d {
		t.Errorf("same hour: hourly=%v daily=%v", h, d)
	}

	nextHour := time.Date(2024, 3, 1, 11, 0, 1, 0, time.UTC)
	if h, d := sched.Tick(nextHour); !h || d {
		t.Errorf("hour boundary: hourly=%v daily=%v, want true/false", h, d)
	}
	st := s.GetSafetyStatus()
	if st.TradesThisHour != 0 || st.TradesToday != 1 {
		t.Errorf("after hourly reset: hour=%d day=%d", st.TradesThisHour, st.TradesToday)
	}

	// повтор в том же часе ничего не делает
	if h, _ := sched.Tick(nextHour.Add(time.Minute)); h {
		t.Error("hourly reset must run once per hour")
	}

	nextDay := time.Date(2024, 3, 2, 0, 0, 2, 0, time.UTC)
	if h, d := sched.Tick(nextDay); !h || !d {
		t.Errorf("day boundary: hourly=%v daily=%v, want true/true", h, d)
	}
	st = s.GetSafetyStatus()
	if st.TradesToday != 0 || st.DailyRealizedPnl != 0 {
		t.Errorf("after daily reset: day=%d pnl=%v", st.TradesToday, st.DailyRealizedPnl)
	}
	if !almostEqual(st.DayStartCapital, 1005) {
		t.Errorf("DayStartCapital = %v, want 1005 from estimate", st.DayStartCapital)
	}
}

type staticCapital float64

func (c staticCapital) CurrentCapital() float64 { return float64(c) }

func TestCounterScheduler_UsesCapitalSource(t *testing.T) {
	s, _ := newTestSafety(defaultSafetyConfig())
	sched := NewCounterScheduler(s, staticCapital(2500), utils.NewNopLogger())

	sched.Tick(time.Date(2024, 3, 2, 0, 0, 1, 0, time.UTC))

	if st := s.GetSafetyStatus(); !almostEqual(st.DayStartCapital, 2500) {
		t.Errorf("DayStartCapital = %v, want 2500", st.DayStartCapital)
	}
}

func TestCounterScheduler_RunStopsOnCancel(t *testing.T) {
	s, _ := newTestSafety(defaultSafetyConfig())
	sched := NewCounterScheduler(s, nil, utils.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
