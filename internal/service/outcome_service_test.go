package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

type outcomeFixture struct {
	svc       *OutcomeService
	positions *mockPositions
	safety    *mockSafety
	journal   *MockJournalRepository
	hub       *mockBroadcaster
}

func newOutcomeFixture() *outcomeFixture {
	f := &outcomeFixture{
		positions: newMockPositions(),
		safety:    &mockSafety{},
		journal:   NewMockJournalRepository(),
		hub:       &mockBroadcaster{},
	}
	f.svc = NewOutcomeService(f.positions, f.safety, f.journal, utils.NewNopLogger())
	f.svc.SetWebSocketHub(f.hub)
	return f
}

func TestOutcomeService_Applies(t *testing.T) {
	f := newOutcomeFixture()

	status, err := f.svc.HandleOutcome(models.TradeOutcome{
		DecisionID: "dec-1",
		Symbol:     "btc/usdt",
		Result:     "LOSS",
		Pnl:        -4.2,
	})
	if err != nil {
		t.Fatalf("HandleOutcome() error = %v", err)
	}
	if !status.CanTrade {
		t.Errorf("unexpected status: %+v", status)
	}
	if len(f.safety.calls) != 1 || f.safety.calls[0] != models.TradeLoss {
		t.Errorf("safety calls = %v", f.safety.calls)
	}

	saved := f.journal.outcomes["dec-1"]
	if saved == nil || saved.Symbol != "BTCUSDT" || saved.Result != models.TradeLoss {
		t.Errorf("journaled outcome = %+v", saved)
	}
	if len(f.hub.statuses) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(f.hub.statuses))
	}
	if st := f.svc.GetStats(); st.Applied != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestOutcomeService_DuplicateIgnored(t *testing.T) {
	f := newOutcomeFixture()
	o := models.TradeOutcome{DecisionID: "dec-1", Symbol: "BTCUSDT", Result: models.TradeWin, Pnl: 3}

	if _, err := f.svc.HandleOutcome(o); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.HandleOutcome(o); !errors.Is(err, ErrOutcomeDuplicate) {
		t.Errorf("second HandleOutcome() error = %v, want duplicate", err)
	}
	if len(f.safety.calls) != 1 {
		t.Errorf("safety must be updated once, got %d", len(f.safety.calls))
	}
	if st := f.svc.GetStats(); st.Duplicates != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestOutcomeService_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		outcome models.TradeOutcome
	}{
		{"missing decision id", models.TradeOutcome{Result: models.TradeWin}},
		{"unknown result", models.TradeOutcome{DecisionID: "d", Result: "draw"}},
		{"nan pnl", models.TradeOutcome{DecisionID: "d", Result: models.TradeLoss, Pnl: math.NaN()}},
		{"inf pnl", models.TradeOutcome{DecisionID: "d", Result: models.TradeWin, Pnl: math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOutcomeFixture()
			if _, err := f.svc.HandleOutcome(tt.outcome); !errors.Is(err, ErrOutcomeInvalid) {
				t.Errorf("error = %v, want ErrOutcomeInvalid", err)
			}
			if len(f.positions.closed) != 0 || len(f.safety.calls) != 0 {
				t.Error("invalid outcome must not touch positions or safety")
			}
		})
	}
}

func TestOutcomeService_JournalFailureKeepsOutcome(t *testing.T) {
	f := newOutcomeFixture()
	f.journal.outcomeErr = errDB

	_, err := f.svc.HandleOutcome(models.TradeOutcome{DecisionID: "dec-1", Result: models.TradeWin, Pnl: 1})
	if err != nil {
		t.Fatalf("journal failure must not fail the outcome: %v", err)
	}
	if len(f.safety.calls) != 1 {
		t.Error("safety must be updated")
	}
}

func TestOutcomeService_SafetyError(t *testing.T) {
	f := newOutcomeFixture()
	f.safety.err = errors.New("boom")

	if _, err := f.svc.HandleOutcome(models.TradeOutcome{DecisionID: "dec-1", Result: models.TradeWin}); err == nil {
		t.Fatal("expected safety error")
	}
	if len(f.journal.outcomes) != 0 || len(f.hub.statuses) != 0 {
		t.Error("nothing must be journaled or broadcast on safety error")
	}
}

// ============================================================
// JournalService / JournalSink
// ============================================================

func TestJournalService_RecentDecisions(t *testing.T) {
	repo := NewMockJournalRepository()
	svc := NewJournalService(repo)

	decisions, err := svc.RecentDecisions("eth/usdt", 20)
	if err != nil {
		t.Fatal(err)
	}
	if decisions == nil {
		t.Error("expected empty slice, got nil")
	}
	if repo.lastSymbol != "ETHUSDT" || repo.lastLimit != 20 {
		t.Errorf("repo called with %q, %d", repo.lastSymbol, repo.lastLimit)
	}
}

func TestJournalService_OutcomeSummaryDefaultsToDayStart(t *testing.T) {
	repo := NewMockJournalRepository()
	svc := NewJournalService(repo)

	if _, err := svc.OutcomeSummary(time.Time{}); err != nil {
		t.Fatal(err)
	}
	if !repo.lastSince.Equal(utils.GetDayStart()) {
		t.Errorf("since = %v, want day start", repo.lastSince)
	}
}

func TestJournalSink_Publish(t *testing.T) {
	repo := NewMockJournalRepository()
	sink := NewJournalSink(repo)

	if sink.Name() != "journal" {
		t.Errorf("Name() = %q", sink.Name())
	}

	d := models.Decision{ID: "dec-1", Signal: models.Signal{Symbol: "BTCUSDT"}, Action: models.ActionReject}
	if err := sink.Publish(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	if got, err := repo.GetDecision("dec-1"); err != nil || got.Action != models.ActionReject {
		t.Errorf("saved decision = %+v, %v", got, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Publish(ctx, d); !errors.Is(err, context.Canceled) {
		t.Errorf("Publish(canceled) error = %v", err)
	}
}

func TestJournalService_GetDecision(t *testing.T) {
	repo := NewMockJournalRepository()
	_ = repo.SaveDecision(&models.Decision{ID: "dec-1", Signal: models.Signal{Symbol: "BTCUSDT"}})
	svc := NewJournalService(repo)

	d, err := svc.GetDecision("dec-1")
	if err != nil || d.ID != "dec-1" {
		t.Fatalf("GetDecision() = %+v, %v", d, err)
	}

	if _, err := svc.GetDecision("missing"); !errors.Is(err, ErrDecisionNotFound) {
		t.Errorf("GetDecision(missing) error = %v, want ErrDecisionNotFound", err)
	}
}
