package service

import (
	"errors"
	"sort"
	"sync"
	"time"

	"riskgate/internal/models"
	"riskgate/internal/repository"
)

var errDB = errors.New("database unavailable")

// ============ Mock BlacklistRepository ============

type MockBlacklistRepository struct {
	entries   map[string]*models.BlacklistEntry
	createErr error
	getErr    error
	deleteErr error
	updateErr error
	nextID    int
}

func NewMockBlacklistRepository(symbols ...string) *MockBlacklistRepository {
	m := &MockBlacklistRepository{
		entries: make(map[string]*models.BlacklistEntry),
		nextID:  1,
	}
	for _, s := range symbols {
		_ = m.Create(&models.BlacklistEntry{Symbol: s})
	}
	return m
}

func (m *MockBlacklistRepository) Create(entry *models.BlacklistEntry) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.entries[entry.Symbol]; exists {
		return repository.ErrBlacklistEntryExists
	}
	entry.ID = m.nextID
	m.nextID++
	entry.CreatedAt = time.Now()
	m.entries[entry.Symbol] = entry
	return nil
}

func (m *MockBlacklistRepository) GetAll() ([]*models.BlacklistEntry, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if len(m.entries) == 0 {
		return nil, nil
	}
	result := make([]*models.BlacklistEntry, 0, len(m.entries))
	for _, e := range m.entries {
		result = append(result, e)
	}
	return result, nil
}

func (m *MockBlacklistRepository) Symbols() ([]string, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make([]string, 0, len(m.entries))
	for s := range m.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MockBlacklistRepository) GetBySymbol(symbol string) (*models.BlacklistEntry, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if entry, exists := m.entries[symbol]; exists {
		return entry, nil
	}
	return nil, repository.ErrBlacklistEntryNotFound
}

func (m *MockBlacklistRepository) UpdateReason(symbol, reason string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	entry, exists := m.entries[symbol]
	if !exists {
		return repository.ErrBlacklistEntryNotFound
	}
	entry.Reason = reason
	return nil
}

func (m *MockBlacklistRepository) Delete(symbol string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, exists := m.entries[symbol]; !exists {
		return repository.ErrBlacklistEntryNotFound
	}
	delete(m.entries, symbol)
	return nil
}

func (m *MockBlacklistRepository) Count() (int, error) {
	if m.getErr != nil {
		return 0, m.getErr
	}
	return len(m.entries), nil
}

// ============ Mock JournalRepository ============

type MockJournalRepository struct {
	mu         sync.Mutex
	decisions  []*models.Decision
	outcomes   map[string]*models.TradeOutcome
	saveErr    error
	outcomeErr error

	lastSymbol string
	lastLimit  int
	lastSince  time.Time
}

func NewMockJournalRepository() *MockJournalRepository {
	return &MockJournalRepository{outcomes: make(map[string]*models.TradeOutcome)}
}

func (m *MockJournalRepository) SaveDecision(d *models.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.decisions = append(m.decisions, d)
	return nil
}

func (m *MockJournalRepository) GetDecision(id string) (*models.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.decisions {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, repository.ErrDecisionNotFound
}

func (m *MockJournalRepository) RecentDecisions(symbol string, limit int) ([]*models.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSymbol, m.lastLimit = symbol, limit
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	var out []*models.Decision
	for i := len(m.decisions) - 1; i >= 0; i-- {
		if symbol == "" || m.decisions[i].Signal.Symbol == symbol {
			out = append(out, m.decisions[i])
		}
	}
	return out, nil
}

func (m *MockJournalRepository) SaveOutcome(o *models.TradeOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomeErr != nil {
		return false, m.outcomeErr
	}
	if _, ok := m.outcomes[o.DecisionID]; ok {
		return false, nil
	}
	m.outcomes[o.DecisionID] = o
	return true, nil
}

func (m *MockJournalRepository) OutcomeSummary(since time.Time) (*models.OutcomeSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSince = since
	s := &models.OutcomeSummary{Since: since}
	for _, o := range m.outcomes {
		s.Trades++
		if o.Result == models.TradeWin {
			s.Wins++
		} else {
			s.Losses++
		}
		s.RealizedPnl += o.Pnl
	}
	return s, nil
}

// ============ Mock ядра ============

type mockPositions struct {
	closed map[string]bool
}

func newMockPositions() *mockPositions {
	return &mockPositions{closed: make(map[string]bool)}
}

func (m *mockPositions) Close(o models.TradeOutcome) bool {
	if m.closed[o.DecisionID] {
		return false
	}
	m.closed[o.DecisionID] = true
	return true
}

type mockSafety struct {
	calls []models.TradeResult
	err   error
}

func (m *mockSafety) RecordTradeOutcome(result models.TradeResult, pnl float64) (models.SafetyStatus, error) {
	if m.err != nil {
		return models.SafetyStatus{}, m.err
	}
	m.calls = append(m.calls, result)
	return models.SafetyStatus{CanTrade: true, State: models.SafetyNormal, ConsecutiveLosses: len(m.calls)}, nil
}

type mockBroadcaster struct {
	statuses []models.SafetyStatus
}

func (m *mockBroadcaster) BroadcastSafetyStatus(status models.SafetyStatus) {
	m.statuses = append(m.statuses, status)
}
