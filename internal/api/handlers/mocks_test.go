package handlers

import (
	"errors"
	"strings"
	"sync"
	"time"

	"riskgate/internal/models"
	"riskgate/internal/service"
)

// ErrMockDatabase - ошибка хранилища в тестах
var ErrMockDatabase = errors.New("mock database error")

// ============ MockBlacklistService ============

type MockBlacklistService struct {
	mu      sync.Mutex
	entries map[string]*models.BlacklistEntry
	nextID  int
	errs    map[string]error
}

func NewMockBlacklistService() *MockBlacklistService {
	return &MockBlacklistService{
		entries: make(map[string]*models.BlacklistEntry),
		errs:    make(map[string]error),
	}
}

func (m *MockBlacklistService) SetError(op string, err error) {
	m.mu.Lock()
	m.errs[op] = err
	m.mu.Unlock()
}

func (m *MockBlacklistService) AddEntry(symbol, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.entries[symbol] = &models.BlacklistEntry{ID: m.nextID, Symbol: symbol, Reason: reason, CreatedAt: time.Now()}
}

func (m *MockBlacklistService) AddToBlacklist(symbol, reason string) (*models.BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["add"]; err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, service.ErrBlacklistSymbolEmpty
	}
	if _, ok := m.entries[symbol]; ok {
		return nil, service.ErrBlacklistSymbolExists
	}
	m.nextID++
	e := &models.BlacklistEntry{ID: m.nextID, Symbol: symbol, Reason: reason, CreatedAt: time.Now()}
	m.entries[symbol] = e
	return e, nil
}

func (m *MockBlacklistService) GetBlacklist() ([]*models.BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["get"]; err != nil {
		return nil, err
	}
	out := make([]*models.BlacklistEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *MockBlacklistService) RemoveFromBlacklist(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["remove"]; err != nil {
		return err
	}
	if _, ok := m.entries[symbol]; !ok {
		return service.ErrBlacklistEntryNotFound
	}
	delete(m.entries, symbol)
	return nil
}

func (m *MockBlacklistService) GetBySymbol(symbol string) (*models.BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[symbol]
	if !ok {
		return nil, service.ErrBlacklistEntryNotFound
	}
	return e, nil
}

func (m *MockBlacklistService) IsBlacklisted(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[symbol]
	return ok
}

func (m *MockBlacklistService) UpdateReason(symbol, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[symbol]
	if !ok {
		return service.ErrBlacklistEntryNotFound
	}
	e.Reason = reason
	return nil
}

func (m *MockBlacklistService) GetCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

// ============ MockJournalService ============

type MockJournalService struct {
	decisions  []*models.Decision
	summary    *models.OutcomeSummary
	err        error
	lastSymbol string
	lastLimit  int
	lastSince  time.Time
}

func (m *MockJournalService) RecentDecisions(symbol string, limit int) ([]*models.Decision, error) {
	m.lastSymbol, m.lastLimit = symbol, limit
	if m.err != nil {
		return nil, m.err
	}
	return m.decisions, nil
}

func (m *MockJournalService) GetDecision(id string) (*models.Decision, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, d := range m.decisions {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, service.ErrDecisionNotFound
}

func (m *MockJournalService) OutcomeSummary(since time.Time) (*models.OutcomeSummary, error) {
	m.lastSince = since
	if m.err != nil {
		return nil, m.err
	}
	return m.summary, nil
}

// ============ Ядро ============

type mockFilters struct {
	summary models.FilterSummary
	resets  int
}

func (m *mockFilters) GetFilterSummary() models.FilterSummary { return m.summary }

func (m *mockFilters) Reset() {
	m.resets++
	m.summary = models.FilterSummary{}
}

type mockSafety struct{ status models.SafetyStatus }

func (m *mockSafety) GetSafetyStatus() models.SafetyStatus { return m.status }

type mockUniverse struct{ snap models.UniverseSnapshot }

func (m *mockUniverse) GetUniverseSnapshot() models.UniverseSnapshot { return m.snap }

type mockTokens struct {
	issued  []string
	failErr error
}

func (m *mockTokens) Issue(subject string) (string, time.Time, error) {
	if m.failErr != nil {
		return "", time.Time{}, m.failErr
	}
	m.issued = append(m.issued, subject)
	return "token-" + subject, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), nil
}

var (
	_ service.BlacklistServiceInterface = (*MockBlacklistService)(nil)
	_ service.JournalServiceInterface   = (*MockJournalService)(nil)
)
