package service

import (
	"errors"
	"strings"
	"sync"

	"riskgate/internal/models"
	"riskgate/internal/repository"
	"riskgate/pkg/utils"
)

// Ошибки сервиса черного списка
var (
	ErrBlacklistSymbolEmpty   = errors.New("symbol cannot be empty")
	ErrBlacklistSymbolInvalid = errors.New("invalid symbol format")
	ErrBlacklistSymbolExists  = errors.New("symbol already in blacklist")
	ErrBlacklistEntryNotFound = errors.New("blacklist entry not found")
)

// BlacklistService предоставляет бизнес-логику для управления черным списком.
//
// Черный список обязателен для селектора: символ из списка не попадает
// в активный набор, даже если он закреплён открытой позицией или указан
// в fallback. Селектор вызывает IsBlacklisted на каждом ребалансе,
// поэтому сервис держит символы в памяти и обновляет кэш после каждой
// успешной мутации.
type BlacklistService struct {
	repo BlacklistRepositoryInterface
	log  *utils.Logger

	mu      sync.RWMutex
	symbols map[string]struct{}
}

// NewBlacklistService создает новый экземпляр BlacklistService.
//
// Кэш пуст до первого вызова Reload.
func NewBlacklistService(repo BlacklistRepositoryInterface, logger *utils.Logger) *BlacklistService {
	if logger == nil {
		logger = utils.L()
	}
	return &BlacklistService{
		repo:    repo,
		log:     logger.WithComponent("blacklist"),
		symbols: make(map[string]struct{}),
	}
}

// Reload перечитывает символы из БД
func (s *BlacklistService) Reload() error {
	symbols, err := s.repo.Symbols()
	if err != nil {
		return err
	}

	set := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		set[utils.NormalizeSymbol(sym)] = struct{}{}
	}

	s.mu.Lock()
	s.symbols = set
	s.mu.Unlock()

	s.log.Info("blacklist loaded", utils.Int("count", len(set)))
	return nil
}

// IsBlacklisted проверяет символ по кэшу
func (s *BlacklistService) IsBlacklisted(symbol string) bool {
	symbol = utils.NormalizeSymbol(symbol)
	s.mu.RLock()
	_, ok := s.symbols[symbol]
	s.mu.RUnlock()
	return ok
}

// AddToBlacklist добавляет пару в черный список.
//
// Символ нормализуется (btc/usdt -> BTCUSDT).
//
// Возвращает:
// - ErrBlacklistSymbolEmpty если символ пустой
// - ErrBlacklistSymbolInvalid если символ не проходит валидацию
// - ErrBlacklistSymbolExists если символ уже в списке
func (s *BlacklistService) AddToBlacklist(symbol, reason string) (*models.BlacklistEntry, error) {
	symbol, err := normalizeInput(symbol)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateSymbol(symbol); err != nil {
		return nil, ErrBlacklistSymbolInvalid
	}

	entry := &models.BlacklistEntry{
		Symbol: symbol,
		Reason: strings.TrimSpace(reason),
	}

	if err := s.repo.Create(entry); err != nil {
		if errors.Is(err, repository.ErrBlacklistEntryExists) {
			return nil, ErrBlacklistSymbolExists
		}
		return nil, err
	}

	s.mu.Lock()
	s.symbols[entry.Symbol] = struct{}{}
	s.mu.Unlock()

	s.log.Info("symbol blacklisted", utils.Symbol(entry.Symbol), utils.Reason(entry.Reason))
	return entry, nil
}

// GetBlacklist возвращает весь черный список (новые сверху)
func (s *BlacklistService) GetBlacklist() ([]*models.BlacklistEntry, error) {
	entries, err := s.repo.GetAll()
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*models.BlacklistEntry{}
	}
	return entries, nil
}

// RemoveFromBlacklist удаляет пару из черного списка по символу.
func (s *BlacklistService) RemoveFromBlacklist(symbol string) error {
	symbol, err := normalizeInput(symbol)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(symbol); err != nil {
		if errors.Is(err, repository.ErrBlacklistEntryNotFound) {
			return ErrBlacklistEntryNotFound
		}
		return err
	}

	s.mu.Lock()
	delete(s.symbols, symbol)
	s.mu.Unlock()

	s.log.Info("symbol removed from blacklist", utils.Symbol(symbol))
	return nil
}

// GetBySymbol возвращает запись черного списка по символу.
func (s *BlacklistService) GetBySymbol(symbol string) (*models.BlacklistEntry, error) {
	symbol, err := normalizeInput(symbol)
	if err != nil {
		return nil, err
	}

	entry, err := s.repo.GetBySymbol(symbol)
	if err != nil {
		if errors.Is(err, repository.ErrBlacklistEntryNotFound) {
			return nil, ErrBlacklistEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// UpdateReason обновляет причину добавления в черный список.
func (s *BlacklistService) UpdateReason(symbol, reason string) error {
	symbol, err := normalizeInput(symbol)
	if err != nil {
		return err
	}

	err = s.repo.UpdateReason(symbol, strings.TrimSpace(reason))
	if errors.Is(err, repository.ErrBlacklistEntryNotFound) {
		return ErrBlacklistEntryNotFound
	}
	return err
}

// GetCount возвращает количество записей в черном списке.
func (s *BlacklistService) GetCount() (int, error) {
	return s.repo.Count()
}

func normalizeInput(symbol string) (string, error) {
	symbol = utils.NormalizeSymbol(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", ErrBlacklistSymbolEmpty
	}
	return symbol, nil
}
