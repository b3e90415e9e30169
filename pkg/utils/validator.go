package utils

// validator.go - валидация данных
//
// Назначение:
// Проверка корректности входных данных сигналов и API запросов.
//
// Функции:
// - ValidateSymbol / NormalizeSymbol: формат символа (BTCUSDT)
// - ValidateSide: направление сделки (buy/sell)
// - ValidatePrice: цена > 0 и конечна
//
// Возвращает error с описанием проблемы или nil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrInvalidSide   = errors.New("invalid side: must be buy or sell")
	ErrInvalidPrice  = errors.New("invalid price: must be positive and finite")
)

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9]+([-_/][A-Za-z0-9]+)?$`)

// ValidateSymbol проверяет формат символа: 2-30 символов, буквы/цифры,
// допускается один разделитель (-, _ или /)
func ValidateSymbol(symbol string) error {
	if len(symbol) < 2 || len(symbol) > 30 {
		return fmt.Errorf("%w: length must be 2-30", ErrInvalidSymbol)
	}
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// IsValidSymbol - булева обёртка над ValidateSymbol
func IsValidSymbol(symbol string) bool {
	return ValidateSymbol(symbol) == nil
}

// NormalizeSymbol приводит символ к формату биржи: BTC-usdt -> BTCUSDT
func NormalizeSymbol(symbol string) string {
	replacer := strings.NewReplacer("-", "", "_", "", "/", "", " ", "")
	return strings.ToUpper(replacer.Replace(strings.TrimSpace(symbol)))
}

// ValidateSide проверяет направление сделки
func ValidateSide(side string) error {
	switch strings.ToLower(side) {
	case "buy", "sell":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
}

// ValidatePrice проверяет что цена положительна и конечна
func ValidatePrice(price float64) error {
	if !IsFinite(price) || price <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	return nil
}

// ============================================================
// Агрегированные ошибки
// ============================================================

// ValidationError - ошибка конкретного поля
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors - набор ошибок валидации
type ValidationErrors []ValidationError

// Add добавляет ошибку поля
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// AddError добавляет ошибку, если она не nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// HasErrors возвращает true если есть хотя бы одна ошибка
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}
