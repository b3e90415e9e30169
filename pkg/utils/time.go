package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Границы часовых и дневных окон в UTC. Используются для сброса
// счётчиков сделок (час/день) и пересчёта дневного PnL.
//
// Функции:
// - GetHourStartFrom / GetDayStartFrom: начало окна для момента
// - GetNextHourStart: следующая граница часа для планировщика сбросов
// - FormatDuration: человекочитаемая продолжительность

// ============================================================
// Границы окон
// ============================================================

// GetHourStartFrom возвращает начало часа для указанного времени в UTC
//
// Пример:
//
//	// t: 2024-01-15 14:30:45 UTC
//	start := GetHourStartFrom(t)
//	// start: 2024-01-15 14:00:00 UTC
func GetHourStartFrom(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// GetDayStartFrom возвращает начало дня (00:00:00 UTC) для указанного времени
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetDayStart возвращает начало текущего дня в UTC
func GetDayStart() time.Time {
	return GetDayStartFrom(time.Now())
}

// GetNextHourStart возвращает ближайшую будущую границу часа
func GetNextHourStart(t time.Time) time.Time {
	return GetHourStartFrom(t).Add(time.Hour)
}

// ============================================================
// Форматирование
// ============================================================

// FormatDuration форматирует продолжительность с точностью до секунды
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "72h0m0s"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	return d.Truncate(time.Second).String()
}
