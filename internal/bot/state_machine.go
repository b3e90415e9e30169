package bot

import "riskgate/internal/models"

// ValidSafetyTransitions определяет допустимые переходы машины безопасности
var ValidSafetyTransitions = map[string][]string{
	models.SafetyNormal:       {models.SafetyCooldown, models.SafetyKillSwitched},
	models.SafetyCooldown:     {models.SafetyProbation, models.SafetyKillSwitched},
	models.SafetyProbation:    {models.SafetyNormal, models.SafetyCooldown, models.SafetyKillSwitched},
	models.SafetyKillSwitched: {}, // поглощающее до перезапуска
}

// CanSafetyTransition проверяет допустимость перехода
func CanSafetyTransition(from, to string) bool {
	allowed, ok := ValidSafetyTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// SafetyStateInfo возвращает описание состояния для UI
func SafetyStateInfo(s string) string {
	switch s {
	case models.SafetyNormal:
		return "Торговля разрешена"
	case models.SafetyCooldown:
		return "Пауза после серии убытков"
	case models.SafetyProbation:
		return "Пробный режим: уменьшенный размер позиции"
	case models.SafetyKillSwitched:
		return "Торговля остановлена до перезапуска"
	default:
		return "Неизвестное состояние"
	}
}

// AllowsTrading возвращает true если состояние в принципе допускает сделки
func AllowsTrading(s string) bool {
	return s == models.SafetyNormal || s == models.SafetyProbation
}

// IsTerminal возвращает true для поглощающего состояния
func IsTerminal(s string) bool {
	return s == models.SafetyKillSwitched
}
