package bot

import (
	"errors"
	"fmt"

	"riskgate/internal/config"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// ============================================================
// Калькулятор целей TP/SL
// ============================================================
//
// TP всегда перекрывает издержки round-trip (комиссии + проскальзывание)
// плюс буфер, а отношение TP/SL не ниже минимального reward-to-risk.
// Калькулятор не хранит состояния и безопасен для параллельного вызова.

// DefaultMinRewardToRisk - минимальный RR, если в параметрах задан 0
const DefaultMinRewardToRisk = 1.25

// DefaultAtrFraction - оценка ATR как доли цены, если ATR неизвестен (1%)
const DefaultAtrFraction = 0.01

// rrEpsilon - допуск на ошибку округления при проверке RR
const rrEpsilon = 1e-9

// ErrInvalidInput - невалидные входные данные калькулятора (цена <= 0, NaN, отрицательные издержки)
var ErrInvalidInput = errors.New("invalid target input")

// TargetParams - параметры калькулятора, кроме модели издержек
type TargetParams struct {
	Mode            models.TargetMode
	TPMinBps        float64 // минимальный TP для fixed_min
	TPAtrMultiplier float64 // множитель ATR для TP
	SLAtrMultiplier float64 // множитель ATR для SL
	MinRewardToRisk float64
}

// NewTargetParams собирает параметры калькулятора из конфигурации
func NewTargetParams(cfg config.TargetsConfig) TargetParams {
	return TargetParams{
		Mode:            models.TargetMode(cfg.Mode),
		TPMinBps:        cfg.TPMinBps,
		TPAtrMultiplier: cfg.TPAtrMultiplier,
		SLAtrMultiplier: cfg.SLAtrMultiplier,
		MinRewardToRisk: cfg.MinRewardToRisk,
	}
}

// NewFrictionModel собирает модель издержек из конфигурации
func NewFrictionModel(cfg config.TargetsConfig) models.FrictionModel {
	return models.FrictionModel{
		TakerFeeBps: cfg.TakerFeeBps,
		MakerFeeBps: cfg.MakerFeeBps,
		SlippageBps: cfg.SlippageBps,
		BufferBps:   cfg.BufferBps,
	}
}

// ComputeTargets рассчитывает дистанции TP/SL в bps
//
// Режимы:
//   - fixed_min:   tp = max(TPMinBps, floor), sl = tp / minRR
//   - atr_dynamic: atr по умолчанию 1% цены; tp = max(k_tp × atr_bps, floor),
//     sl = max(k_sl × atr_bps, floor / minRR), затем sl ограничен сверху tp / minRR
//
// Гарантии для валидного входа: TPBps >= TPFloorBps и RewardToRisk >= minRR.
// atr == nil означает, что ATR неизвестен.
func ComputeTargets(price float64, atr *float64, friction models.FrictionModel, params TargetParams) (models.TradeTargets, error) {
	if !utils.IsFinite(price) || price <= 0 {
		return models.TradeTargets{}, fmt.Errorf("%w: price must be positive, got %v", ErrInvalidInput, price)
	}
	if err := validateFriction(friction); err != nil {
		return models.TradeTargets{}, err
	}

	minRR := params.MinRewardToRisk
	if minRR <= 0 || !utils.IsFinite(minRR) {
		minRR = DefaultMinRewardToRisk
	}

	frictionBps := friction.FrictionBps()
	floor := friction.TPFloorBps()

	out := models.TradeTargets{
		Mode:        params.Mode,
		FrictionBps: frictionBps,
		TPFloorBps:  floor,
	}

	switch params.Mode {
	case models.TargetModeFixedMin, "":
		out.Mode = models.TargetModeFixedMin
		out.TPBps = utils.Max(params.TPMinBps, floor)
		out.SLBps = out.TPBps / minRR

	case models.TargetModeAtrDynamic:
		atrValue := price * DefaultAtrFraction
		if atr != nil {
			if !utils.IsFinite(*atr) || *atr < 0 {
				return models.TradeTargets{}, fmt.Errorf("%w: atr must be non-negative, got %v", ErrInvalidInput, *atr)
			}
			atrValue = *atr
		}
		atrBps := utils.ToBps(atrValue / price)

		out.AtrBps = atrBps
		out.TPBps = utils.Max(params.TPAtrMultiplier*atrBps, floor)
		out.SLBps = utils.Max(params.SLAtrMultiplier*atrBps, floor/minRR)
		// Широкий SL при узком TP нарушил бы минимальный RR
		out.SLBps = utils.Min(out.SLBps, out.TPBps/minRR)

	default:
		return models.TradeTargets{}, fmt.Errorf("%w: unknown target mode %q", ErrInvalidInput, params.Mode)
	}

	if out.TPBps <= 0 || out.SLBps <= 0 {
		return models.TradeTargets{}, fmt.Errorf("%w: zero-width targets (tp=%v sl=%v)", ErrInvalidInput, out.TPBps, out.SLBps)
	}

	out.RewardToRisk = out.TPBps / out.SLBps
	if out.RewardToRisk < minRR && minRR-out.RewardToRisk < rrEpsilon {
		out.RewardToRisk = minRR
	}

	return out, nil
}

// validateFriction отклоняет отрицательные и нечисловые издержки
func validateFriction(f models.FrictionModel) error {
	for name, v := range map[string]float64{
		"taker_fee_bps": f.TakerFeeBps,
		"maker_fee_bps": f.MakerFeeBps,
		"slippage_bps":  f.SlippageBps,
		"buffer_bps":    f.BufferBps,
	} {
		if !utils.IsFinite(v) || v < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %v", ErrInvalidInput, name, v)
		}
	}
	return nil
}
