package kafka

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrEmptyMessage - сообщение без тела
var ErrEmptyMessage = errors.New("empty message")

// DecodeSignal разбирает сигнал стратегии
//
// Символ нормализуется, сторона приводится к нижнему регистру.
// Полная валидация остаётся за гейтом (стадия validation), чтобы
// на каждый сигнал было принято решение. Пустой timestamp
// заменяется временем получения.
func DecodeSignal(value []byte, received time.Time) (models.Signal, error) {
	if len(value) == 0 {
		return models.Signal{}, ErrEmptyMessage
	}

	var sig models.Signal
	if err := json.Unmarshal(value, &sig); err != nil {
		return models.Signal{}, fmt.Errorf("decode signal: %w", err)
	}

	sig.Symbol = utils.NormalizeSymbol(sig.Symbol)
	sig.Side = models.Side(strings.ToLower(strings.TrimSpace(string(sig.Side))))
	if sig.Timestamp.IsZero() {
		sig.Timestamp = received
	}
	return sig, nil
}

// DecodeOutcome разбирает исход закрытой сделки
func DecodeOutcome(value []byte) (models.TradeOutcome, error) {
	if len(value) == 0 {
		return models.TradeOutcome{}, ErrEmptyMessage
	}

	var outcome models.TradeOutcome
	if err := json.Unmarshal(value, &outcome); err != nil {
		return models.TradeOutcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	return outcome, nil
}

// EncodeDecision сериализует решение гейта целиком
func EncodeDecision(d models.Decision) ([]byte, error) {
	return json.Marshal(d)
}
