package bot

import (
	"errors"
	"strconv"

	"riskgate/internal/models"
)

// ErrDispatcherRunning - повторный запуск Run у работающего диспетчера
var ErrDispatcherRunning = errors.New("dispatcher already running")

// tryEnqueueSignal отправляет сигнал в очередь шарда с метриками переполнения.
// Возвращает true, если сигнал поставлен в очередь.
func tryEnqueueSignal(ch chan models.Signal, sig models.Signal, shard int) bool {
	if ch == nil {
		return false
	}

	select {
	case ch <- sig:
		ShardQueueSize.WithLabelValues(strconv.Itoa(shard)).Set(float64(len(ch)))
		return true
	default:
		RecordBufferOverflow("shard")
		return false
	}
}
