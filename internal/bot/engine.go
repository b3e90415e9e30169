package bot

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"riskgate/internal/config"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// ============================================================
// Диспетчер сигналов
// ============================================================
//
// Архитектура:
// Kafka / API → Dispatcher (hash by symbol) → Shard[N] → Gate.Process
//
// Все сигналы одного символа обрабатываются последовательно одним
// воркером своего шарда; разные символы обрабатываются параллельно.

// FNV-1a константы
const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// fnvHash вычисляет FNV-1a hash строки без аллокаций
func fnvHash(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// SignalProcessor - обработчик одного сигнала (Gate)
type SignalProcessor interface {
	Process(ctx context.Context, sig models.Signal) models.Decision
}

// Dispatcher - шардированный пул воркеров гейта
type Dispatcher struct {
	processor SignalProcessor
	shards    []chan models.Signal
	numShards uint32
	log       *utils.Logger

	running int32

	// Статистика для мониторинга
	submitted int64
	processed int64
	dropped   int64
}

// NewDispatcher создаёт диспетчер с cfg.Workers шардами по cfg.QueueSize сигналов
func NewDispatcher(processor SignalProcessor, cfg config.GateConfig, logger *utils.Logger) *Dispatcher {
	if logger == nil {
		logger = utils.L()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queue := cfg.QueueSize
	if queue < 1 {
		queue = 1
	}

	d := &Dispatcher{
		processor: processor,
		shards:    make([]chan models.Signal, workers),
		numShards: uint32(workers),
		log:       logger.WithComponent("dispatcher"),
	}
	for i := range d.shards {
		d.shards[i] = make(chan models.Signal, queue)
	}
	return d
}

// ShardIndex возвращает шард символа; один символ всегда в одном шарде
func (d *Dispatcher) ShardIndex(symbol string) int {
	return int(fnvHash(utils.NormalizeSymbol(symbol)) % d.numShards)
}

// Submit ставит сигнал в очередь шарда без блокировки
//
// Возвращает false если очередь шарда переполнена (сигнал отброшен).
func (d *Dispatcher) Submit(sig models.Signal) bool {
	idx := d.ShardIndex(sig.Symbol)
	atomic.AddInt64(&d.submitted, 1)

	if !tryEnqueueSignal(d.shards[idx], sig, idx) {
		atomic.AddInt64(&d.dropped, 1)
		d.log.Warn("signal dropped: shard queue full",
			utils.Symbol(sig.Symbol), utils.SignalID(sig.ID), utils.Int("shard", idx))
		return false
	}
	return true
}

// Run запускает воркеры шардов и читает сигналы из in до отмены контекста
//
// in может быть nil: тогда сигналы поступают только через Submit.
// Возвращает управление после остановки всех воркеров.
func (d *Dispatcher) Run(ctx context.Context, in <-chan models.Signal) error {
	if !atomic.CompareAndSwapInt32(&d.running, 0, 1) {
		return ErrDispatcherRunning
	}
	defer atomic.StoreInt32(&d.running, 0)

	var wg sync.WaitGroup
	for i := range d.shards {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			d.shardWorker(ctx, idx)
		}(i)
	}

	d.log.Info("dispatcher started", utils.Int("shards", len(d.shards)))

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			d.log.Info("dispatcher stopped", utils.Int64("processed", atomic.LoadInt64(&d.processed)))
			return ctx.Err()
		case sig, ok := <-in:
			if !ok {
				// вход закрыт: дорабатываем до отмены контекста
				in = nil
				continue
			}
			d.Submit(sig)
		}
	}
}

// shardWorker обрабатывает сигналы одного шарда последовательно
func (d *Dispatcher) shardWorker(ctx context.Context, idx int) {
	queue := d.shards[idx]
	label := strconv.Itoa(idx)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-queue:
			ShardQueueSize.WithLabelValues(label).Set(float64(len(queue)))
			d.processor.Process(ctx, sig)
			atomic.AddInt64(&d.processed, 1)
		}
	}
}

// DispatcherStats - статистика диспетчера
type DispatcherStats struct {
	Shards    int   `json:"shards"`
	Submitted int64 `json:"submitted"`
	Processed int64 `json:"processed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// GetStats возвращает статистику
func (d *Dispatcher) GetStats() DispatcherStats {
	queued := 0
	for _, q := range d.shards {
		queued += len(q)
	}
	return DispatcherStats{
		Shards:    len(d.shards),
		Submitted: atomic.LoadInt64(&d.submitted),
		Processed: atomic.LoadInt64(&d.processed),
		Dropped:   atomic.LoadInt64(&d.dropped),
		Queued:    queued,
	}
}
