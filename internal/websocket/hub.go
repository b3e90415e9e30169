package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"riskgate/internal/bot"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// hubBufferSize - буфер broadcast канала
const hubBufferSize = 256

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Рассылка решений гейта, активного набора и состояния безопасности
// всем подключенным клиентам без polling.
//
// Broadcast никогда не блокирует вызывающего: гейт публикует решения
// из горутин воркеров, поэтому при переполненном буфере сообщение
// отбрасывается и учитывается в DroppedMessages. Медленный клиент
// с полным буфером отключается.
//
// Использование:
// 1. hub := NewHub(logger)
// 2. go hub.Run(ctx)
// 3. hub.Publish / BroadcastActiveSet / BroadcastSafetyStatus
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu  sync.RWMutex
	log *utils.Logger

	dropped  int64
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub создает новый Hub
func NewHub(logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, hubBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        logger.WithComponent("ws_hub"),
		done:       make(chan struct{}),
	}
}

// Run запускает главный цикл Hub
//
// Возвращается при отмене ctx или вызове Stop; все клиенты отключаются.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	defer h.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-h.done:
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", utils.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", utils.Int("clients", n))

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// fanOut рассылает сообщение; клиенты с полным буфером отключаются
func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}

	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Warn("removed slow clients", utils.Int("removed", len(slow)), utils.Int("clients", n))
}

// Stop останавливает Run (идемпотентно)
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
//
// Не блокирует: при переполнении буфера сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}
	h.BroadcastRaw(data)
}

// BroadcastRaw ставит готовые байты в очередь рассылки
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		atomic.AddInt64(&h.dropped, 1)
		bot.RecordBufferOverflow("ws_hub")
	}
}

// Name - имя приёмника решений для метрик
func (h *Hub) Name() string { return "ws_hub" }

// Publish рассылает решение гейта (bot.DecisionSink)
func (h *Hub) Publish(_ context.Context, d models.Decision) error {
	h.Broadcast(NewDecisionMessage(d))
	return nil
}

// BroadcastActiveSet рассылает новый активный набор
func (h *Hub) BroadcastActiveSet(set *models.ActivePairSet) {
	if set == nil {
		return
	}
	h.Broadcast(NewActiveSetMessage(set))
}

// BroadcastSafetyStatus рассылает состояние машины безопасности
func (h *Hub) BroadcastSafetyStatus(status models.SafetyStatus) {
	h.Broadcast(NewSafetyMessage(status))
}

// FollowActiveSet пересылает обновления селектора клиентам до отмены ctx
//
// updates обычно получен из Selector.Subscribe.
func (h *Hub) FollowActiveSet(ctx context.Context, updates <-chan *models.ActivePairSet) {
	for {
		select {
		case <-ctx.Done():
			return
		case set, ok := <-updates:
			if !ok {
				return
			}
			h.BroadcastActiveSet(set)
		}
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает количество отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return atomic.LoadInt64(&h.dropped)
}

var _ bot.DecisionSink = (*Hub)(nil)
