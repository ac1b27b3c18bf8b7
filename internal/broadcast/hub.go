package broadcast

import (
	"sync"

	"github.com/azzan02/Water-Quality-Dashboard/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscriber - очередь уведомлений одного клиента потока
type Subscriber struct {
	ID uuid.UUID
	ch chan string
}

// C возвращает канал уведомлений; закрывается при Unsubscribe или Close хаба
func (s *Subscriber) C() <-chan string {
	return s.ch
}

// Hub рассылает уведомления всем подключённым клиентам /stream.
// Notify никогда не блокируется: если буфер клиента полон, сообщение для него теряется.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Subscriber
	buffer  int
	closed  bool
	logger  *zap.Logger
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		clients: make(map[uuid.UUID]*Subscriber),
		buffer:  buffer,
		logger:  logger,
	}
}

// Subscribe регистрирует нового клиента. После Close хаба возвращает nil.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	sub := &Subscriber{ID: uuid.New(), ch: make(chan string, h.buffer)}
	h.clients[sub.ID] = sub
	metrics.StreamClients.Set(float64(len(h.clients)))

	h.logger.Info("New stream client connected",
		zap.String("client_id", sub.ID.String()),
		zap.Int("total_clients", len(h.clients)))
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[sub.ID]; !ok {
		return
	}
	delete(h.clients, sub.ID)
	close(sub.ch)
	metrics.StreamClients.Set(float64(len(h.clients)))

	h.logger.Info("Stream client removed",
		zap.String("client_id", sub.ID.String()),
		zap.Int("remaining_clients", len(h.clients)))
}

// Notify ставит сообщение в очередь каждому клиенту и возвращает число доставленных
func (h *Hub) Notify(msg string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.clients {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			metrics.StreamMessagesDropped.Inc()
			h.logger.Warn("Stream client buffer full, notification dropped",
				zap.String("client_id", sub.ID.String()))
		}
	}

	h.logger.Debug("Notified stream clients",
		zap.Int("clients", len(h.clients)),
		zap.Int("delivered", delivered))
	return delivered
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close отключает всех клиентов; используется при остановке сервера
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, sub := range h.clients {
		close(sub.ch)
		delete(h.clients, id)
	}
	metrics.StreamClients.Set(0)
}
