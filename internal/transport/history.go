package transport

import (
	"sync"

	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
)

// DefaultHistorySize - сколько последних показаний держим для графиков
const DefaultHistorySize = 20

// History - ограниченный FIFO-буфер показаний с дедупликацией по Timestamp.
// Пишет в него только транспорт; читать можно из любой горутины.
type History struct {
	mu       sync.RWMutex
	data     []domain.Sample
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		data:     make([]domain.Sample, 0, capacity),
		capacity: capacity,
	}
}

// Add добавляет показание, если его Timestamp ещё не встречался, вытесняя самое старое.
// Возвращает false для дубликата.
func (h *History) Add(s domain.Sample) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.Timestamp != "" && h.indexOf(s.Timestamp) >= 0 {
		return false
	}
	if len(h.data) >= h.capacity {
		h.data = append(h.data[:0], h.data[len(h.data)-h.capacity+1:]...)
	}
	h.data = append(h.data, s)
	return true
}

// Seed заменяет содержимое последними capacity показаниями без дедупликации
func (h *History) Seed(samples []domain.Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(samples) > h.capacity {
		samples = samples[len(samples)-h.capacity:]
	}
	h.data = append(h.data[:0], samples...)
}

func (h *History) Contains(ts domain.Timestamp) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.indexOf(ts) >= 0
}

// Snapshot возвращает копию буфера от старых к новым
func (h *History) Snapshot() []domain.Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Sample, len(h.data))
	copy(out, h.data)
	return out
}

// Latest возвращает самое новое показание
func (h *History) Latest() (domain.Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.data) == 0 {
		return domain.Sample{}, false
	}
	return h.data[len(h.data)-1], true
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.data)
}

func (h *History) Capacity() int {
	return h.capacity
}

func (h *History) indexOf(ts domain.Timestamp) int {
	for i := range h.data {
		if h.data[i].Timestamp == ts {
			return i
		}
	}
	return -1
}
