package dashboard

import (
	"sync"

	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
	"github.com/azzan02/Water-Quality-Dashboard/internal/transport"

	"go.uber.org/zap"
)

// Snapshot - согласованное состояние панели на момент вызова
type Snapshot struct {
	Latest      domain.Sample
	History     []domain.Sample
	Path        []domain.Point
	ArsenicRisk domain.RiskLevel
	BariumRisk  domain.RiskLevel
	Connected   bool
	LastUpdated domain.Timestamp
	Charts      []string
}

// Session - состояние дашборда, которое обновляет транспорт через OnSample и OnStatus.
// Графики перерисовываются в отдельной горутине; запросы, пришедшие во время
// отрисовки, склеиваются в одну.
type Session struct {
	history  *transport.History
	renderer *ChartRenderer
	logger   *zap.Logger

	mu          sync.RWMutex
	latest      domain.Sample
	path        []domain.Point
	arsenic     domain.RiskLevel
	barium      domain.RiskLevel
	connected   bool
	lastUpdated domain.Timestamp
	charts      []string
	closed      bool

	refresh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSession создаёт сессию поверх буфера истории транспорта.
// renderer может быть nil, тогда графики не рисуются.
func NewSession(history *transport.History, renderer *ChartRenderer, logger *zap.Logger) *Session {
	s := &Session{
		history:  history,
		renderer: renderer,
		logger:   logger,
		refresh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if renderer != nil {
		s.wg.Add(1)
		go s.renderLoop()
	}
	return s
}

// OnSample применяет новое показание: трек, уровни риска, время обновления,
// затем перерисовка графиков.
func (s *Session) OnSample(sample domain.Sample) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if p, ok := sample.Position(); ok {
		s.appendPoint(p)
	}
	if sample.Arsenic != nil {
		s.arsenic = domain.ArsenicRisk(sample.Arsenic)
	}
	if sample.Barium != nil {
		s.barium = domain.BariumRisk(sample.Barium)
	}
	if sample.Timestamp != "" {
		s.lastUpdated = sample.Timestamp
	}
	s.latest = sample
	s.mu.Unlock()

	s.logger.Debug("[Dashboard] Sample applied",
		zap.String("timestamp", string(sample.Timestamp)),
		zap.Stringer("arsenic_risk", domain.ArsenicRisk(sample.Arsenic)),
		zap.Stringer("barium_risk", domain.BariumRisk(sample.Barium)))

	s.requestRefresh()
}

// OnStatus обновляет индикатор соединения
func (s *Session) OnStatus(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()

	if changed {
		s.logger.Info("[Dashboard] Connection status changed", zap.Bool("connected", connected))
	}
}

// SeedPath строит трек по загруженной истории
func (s *Session) SeedPath(samples []domain.Sample) {
	s.mu.Lock()
	s.path = s.path[:0]
	for _, sample := range samples {
		if p, ok := sample.Position(); ok {
			s.appendPoint(p)
		}
	}
	n := len(s.path)
	s.mu.Unlock()

	s.logger.Info("[Dashboard] GPS path seeded", zap.Int("points", n))
	s.requestRefresh()
}

// appendPoint добавляет точку, пропуская повтор последней. Вызывается под s.mu.
func (s *Session) appendPoint(p domain.Point) {
	if n := len(s.path); n > 0 && s.path[n-1] == p {
		return
	}
	s.path = append(s.path, p)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Latest:      s.latest,
		Path:        append([]domain.Point(nil), s.path...),
		ArsenicRisk: s.arsenic,
		BariumRisk:  s.barium,
		Connected:   s.connected,
		LastUpdated: s.lastUpdated,
		Charts:      append([]string(nil), s.charts...),
	}
	if s.history != nil {
		snap.History = s.history.Snapshot()
	}
	return snap
}

// Close останавливает отрисовку и ждёт её завершения. Повторный вызов безопасен.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("[Dashboard] Session closed")
}

func (s *Session) requestRefresh() {
	if s.renderer == nil {
		return
	}
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

func (s *Session) renderLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.refresh:
			s.renderCharts()
		}
	}
}

func (s *Session) renderCharts() {
	if s.history == nil {
		return
	}

	written, err := s.renderer.Render(s.history.Snapshot())
	if err != nil {
		s.logger.Warn("[Dashboard] Some charts failed to render", zap.Error(err))
	}

	s.mu.Lock()
	s.charts = written
	s.mu.Unlock()
}
