package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
	"github.com/azzan02/Water-Quality-Dashboard/internal/metrics"

	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("transport is already running")

// ErrOpenTimeout - сервер не ответил на открытие потока за RequestTimeout
var ErrOpenTimeout = errors.New("stream open timed out")

// Subscription - открытая push-подписка. Messages закрывается при обрыве потока,
// после чего Err возвращает причину (nil для штатного EOF).
type Subscription interface {
	Messages() <-chan string
	Err() error
	Close() error
}

// Subscriber открывает push-подписку; возврат без ошибки означает, что поток открыт
type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Fetcher - pull-эндпоинты сервера
type Fetcher interface {
	Latest(ctx context.Context) (domain.Sample, error)
	History(ctx context.Context) ([]domain.Sample, error)
}

type Options struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
	HistorySize    int

	// Хуки вызываются из цикла событий и не должны надолго блокировать
	OnSample      func(domain.Sample)
	OnStatus      func(connected bool)
	OnStateChange func(state State, attempt int)
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		PollInterval:   5 * time.Second,
		RequestTimeout: 10 * time.Second,
		HistorySize:    DefaultHistorySize,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = def.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = def.RequestTimeout
	}
	if o.HistorySize <= 0 {
		o.HistorySize = def.HistorySize
	}
	if o.OnSample == nil {
		o.OnSample = func(domain.Sample) {}
	}
	if o.OnStatus == nil {
		o.OnStatus = func(bool) {}
	}
	if o.OnStateChange == nil {
		o.OnStateChange = func(State, int) {}
	}
}

const (
	sourceStream    = "stream"
	sourcePoll      = "poll"
	sourceBootstrap = "bootstrap"
)

type (
	openedEvent struct {
		gen uint64
		sub Subscription
	}
	openFailedEvent struct {
		gen uint64
		err error
	}
	messageEvent struct {
		gen uint64
		raw string
	}
	streamClosedEvent struct {
		gen uint64
		err error
	}
	fetchedEvent struct {
		source string
		sample domain.Sample
		err    error
	}
)

// Transport держит подписку на поток обновлений, переключается на опрос после
// серии неудач и доставляет новые показания ровно один раз.
//
// Всё изменяемое состояние принадлежит горутине Run; сетевой ввод-вывод идёт
// во вспомогательных горутинах, которые возвращают результат событием.
type Transport struct {
	subscriber Subscriber
	fetcher    Fetcher
	opts       Options
	history    *History
	logger     *zap.Logger

	events  chan any
	running atomic.Bool

	// только для горутины Run
	state     State
	attempt   int
	gen       uint64
	sub       Subscription
	subCancel context.CancelFunc
	retry     *time.Timer
	poll      *time.Ticker

	mu     sync.RWMutex
	status Status
}

func New(subscriber Subscriber, fetcher Fetcher, opts Options, logger *zap.Logger) *Transport {
	opts.applyDefaults()
	return &Transport{
		subscriber: subscriber,
		fetcher:    fetcher,
		opts:       opts,
		history:    NewHistory(opts.HistorySize),
		logger:     logger,
		events:     make(chan any),
	}
}

// History возвращает буфер последних показаний
func (t *Transport) History() *History {
	return t.history
}

// Status возвращает снимок текущего состояния
func (t *Transport) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Bootstrap загружает историю, сортирует её по Timestamp, оставляет последние
// HistorySize записей и инициализирует отображение самой свежей из них.
// Вызывается один раз до Run.
func (t *Transport) Bootstrap(ctx context.Context) ([]domain.Sample, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.opts.RequestTimeout)
	defer cancel()

	samples, err := t.fetcher.History(reqCtx)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if len(samples) == 0 {
		t.logger.Info("[Transport] No historical data received")
		return nil, nil
	}

	domain.SortByTimestamp(samples)
	if len(samples) > t.history.Capacity() {
		samples = samples[len(samples)-t.history.Capacity():]
	}
	t.history.Seed(samples)

	t.logger.Info("[Transport] History loaded", zap.Int("records", len(samples)))

	metrics.TransportSamplesDelivered.WithLabelValues(sourceBootstrap).Inc()
	t.opts.OnSample(samples[len(samples)-1])

	return t.history.Snapshot(), nil
}

// Run открывает подписку и обслуживает цикл событий до отмены ctx.
// При выходе закрывает подписку и останавливает таймеры.
func (t *Transport) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer t.running.Store(false)
	defer t.teardown()

	t.logger.Info("[Transport] Starting live updates")
	t.connect(ctx)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("[Transport] Stopping live updates", zap.String("state", t.Status().String()))
			return ctx.Err()

		case ev := <-t.events:
			t.handle(ctx, ev)

		case <-t.retryC():
			t.retry = nil
			t.connect(ctx)

		case <-t.pollC():
			t.fetchLatest(ctx, sourcePoll)
		}
	}
}

func (t *Transport) handle(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case openedEvent:
		if e.gen != t.gen {
			_ = e.sub.Close()
			return
		}
		t.onOpen(ctx, e.sub)

	case openFailedEvent:
		if e.gen != t.gen {
			return
		}
		t.logger.Warn("[Transport] Stream open failed", zap.Error(e.err))
		t.onStreamError(ctx)

	case streamClosedEvent:
		if e.gen != t.gen {
			return
		}
		t.logger.Warn("[Transport] Stream connection error", zap.Error(e.err))
		t.onStreamError(ctx)

	case messageEvent:
		if e.gen != t.gen {
			return
		}
		t.onMessage(ctx, e.raw)

	case fetchedEvent:
		t.onFetched(e)
	}
}

func (t *Transport) onOpen(ctx context.Context, sub Subscription) {
	t.sub = sub
	t.attempt = 0
	if t.poll != nil {
		t.stopPolling()
		t.logger.Info("[Transport] Stopped polling fallback")
	}
	t.setState(Streaming)
	t.setConnected(true)
	t.logger.Info("[Transport] Stream connection opened")

	go t.pump(ctx, t.gen, sub)
}

func (t *Transport) onStreamError(ctx context.Context) {
	t.closeStream()
	t.setConnected(false)

	t.attempt++
	if t.attempt < t.opts.MaxAttempts {
		delay := Backoff(t.attempt, t.opts.BaseDelay, t.opts.MaxDelay)
		t.logger.Info("[Transport] Scheduling reconnect",
			zap.Int("attempt", t.attempt),
			zap.Duration("delay", delay))
		metrics.TransportReconnects.Inc()
		t.retry = time.NewTimer(delay)
		t.setState(Reconnecting)
		return
	}

	t.logger.Warn("[Transport] Too many stream failures, switching to polling",
		zap.Int("attempts", t.attempt))
	t.startPolling(ctx)
}

func (t *Transport) onMessage(ctx context.Context, raw string) {
	msg := Decode(raw)
	switch msg.Kind {
	case MessageSignal:
		t.fetchLatest(ctx, sourceStream)
	case MessagePayload:
		if msg.Sample.IsEmpty() {
			return
		}
		t.deliver(msg.Sample, sourceStream)
	default:
		t.logger.Debug("[Transport] Ignoring unexpected stream message", zap.String("data", raw))
	}
}

func (t *Transport) onFetched(e fetchedEvent) {
	if e.err != nil {
		t.logger.Warn("[Transport] Failed to fetch latest sample",
			zap.String("source", e.source),
			zap.Error(e.err))
		if e.source == sourcePoll {
			metrics.TransportPolls.WithLabelValues("error").Inc()
			t.setConnected(false)
		}
		return
	}

	if e.source == sourcePoll {
		metrics.TransportPolls.WithLabelValues("ok").Inc()
		t.setConnected(true)
	}

	if e.sample.IsEmpty() {
		t.logger.Debug("[Transport] Received empty latest sample", zap.String("source", e.source))
		return
	}
	t.deliver(e.sample, e.source)
}

// deliver - единственная точка приёма новых показаний
func (t *Transport) deliver(s domain.Sample, source string) {
	if s.Timestamp != "" && !t.history.Add(s) {
		metrics.TransportSamplesDuplicate.Inc()
		t.logger.Debug("[Transport] Duplicate sample skipped", zap.String("timestamp", string(s.Timestamp)))
		return
	}

	metrics.TransportSamplesDelivered.WithLabelValues(source).Inc()
	t.opts.OnSample(s)
}

// startPolling переводит транспорт в терминальный режим опроса
func (t *Transport) startPolling(ctx context.Context) {
	t.closeStream()
	t.stopRetry()
	t.stopPolling()

	t.setState(Polling)
	t.logger.Info("[Transport] Polling latest sample", zap.Duration("interval", t.opts.PollInterval))

	t.fetchLatest(ctx, sourcePoll)
	t.poll = time.NewTicker(t.opts.PollInterval)
}

func (t *Transport) connect(ctx context.Context) {
	t.closeStream()
	gen := t.gen
	t.setState(Connecting)

	subCtx, cancel := context.WithCancel(ctx)
	t.subCancel = cancel
	timeout := t.opts.RequestTimeout

	go func() {
		// таймаут действует только до открытия, чтение потока им не ограничено
		timer := time.AfterFunc(timeout, cancel)
		sub, err := t.subscriber.Subscribe(subCtx)
		if !timer.Stop() {
			if err == nil {
				_ = sub.Close()
			}
			err = fmt.Errorf("%w after %s", ErrOpenTimeout, timeout)
		}
		if err != nil {
			t.post(ctx, openFailedEvent{gen: gen, err: err})
			return
		}
		if !t.post(ctx, openedEvent{gen: gen, sub: sub}) {
			_ = sub.Close()
		}
	}()
}

func (t *Transport) pump(ctx context.Context, gen uint64, sub Subscription) {
	for raw := range sub.Messages() {
		if !t.post(ctx, messageEvent{gen: gen, raw: raw}) {
			return
		}
	}
	t.post(ctx, streamClosedEvent{gen: gen, err: sub.Err()})
}

func (t *Transport) fetchLatest(ctx context.Context, source string) {
	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, t.opts.RequestTimeout)
		defer cancel()

		s, err := t.fetcher.Latest(reqCtx)
		t.post(ctx, fetchedEvent{source: source, sample: s, err: err})
	}()
}

func (t *Transport) post(ctx context.Context, ev any) bool {
	select {
	case t.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// closeStream закрывает текущую подписку; события старого поколения после этого отбрасываются
func (t *Transport) closeStream() {
	t.gen++
	if t.subCancel != nil {
		t.subCancel()
		t.subCancel = nil
	}
	if t.sub != nil {
		if err := t.sub.Close(); err != nil {
			t.logger.Debug("[Transport] Error closing stream", zap.Error(err))
		}
		t.sub = nil
	}
}

func (t *Transport) stopRetry() {
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
}

func (t *Transport) stopPolling() {
	if t.poll != nil {
		t.poll.Stop()
		t.poll = nil
	}
}

func (t *Transport) teardown() {
	t.closeStream()
	t.stopRetry()
	t.stopPolling()
	t.setConnected(false)
}

func (t *Transport) retryC() <-chan time.Time {
	if t.retry == nil {
		return nil
	}
	return t.retry.C
}

func (t *Transport) pollC() <-chan time.Time {
	if t.poll == nil {
		return nil
	}
	return t.poll.C
}

func (t *Transport) setState(s State) {
	t.state = s
	t.mu.Lock()
	t.status.State = s
	t.status.Attempt = t.attempt
	t.mu.Unlock()

	metrics.TransportState.Set(float64(s))
	t.opts.OnStateChange(s, t.attempt)
}

func (t *Transport) setConnected(connected bool) {
	t.mu.Lock()
	changed := t.status.Connected != connected
	t.status.Connected = connected
	t.mu.Unlock()

	if changed {
		t.opts.OnStatus(connected)
	}
}
