package mqtt

import (
	"fmt"
	"sync"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/config"
	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
	"github.com/azzan02/Water-Quality-Dashboard/internal/metrics"
	"github.com/azzan02/Water-Quality-Dashboard/pkg/utils"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Subscriber принимает аплинки LoRa-шлюза из MQTT и складывает их в очередь
// для агрегатора. При переполнении очереди аплинк отбрасывается.
type Subscriber struct {
	cfg    config.MQTTConfig
	client paho.Client
	logger *zap.Logger

	mu      sync.RWMutex
	uplinks chan *domain.Uplink
	stopped bool
}

func NewSubscriber(cfg config.MQTTConfig, logger *zap.Logger) *Subscriber {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	return &Subscriber{
		cfg:     cfg,
		logger:  logger,
		uplinks: make(chan *domain.Uplink, cfg.QueueSize),
	}
}

// Uplinks возвращает очередь аплинков; закрывается после Stop
func (s *Subscriber) Uplinks() <-chan *domain.Uplink {
	return s.uplinks
}

func (s *Subscriber) Start() error {
	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%d", s.cfg.ClientID, time.Now().Unix()))

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = s.onConnect
	opts.OnConnectionLost = s.onConnectionLost

	s.client = paho.NewClient(opts)

	s.logger.Info("[MQTT] Connecting to broker",
		zap.String("broker", s.cfg.Broker),
		zap.String("topic", s.cfg.Topic))

	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("MQTT connect timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}
	return nil
}

// Stop отключается от брокера и закрывает очередь
func (s *Subscriber) Stop() {
	s.logger.Info("[MQTT] Stopping subscriber")
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(1000)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.uplinks)
	}
}

func (s *Subscriber) onConnect(client paho.Client) {
	s.logger.Info("[MQTT] Connected")

	token := client.Subscribe(s.cfg.Topic, 1, s.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		s.logger.Error("[MQTT] Subscribe timeout", zap.String("topic", s.cfg.Topic))
		return
	}
	if token.Error() != nil {
		s.logger.Error("[MQTT] Subscribe error", zap.String("topic", s.cfg.Topic), zap.Error(token.Error()))
		return
	}

	s.logger.Info("[MQTT] Subscribed", zap.String("topic", s.cfg.Topic))
}

func (s *Subscriber) onConnectionLost(client paho.Client, err error) {
	s.logger.Warn("[MQTT] Connection lost, will auto-reconnect", zap.Error(err))
}

func (s *Subscriber) onMessage(client paho.Client, msg paho.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	uplink := &domain.Uplink{
		ID:         utils.NewUUID(),
		ReceivedAt: time.Now(),
		Topic:      msg.Topic(),
		Payload:    payload,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}

	select {
	case s.uplinks <- uplink:
		s.logger.Debug("[MQTT] Uplink queued", zap.String("uplink_id", uplink.ID.String()))
	default:
		metrics.MQTTUplinksDropped.Inc()
		s.logger.Warn("[MQTT] Uplink queue full, dropping uplink",
			zap.String("topic", uplink.Topic))
	}
}
