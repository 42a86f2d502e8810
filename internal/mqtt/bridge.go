package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCalibrationCore/internal/config"
	"github.com/KevinKickass/OpenCalibrationCore/internal/signal"
)

const (
	queueSize      = 64
	publishTimeout = 2 * time.Second
	commandTimeout = 10 * time.Second
)

// Handler executes a bus signal; *poller.Service satisfies it.
type Handler interface {
	HandleSignal(ctx context.Context, name string, payload any) error
}

type client interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Subscribe(ctx context.Context, s *paho.Subscribe) (*paho.Suback, error)
	Disconnect(d *paho.Disconnect) error
}

type command struct {
	name    string
	payload string
}

// Bridge connects the signal bus to an MQTT broker. Messages on
// <prefix>/cmd/<signal> become HandleSignal calls, cal_ results are
// published to <prefix>/value/<variable>.
type Bridge struct {
	cfg      config.MQTTConfig
	handler  Handler
	registry *signal.Registry
	logger   *zap.Logger

	client      client
	queue       chan command
	wg          sync.WaitGroup
	unsubscribe func()
	mu          sync.Mutex
	running     bool
}

func NewBridge(cfg config.MQTTConfig, handler Handler, registry *signal.Registry, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "occ"
	}
	return &Bridge{
		cfg:      cfg,
		handler:  handler,
		registry: registry,
		logger:   logger,
	}
}

func (b *Bridge) commandTopic() string { return b.cfg.TopicPrefix + "/cmd/" }
func (b *Bridge) valueTopic() string   { return b.cfg.TopicPrefix + "/value/" }

// Start connects to the broker and subscribes to the command topic.
func (b *Bridge) Start(ctx context.Context) error {
	var d net.Dialer
	tcpConn, err := d.DialContext(ctx, "tcp", b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", b.cfg.Broker, err)
	}

	c := paho.NewClient(paho.ClientConfig{
		Conn:   packets.NewThreadSafeConn(tcpConn),
		Router: paho.NewSingleHandlerRouter(b.onPublish),
		OnClientError: func(err error) {
			b.logger.Error("MQTT client error", zap.Error(err))
		},
	})

	cp := &paho.Connect{
		KeepAlive:  30,
		ClientID:   b.cfg.ClientID,
		CleanStart: true,
		Username:   b.cfg.Username,
		Password:   []byte(b.cfg.Password),
	}
	if b.cfg.Username != "" {
		cp.UsernameFlag = true
	}
	if b.cfg.Password != "" {
		cp.PasswordFlag = true
	}

	ca, err := c.Connect(ctx, cp)
	if err != nil {
		tcpConn.Close()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	if ca.ReasonCode != 0 {
		tcpConn.Close()
		reason := ""
		if ca.Properties != nil {
			reason = ca.Properties.ReasonString
		}
		return fmt.Errorf("mqtt connect to %s refused: %d - %s", b.cfg.Broker, ca.ReasonCode, reason)
	}

	if err := b.attach(ctx, c); err != nil {
		_ = c.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return err
	}

	b.logger.Info("MQTT bridge connected",
		zap.String("broker", b.cfg.Broker),
		zap.String("prefix", b.cfg.TopicPrefix))
	return nil
}

// attach starts the worker and subscriptions on an established client.
func (b *Bridge) attach(ctx context.Context, c client) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	b.client = c
	b.queue = make(chan command, queueSize)
	b.wg.Add(1)
	go b.worker()

	if _, err := c.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: b.commandTopic() + "+", QoS: 1},
		},
	}); err != nil {
		close(b.queue)
		b.wg.Wait()
		return fmt.Errorf("mqtt subscribe: %w", err)
	}

	if b.registry != nil {
		b.unsubscribe = b.registry.Subscribe(b.onUpdate)
	}
	b.running = true
	return nil
}

// Stop unsubscribes from the registry, drains pending commands and
// disconnects.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	close(b.queue)
	b.mu.Unlock()

	b.wg.Wait()

	if err := b.client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		b.logger.Warn("MQTT disconnect failed", zap.Error(err))
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) onPublish(p *paho.Publish) {
	name, ok := strings.CutPrefix(p.Topic, b.commandTopic())
	if !ok || name == "" || strings.Contains(name, "/") {
		b.logger.Debug("Ignoring MQTT topic", zap.String("topic", p.Topic))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}

	select {
	case b.queue <- command{name: name, payload: string(p.Payload)}:
	default:
		b.logger.Warn("MQTT command queue full, dropping", zap.String("signal", name))
	}
}

func (b *Bridge) worker() {
	defer b.wg.Done()

	for cmd := range b.queue {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		if err := b.handler.HandleSignal(ctx, cmd.name, cmd.payload); err != nil {
			b.logger.Error("MQTT command failed", zap.String("signal", cmd.name), zap.Error(err))
		}
		cancel()
	}
}

type valueMessage struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

func (b *Bridge) onUpdate(u signal.Update) {
	variable, ok := strings.CutPrefix(u.Name, signal.ResultPrefix)
	if !ok || u.Name == signal.ReadCommand || strings.HasPrefix(u.Name, signal.WritePrefix) {
		return
	}

	payload, err := json.Marshal(valueMessage{Name: variable, Value: u.Value, Timestamp: u.Timestamp})
	if err != nil {
		b.logger.Warn("Cannot encode value", zap.String("signal", u.Name), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if _, err := b.client.Publish(ctx, &paho.Publish{
		Topic:   b.valueTopic() + variable,
		QoS:     0,
		Retain:  true,
		Payload: payload,
	}); err != nil {
		b.logger.Error("MQTT publish failed", zap.String("variable", variable), zap.Error(err))
	}
}
