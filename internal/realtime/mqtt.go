package realtime

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the MQTT 3.1.1 SUBACK return code for a refused topic.
const subackFailure = 0x80

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 3 * time.Second
)

// MQTTConfig configures the broker connection backing the push store.
type MQTTConfig struct {
	BrokerURL      string
	Username       string
	Password       string
	ClientIDPrefix string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// MQTT maps store paths onto MQTT topics. Retained messages hold the
// current value of a path.
type MQTT struct {
	client      mqtt.Client
	readTimeout time.Duration
	log         *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[int]subscriber
	last   map[string][]byte
	nextID int
}

func NewMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt broker url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	if isTLSBroker(cfg.BrokerURL) {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(randomClientID(cfg.ClientIDPrefix))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	// Handlers unsubscribe on permission errors; they must not block the router.
	opts.SetOrderMatters(false)

	m := &MQTT{
		readTimeout: readTimeout,
		log:         logger,
		subs:        make(map[string]map[int]subscriber),
		last:        make(map[string][]byte),
	}
	opts.SetDefaultPublishHandler(m.dispatch)
	opts.OnConnect = func(c mqtt.Client) {
		m.resubscribeAll(c)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.connectionLost(err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(connectTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	m.client = client
	return m, nil
}

func (m *MQTT) Subscribe(ctx context.Context, path string, onValue func([]byte), onError func(error)) (func(), error) {
	m.mu.Lock()
	if m.subs[path] == nil {
		m.subs[path] = make(map[int]subscriber)
	}
	id := m.nextID
	m.nextID++
	m.subs[path][id] = subscriber{onValue: onValue, onError: onError}
	needSubscribe := len(m.subs[path]) == 1
	m.mu.Unlock()

	if needSubscribe {
		token := m.client.Subscribe(path, 1, nil)
		if err := waitToken(ctx, token); err != nil {
			m.remove(path, id)
			return nil, fmt.Errorf("subscribe %s: %w", path, err)
		}
		if err := subackError(path, token); err != nil {
			m.remove(path, id)
			return nil, err
		}
		if err := token.Error(); err != nil {
			m.remove(path, id)
			return nil, fmt.Errorf("subscribe %s: %w", path, err)
		}
	}

	subscriptionsActive.WithLabelValues("mqtt").Inc()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.remove(path, id)
			subscriptionsActive.WithLabelValues("mqtt").Dec()
		})
	}, nil
}

func (m *MQTT) Get(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	if payload, ok := m.last[path]; ok && len(m.subs[path]) > 0 {
		m.mu.Unlock()
		return clone(payload), nil
	}
	m.mu.Unlock()

	readCtx, cancel := context.WithTimeout(ctx, m.readTimeout)
	defer cancel()

	valueCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	unsub, err := m.Subscribe(readCtx, path, func(payload []byte) {
		select {
		case valueCh <- payload:
		default:
		}
	}, func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer unsub()

	select {
	case payload := <-valueCh:
		return payload, nil
	case err := <-errCh:
		return nil, err
	case <-readCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// No retained message arrived in time.
		return nil, ErrNotFound
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.client != nil {
		m.client.Disconnect(250)
	}
}

func (m *MQTT) remove(path string, id int) {
	m.mu.Lock()
	callbacks := m.subs[path]
	if callbacks == nil {
		m.mu.Unlock()
		return
	}
	delete(callbacks, id)
	shouldUnsub := len(callbacks) == 0
	if shouldUnsub {
		delete(m.subs, path)
		delete(m.last, path)
	}
	m.mu.Unlock()
	if shouldUnsub && m.client != nil {
		if token := m.client.Unsubscribe(path); !token.WaitTimeout(m.readTimeout) {
			m.log.Debug("mqtt unsubscribe timed out", "path", path)
		}
	}
}

func (m *MQTT) dispatch(_ mqtt.Client, msg mqtt.Message) {
	payload := clone(msg.Payload())
	m.mu.Lock()
	callbacks := m.subs[msg.Topic()]
	if callbacks != nil {
		m.last[msg.Topic()] = payload
	}
	list := make([]subscriber, 0, len(callbacks))
	for _, sub := range callbacks {
		list = append(list, sub)
	}
	m.mu.Unlock()
	for _, sub := range list {
		if sub.onValue != nil {
			sub.onValue(payload)
		}
	}
}

// connectionLost reports a transient error to every listener. Paho
// reconnects and OnConnect resubscribes.
func (m *MQTT) connectionLost(err error) {
	m.log.Warn("mqtt connection lost", "error", err)
	m.broadcastError(fmt.Errorf("mqtt connection lost: %w", err))
}

func (m *MQTT) broadcastError(err error) {
	m.mu.Lock()
	var list []subscriber
	for _, callbacks := range m.subs {
		for _, sub := range callbacks {
			list = append(list, sub)
		}
	}
	m.mu.Unlock()
	for _, sub := range list {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

func (m *MQTT) resubscribeAll(client mqtt.Client) {
	m.mu.Lock()
	topics := make([]string, 0, len(m.subs))
	for topic := range m.subs {
		topics = append(topics, topic)
	}
	m.mu.Unlock()
	for _, topic := range topics {
		token := client.Subscribe(topic, 1, nil)
		if !token.WaitTimeout(m.readTimeout) {
			continue
		}
		if err := subackError(topic, token); err != nil {
			m.deny(topic, err)
		}
	}
}

// deny notifies every subscriber of a topic the broker refused on resubscribe.
func (m *MQTT) deny(topic string, err error) {
	m.mu.Lock()
	callbacks := m.subs[topic]
	list := make([]subscriber, 0, len(callbacks))
	for _, sub := range callbacks {
		list = append(list, sub)
	}
	m.mu.Unlock()
	for _, sub := range list {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return nil
	}
}

func subackError(path string, token mqtt.Token) error {
	st, ok := token.(*mqtt.SubscribeToken)
	if !ok {
		return nil
	}
	return subackResultError(path, st.Result())
}

// subackResultError maps the broker's 0x80 return code for path to
// ErrPermissionDenied.
func subackResultError(path string, results map[string]byte) error {
	if code, found := results[path]; found && code == subackFailure {
		return fmt.Errorf("subscribe %s: %w", path, ErrPermissionDenied)
	}
	return nil
}

func isTLSBroker(raw string) bool {
	for _, scheme := range []string{"ssl://", "tls://", "mqtts://", "wss://"} {
		if strings.HasPrefix(raw, scheme) {
			return true
		}
	}
	return false
}

func randomClientID(prefix string) string {
	if prefix == "" {
		prefix = "robofleet"
	}
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	return prefix + "-" + base64.RawURLEncoding.EncodeToString(nonce)
}

func clone(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// Connected reports whether the broker link is currently up.
func (m *MQTT) Connected() bool {
	return m.client != nil && m.client.IsConnectionOpen()
}
